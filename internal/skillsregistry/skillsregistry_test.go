package skillsregistry

import (
	"path/filepath"
	"testing"
)

func testPackage(name string) SkillPackage {
	return SkillPackage{
		Name:        name,
		Version:     "1.0.0",
		Description: "Test skill: " + name,
		Author:      "test",
		Tags:        []string{"test"},
		Tools:       []string{"tool_a"},
	}
}

func TestRegistryNew(t *testing.T) {
	r := New(t.TempDir())
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}
}

func TestInstallAndList(t *testing.T) {
	r := New(t.TempDir())
	if err := r.Install(testPackage("weather")); err != nil {
		t.Fatal(err)
	}
	if err := r.Install(testPackage("calendar")); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 2 {
		t.Fatalf("count = %d, want 2", r.Count())
	}
	if _, ok := r.Get("weather"); !ok {
		t.Fatal("expected weather to be installed")
	}
	if _, ok := r.Get("calendar"); !ok {
		t.Fatal("expected calendar to be installed")
	}
}

func TestUninstall(t *testing.T) {
	r := New(t.TempDir())
	if err := r.Install(testPackage("weather")); err != nil {
		t.Fatal(err)
	}
	if err := r.Uninstall("weather"); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}
}

func TestUninstallNonexistent(t *testing.T) {
	r := New(t.TempDir())
	if err := r.Uninstall("nonexistent"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDisableEnable(t *testing.T) {
	r := New(t.TempDir())
	if err := r.Install(testPackage("weather")); err != nil {
		t.Fatal(err)
	}
	if len(r.ListActive()) != 1 {
		t.Fatal("expected 1 active skill")
	}

	if err := r.Disable("weather"); err != nil {
		t.Fatal(err)
	}
	if len(r.ListActive()) != 0 {
		t.Fatal("expected 0 active skills after disable")
	}
	s, _ := r.Get("weather")
	if s.Status != StatusDisabled {
		t.Fatalf("status = %v, want Disabled", s.Status)
	}

	if err := r.Enable("weather"); err != nil {
		t.Fatal(err)
	}
	if len(r.ListActive()) != 1 {
		t.Fatal("expected 1 active skill after enable")
	}
}

func TestSearchByTag(t *testing.T) {
	r := New(t.TempDir())
	pkg := testPackage("weather")
	pkg.Tags = []string{"utility", "api"}
	if err := r.Install(pkg); err != nil {
		t.Fatal(err)
	}

	pkg2 := testPackage("calendar")
	pkg2.Tags = []string{"productivity"}
	if err := r.Install(pkg2); err != nil {
		t.Fatal(err)
	}

	if len(r.SearchByTag("utility")) != 1 {
		t.Fatal("expected 1 match for utility")
	}
	if len(r.SearchByTag("productivity")) != 1 {
		t.Fatal("expected 1 match for productivity")
	}
	if len(r.SearchByTag("nonexistent")) != 0 {
		t.Fatal("expected 0 matches for nonexistent")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	r := New(dir)
	if err := r.Install(testPackage("weather")); err != nil {
		t.Fatal(err)
	}
	if err := r.Install(testPackage("calendar")); err != nil {
		t.Fatal(err)
	}

	r2 := New(dir)
	if err := r2.Load(); err != nil {
		t.Fatal(err)
	}
	if r2.Count() != 2 {
		t.Fatalf("count = %d, want 2", r2.Count())
	}
	if _, ok := r2.Get("weather"); !ok {
		t.Fatal("expected weather to survive reload")
	}
}

func TestInstallInvalidName(t *testing.T) {
	r := New(t.TempDir())

	pkg := testPackage("test")
	pkg.Name = "../etc/passwd"
	if err := r.Install(pkg); err == nil {
		t.Fatal("expected error for path-traversal name")
	}

	pkg2 := testPackage("test")
	pkg2.Name = ""
	if err := r.Install(pkg2); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestLoadCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "skills")
	r := New(dir)
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 0 {
		t.Fatalf("count = %d, want 0", r.Count())
	}
}
