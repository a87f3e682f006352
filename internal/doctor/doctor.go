// Package doctor runs a battery of local environment health checks:
// config and database paths, Docker availability, API key presence,
// required external commands, home and temp directory access, and a
// scan for accidentally-committed secrets in on-disk state files.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Status is the outcome of a single check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
	StatusSkip
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	case StatusSkip:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

// CheckResult is the outcome of one named check. FixHint is empty when
// there's nothing actionable to suggest.
type CheckResult struct {
	Name    string
	Status  Status
	Message string
	FixHint string
}

// Report aggregates every check run in one pass.
type Report struct {
	Checks     []CheckResult
	PassCount  int
	WarnCount  int
	FailCount  int
	SkipCount  int
}

// Healthy reports whether no check failed outright. Warnings and skips
// don't affect this.
func (r Report) Healthy() bool {
	return r.FailCount == 0
}

// Summary renders a one-line tally suitable for a CLI footer.
func (r Report) Summary() string {
	return fmt.Sprintf("%d passed, %d warnings, %d failed, %d skipped",
		r.PassCount, r.WarnCount, r.FailCount, r.SkipCount)
}

func tally(checks []CheckResult) Report {
	r := Report{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case StatusPass:
			r.PassCount++
		case StatusWarn:
			r.WarnCount++
		case StatusFail:
			r.FailCount++
		case StatusSkip:
			r.SkipCount++
		}
	}
	return r
}

// Options configures which paths and env vars the checks inspect.
type Options struct {
	ConfigPath   string // empty skips the config file check
	DBPath       string // empty skips the database directory check
	APIKeyEnvVar string // defaults to ANTHROPIC_API_KEY
	StateDir     string // directory scanned for leaked secrets, e.g. ~/.meepo
}

// Run executes every check in order and returns the aggregated report.
func Run(ctx context.Context, opts Options) Report {
	envVar := opts.APIKeyEnvVar
	if envVar == "" {
		envVar = "ANTHROPIC_API_KEY"
	}

	checks := []CheckResult{
		checkConfigFile(opts.ConfigPath),
		checkDatabaseDir(opts.DBPath),
		checkDocker(ctx),
		checkAPIKey(envVar),
		checkCommand(ctx, "git", []string{"--version"}, "Git"),
		checkHomeDir(),
		checkSecretLeaks(opts.StateDir),
		checkTempDir(),
	}
	return tally(checks)
}

func checkConfigFile(path string) CheckResult {
	const name = "config file"
	if path == "" {
		return CheckResult{Name: name, Status: StatusSkip, Message: "no config path given"}
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return CheckResult{
				Name:    name,
				Status:  StatusFail,
				Message: fmt.Sprintf("config file not found at %s", path),
				FixHint: fmt.Sprintf("Create a YAML config file at %s", path),
			}
		}
		return CheckResult{Name: name, Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{Name: name, Status: StatusPass, Message: fmt.Sprintf("found at %s", path)}
}

func checkDatabaseDir(dbPath string) CheckResult {
	const name = "database directory"
	if dbPath == "" {
		return CheckResult{Name: name, Status: StatusSkip, Message: "no database path given"}
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{
			Name:    name,
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
			FixHint: fmt.Sprintf("Run 'mkdir -p %s'", dir),
		}
	}
	return CheckResult{Name: name, Status: StatusPass, Message: fmt.Sprintf("%s is writable", dir)}
}

func checkDocker(ctx context.Context) CheckResult {
	const name = "docker"
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		if _, lookErr := exec.LookPath("docker"); lookErr != nil {
			return CheckResult{
				Name:    name,
				Status:  StatusWarn,
				Message: "docker is not installed",
				FixHint: "Install Docker if any skill needs containerized execution",
			}
		}
		return CheckResult{
			Name:    name,
			Status:  StatusWarn,
			Message: "docker is installed but not running",
			FixHint: "Start the Docker daemon",
		}
	}
	return CheckResult{Name: name, Status: StatusPass, Message: "docker is running"}
}

func checkAPIKey(envVar string) CheckResult {
	name := fmt.Sprintf("%s env var", envVar)
	val := os.Getenv(envVar)
	if val == "" {
		return CheckResult{
			Name:    name,
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not set", envVar),
			FixHint: fmt.Sprintf("export %s=...", envVar),
		}
	}
	return CheckResult{Name: name, Status: StatusPass, Message: fmt.Sprintf("set (%s)", maskSecret(val))}
}

func maskSecret(val string) string {
	if len(val) <= 8 {
		return "****"
	}
	return val[:4] + "..." + val[len(val)-4:]
}

func checkCommand(ctx context.Context, cmdName string, args []string, displayName string) CheckResult {
	name := displayName
	path, err := exec.LookPath(cmdName)
	if err != nil {
		return CheckResult{
			Name:    name,
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not found on PATH", cmdName),
			FixHint: fmt.Sprintf("Install %s", displayName),
		}
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, path, args...).CombinedOutput()
	if err != nil {
		return CheckResult{Name: name, Status: StatusWarn, Message: fmt.Sprintf("%s failed to run: %v", cmdName, err)}
	}
	return CheckResult{Name: name, Status: StatusPass, Message: strings.TrimSpace(string(out))}
}

func checkHomeDir() CheckResult {
	const name = "home directory"
	home, err := os.UserHomeDir()
	if err != nil {
		return CheckResult{Name: name, Status: StatusFail, Message: fmt.Sprintf("cannot determine home directory: %v", err)}
	}
	if _, err := os.Stat(home); err != nil {
		return CheckResult{Name: name, Status: StatusFail, Message: fmt.Sprintf("%s is not accessible: %v", home, err)}
	}
	return CheckResult{Name: name, Status: StatusPass, Message: home}
}

var secretMarkers = []string{"sk-", "key-", "Bearer "}

// checkSecretLeaks scans stateDir's JSON and YAML files for substrings
// commonly present in leaked API keys or bearer tokens. It never fails
// the overall report — at worst it warns with a redaction hint, since a
// false positive here shouldn't block startup.
func checkSecretLeaks(stateDir string) CheckResult {
	const name = "secret leak scan"
	if stateDir == "" {
		return CheckResult{Name: name, Status: StatusSkip, Message: "no state directory configured"}
	}
	if _, err := os.Stat(stateDir); err != nil {
		return CheckResult{Name: name, Status: StatusPass, Message: "state directory does not exist yet"}
	}

	var hits []string
	_ = filepath.WalkDir(stateDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		for _, marker := range secretMarkers {
			if strings.Contains(string(content), marker) {
				hits = append(hits, path)
				break
			}
		}
		return nil
	})

	if len(hits) == 0 {
		return CheckResult{Name: name, Status: StatusPass, Message: "no leaked secrets found"}
	}
	return CheckResult{
		Name:    name,
		Status:  StatusWarn,
		Message: fmt.Sprintf("possible secrets found in %d file(s): %s", len(hits), strings.Join(hits, ", ")),
		FixHint: "Remove or redact the secrets in the listed files",
	}
}

func checkTempDir() CheckResult {
	const name = "temp directory"
	dir := os.TempDir()
	f, err := os.CreateTemp(dir, "meepo-doctor-*")
	if err != nil {
		return CheckResult{Name: name, Status: StatusFail, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	path := f.Name()
	_ = f.Close()
	_ = os.Remove(path)
	return CheckResult{Name: name, Status: StatusPass, Message: fmt.Sprintf("%s is writable", dir)}
}
