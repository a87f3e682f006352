package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.MessagesTotal.WithLabelValues("telegram", "inbound").Inc()
	m.ToolExecutionsTotal.WithLabelValues("echo", "success").Inc()
	m.ActiveSessions.WithLabelValues("main").Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}

	var found bool
	for _, fam := range families {
		if fam.GetName() == "meepo_messages_total" {
			found = true
			if len(fam.Metric) != 1 {
				t.Fatalf("expected 1 sample, got %d", len(fam.Metric))
			}
			if fam.Metric[0].GetCounter().GetValue() != 1 {
				t.Fatalf("expected counter value 1, got %v", fam.Metric[0].GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Fatal("expected meepo_messages_total to be registered")
	}
}

func TestMetricsAreIsolatedPerRegistry(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	m1 := NewMetrics(reg1)
	_ = NewMetrics(reg2)

	m1.RateLimitDropsTotal.WithLabelValues("discord").Inc()

	families, err := reg2.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, fam := range families {
		if fam.GetName() == "meepo_rate_limit_drops_total" {
			for _, metric := range fam.Metric {
				if metric.GetCounter().GetValue() != 0 {
					t.Fatal("expected reg2's counter to be unaffected by reg1's increment")
				}
			}
		}
	}
}
