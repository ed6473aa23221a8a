package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		wantErr bool
	}{
		{"defaults", DefaultLoggingConfig(), false},
		{"empty", LoggingConfig{}, false},
		{"json format", LoggingConfig{Level: "debug", Format: "json"}, false},
		{"bad level", LoggingConfig{Level: "loud"}, true},
		{"bad format", LoggingConfig{Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	// Must not panic.
	m.RunStarted()
	m.RunCompleted("succeeded")
	m.UnitExecuted("completed", 0.1)
	m.PackageInstalled("cache")
	m.InstallAttempt("success", 1.0)

	if m.Handler() != nil {
		t.Error("expected nil handler when metrics are disabled")
	}
}

func TestMetricsExposition(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:   true,
		Namespace: "bootforge",
	})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RunStarted()
	m.UnitExecuted("completed", 0.2)
	m.PackageInstalled("cache")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"bootforge_runs_started_total 1",
		`bootforge_units_executed_total{status="completed"} 1`,
		`bootforge_packages_installed_total{source="cache"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics exposition missing %q", want)
		}
	}
}
