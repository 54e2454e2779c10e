package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/smilelab/canon/internal/canonical"
	"github.com/smilelab/canon/internal/fsutil"
	"gonum.org/v1/gonum/spatial/r2"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultConfigMatchesExporterDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() is invalid: %v", err)
	}
	if diff := cmp.Diff(canonical.DefaultOptions(), cfg.Options()); diff != "" {
		t.Errorf("Options() mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	cfg := EmptyConfig()
	if diff := cmp.Diff(canonical.DefaultOptions(), cfg.Options()); diff != "" {
		t.Errorf("Options() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.GetLogLevel(); got != "info" {
		t.Errorf("GetLogLevel() = %q, want info", got)
	}
	if cfg.GetLedgerPath() != "" || cfg.GetPlotDir() != "" || cfg.GetLogFile() != "" {
		t.Error("side outputs should be disabled by default")
	}
	if cfg.GetPlotHTML() {
		t.Error("GetPlotHTML() = true, want false")
	}
}

func TestCheckedInDefaultsMatchDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("%s drifted from DefaultConfig() (-want +got):\n%s", DefaultConfigPath, diff)
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "test_config.json", `{
  "canonical_iris_x": 120,
  "canonical_iris_y": -40.5,
  "canonical_iris_distance": 63.5,
  "reference_label": "Pupil (R) x",
  "lateral_label": "Pupil (L) x",
  "markers": ["_out.csv"],
  "prefix_length": 5,
  "pairing": "prefix",
  "log_level": "debug"
}`)

	cfg, err := LoadConfig(fsutil.OSFileSystem{}, path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	opts := cfg.Options()
	want := canonical.Options{
		Target:       canonical.Target{IrisPosition: r2.Vec{X: 120, Y: -40.5}, IrisDistance: 63.5},
		Landmarks:    canonical.Landmarks{Reference: "Pupil (R) x", Lateral: "Pupil (L) x"},
		Markers:      []string{"_out.csv"},
		PrefixLength: 5,
		OutputSuffix: "_canon.csv",
		Pairing:      canonical.PairByPrefix,
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("Options() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.GetLogLevel(); got != "debug" {
		t.Errorf("GetLogLevel() = %q, want debug", got)
	}
}

func TestLoadConfigFromMemory(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	if err := mfs.WriteFile("/etc/canon/cfg.json", []byte(`{"prefix_length": 9, "plot_dir": "/plots"}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(mfs, "/etc/canon/cfg.json")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got := cfg.GetPrefixLength(); got != 9 {
		t.Errorf("GetPrefixLength() = %d, want 9", got)
	}
	if got := cfg.GetPlotDir(); got != "/plots" {
		t.Errorf("GetPlotDir() = %q, want /plots", got)
	}

	if _, err := LoadConfig(mfs, "/etc/canon/missing.json"); err == nil || !strings.Contains(err.Error(), "stat") {
		t.Errorf("expected stat error for missing file, got %v", err)
	}

	big := `{"log_file": "` + strings.Repeat("x", maxFileSize) + `"}`
	if err := mfs.WriteFile("/etc/canon/big.json", []byte(big), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(mfs, "/etc/canon/big.json"); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{name: "wrong extension", file: "cfg.yaml", body: `{}`, wantErr: ".json extension"},
		{name: "invalid json", file: "cfg.json", body: `{"canonical_iris_distance": "far"`, wantErr: "parse"},
		{name: "unknown field", file: "cfg.json", body: `{"iris_distance": 2}`, wantErr: "unknown field"},
		{name: "invalid value", file: "cfg.json", body: `{"canonical_iris_distance": 0}`, wantErr: "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(fsutil.OSFileSystem{}, writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigMissing(t *testing.T) {
	if _, err := LoadConfig(fsutil.OSFileSystem{}, "/nonexistent/path/to/config.json"); err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadConfigTooLarge(t *testing.T) {
	body := `{"log_file": "` + strings.Repeat("x", maxFileSize) + `"}`
	if _, err := LoadConfig(fsutil.OSFileSystem{}, writeConfig(t, "big.json", body)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "valid config", cfg: DefaultConfig()},
		{name: "empty config is valid", cfg: &Config{}},
		{name: "zero distance", cfg: &Config{CanonicalIrisDistance: ptrFloat64(0)}, wantErr: true},
		{name: "negative distance", cfg: &Config{CanonicalIrisDistance: ptrFloat64(-2)}, wantErr: true},
		{name: "negative origin is fine", cfg: &Config{CanonicalIrisX: ptrFloat64(-5), CanonicalIrisY: ptrFloat64(-5)}},
		{name: "empty reference label", cfg: &Config{ReferenceLabel: ptrString("")}, wantErr: true},
		{name: "identical anchors", cfg: &Config{ReferenceLabel: ptrString("a x"), LateralLabel: ptrString("a x")}, wantErr: true},
		{name: "empty markers list", cfg: &Config{Markers: []string{}}, wantErr: true},
		{name: "blank marker", cfg: &Config{Markers: []string{"_s_out.csv", ""}}, wantErr: true},
		{name: "zero prefix", cfg: &Config{PrefixLength: ptrInt(0)}, wantErr: true},
		{name: "suffix with separator", cfg: &Config{OutputSuffix: ptrString("/x.csv")}, wantErr: true},
		{name: "marker equals suffix", cfg: &Config{OutputSuffix: ptrString("_s_out.csv"), Markers: []string{"_s_out.csv"}}, wantErr: true},
		{name: "unknown pairing", cfg: &Config{Pairing: ptrString("fuzzy")}, wantErr: true},
		{name: "prefix pairing", cfg: &Config{Pairing: ptrString("prefix")}},
		{name: "unknown log level", cfg: &Config{LogLevel: ptrString("loud")}, wantErr: true},
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

func TestGetters(t *testing.T) {
	cfg := &Config{
		ReferenceLabel: ptrString(""),
		OutputSuffix:   ptrString(""),
		Pairing:        ptrString(""),
		LedgerPath:     ptrString("runs.db"),
		PlotDir:        ptrString("plots"),
		PlotHTML:       ptrBool(true),
	}

	if got := cfg.GetReferenceLabel(); got != canonical.DefaultReferenceLabel {
		t.Errorf("GetReferenceLabel() = %q, want default", got)
	}
	if got := cfg.GetOutputSuffix(); got != "_canon.csv" {
		t.Errorf("GetOutputSuffix() = %q, want _canon.csv", got)
	}
	if got := cfg.GetPairing(); got != canonical.PairByPosition {
		t.Errorf("GetPairing() = %q, want position", got)
	}
	if got := cfg.GetLedgerPath(); got != "runs.db" {
		t.Errorf("GetLedgerPath() = %q", got)
	}
	if got := cfg.GetPlotDir(); got != "plots" {
		t.Errorf("GetPlotDir() = %q", got)
	}
	if !cfg.GetPlotHTML() {
		t.Error("GetPlotHTML() = false, want true")
	}

	markers := DefaultConfig().GetMarkers()
	markers[0] = "mutated"
	if DefaultConfig().GetMarkers()[0] == "mutated" {
		t.Error("GetMarkers() must return a copy")
	}
}
