package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smilelab/canon/internal/canonical"
	"github.com/smilelab/canon/internal/fsutil"
	"github.com/smilelab/canon/internal/landmark"
	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultConfigPath is the path to the checked-in defaults file.
const DefaultConfigPath = "config/canon.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

var validate = validator.New()

// Config is the root configuration of a canonical export run. Every field is
// optional; the Get* methods fall back to the built-in defaults so partial
// files are safe.
type Config struct {
	// Canonical space
	CanonicalIrisX        *float64 `json:"canonical_iris_x,omitempty"`
	CanonicalIrisY        *float64 `json:"canonical_iris_y,omitempty"`
	CanonicalIrisDistance *float64 `json:"canonical_iris_distance,omitempty" validate:"omitempty,gt=0"`

	// Anchor landmarks (x-column header labels)
	ReferenceLabel *string `json:"reference_label,omitempty" validate:"omitempty,min=1"`
	LateralLabel   *string `json:"lateral_label,omitempty" validate:"omitempty,min=1"`

	// File selection and naming
	Markers      []string `json:"markers,omitempty" validate:"omitempty,min=1,dive,required"`
	PrefixLength *int     `json:"prefix_length,omitempty" validate:"omitempty,min=1,max=255"`
	OutputSuffix *string  `json:"output_suffix,omitempty" validate:"omitempty,min=1"`
	Pairing      *string  `json:"pairing,omitempty" validate:"omitempty,oneof=position prefix"`

	// Side outputs
	LedgerPath *string `json:"ledger_path,omitempty"`
	PlotDir    *string `json:"plot_dir,omitempty"`
	PlotHTML   *bool   `json:"plot_html,omitempty"`

	// Logging
	LogLevel *string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	LogFile  *string `json:"log_file,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyConfig returns a Config with every field unset.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	opts := canonical.DefaultOptions()
	return &Config{
		CanonicalIrisX:        ptrFloat64(opts.Target.IrisPosition.X),
		CanonicalIrisY:        ptrFloat64(opts.Target.IrisPosition.Y),
		CanonicalIrisDistance: ptrFloat64(opts.Target.IrisDistance),
		ReferenceLabel:        ptrString(string(opts.Landmarks.Reference)),
		LateralLabel:          ptrString(string(opts.Landmarks.Lateral)),
		Markers:               append([]string(nil), opts.Markers...),
		PrefixLength:          ptrInt(opts.PrefixLength),
		OutputSuffix:          ptrString(opts.OutputSuffix),
		Pairing:               ptrString(string(opts.Pairing)),
		LedgerPath:            ptrString(""),
		PlotDir:               ptrString(""),
		PlotHTML:              ptrBool(false),
		LogLevel:              ptrString("info"),
		LogFile:               ptrString(""),
	}
}

// LoadConfig loads a Config from a JSON file read through fsys. The path
// must have a .json extension and the file must be under 1MB. Unknown
// fields are rejected.
func LoadConfig(fsys fsutil.FileSystem, path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(fsutil.OSFileSystem{}, path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.OutputSuffix != nil && strings.ContainsAny(*c.OutputSuffix, `/\`) {
		return fmt.Errorf("output_suffix must be a file name suffix, got %q", *c.OutputSuffix)
	}

	if c.ReferenceLabel != nil && c.LateralLabel != nil && *c.ReferenceLabel == *c.LateralLabel {
		return fmt.Errorf("reference_label and lateral_label must differ, both are %q", *c.ReferenceLabel)
	}

	// A marker equal to the output suffix would pair previous outputs.
	if c.OutputSuffix != nil {
		for _, m := range c.Markers {
			if m == *c.OutputSuffix {
				return fmt.Errorf("marker %q collides with output_suffix", m)
			}
		}
	}

	return nil
}

// GetIrisPosition returns the canonical reference position or the origin.
func (c *Config) GetIrisPosition() r2.Vec {
	var p r2.Vec
	if c.CanonicalIrisX != nil {
		p.X = *c.CanonicalIrisX
	}
	if c.CanonicalIrisY != nil {
		p.Y = *c.CanonicalIrisY
	}
	return p
}

// GetIrisDistance returns the canonical reference-to-lateral distance.
func (c *Config) GetIrisDistance() float64 {
	if c.CanonicalIrisDistance == nil {
		return 1.0
	}
	return *c.CanonicalIrisDistance
}

// GetReferenceLabel returns the reference landmark label or the default.
func (c *Config) GetReferenceLabel() landmark.Label {
	if c.ReferenceLabel == nil || *c.ReferenceLabel == "" {
		return canonical.DefaultReferenceLabel
	}
	return landmark.Label(*c.ReferenceLabel)
}

// GetLateralLabel returns the lateral landmark label or the default.
func (c *Config) GetLateralLabel() landmark.Label {
	if c.LateralLabel == nil || *c.LateralLabel == "" {
		return canonical.DefaultLateralLabel
	}
	return landmark.Label(*c.LateralLabel)
}

// GetMarkers returns the eligibility markers or the default pair.
func (c *Config) GetMarkers() []string {
	if len(c.Markers) == 0 {
		return canonical.DefaultOptions().Markers
	}
	return append([]string(nil), c.Markers...)
}

// GetPrefixLength returns the output name prefix length or the default.
func (c *Config) GetPrefixLength() int {
	if c.PrefixLength == nil {
		return 7
	}
	return *c.PrefixLength
}

// GetOutputSuffix returns the output file suffix or the default.
func (c *Config) GetOutputSuffix() string {
	if c.OutputSuffix == nil || *c.OutputSuffix == "" {
		return "_canon.csv"
	}
	return *c.OutputSuffix
}

// GetPairing returns the pairing mode or the default.
func (c *Config) GetPairing() canonical.PairingMode {
	if c.Pairing == nil || *c.Pairing == "" {
		return canonical.PairByPosition
	}
	return canonical.PairingMode(*c.Pairing)
}

// GetLedgerPath returns the sqlite ledger path; empty disables the ledger.
func (c *Config) GetLedgerPath() string {
	if c.LedgerPath == nil {
		return ""
	}
	return *c.LedgerPath
}

// GetPlotDir returns the preview directory; empty disables previews.
func (c *Config) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}

// GetPlotHTML reports whether HTML previews are written next to PNGs.
func (c *Config) GetPlotHTML() bool {
	if c.PlotHTML == nil {
		return false
	}
	return *c.PlotHTML
}

// GetLogLevel returns the log level or "info".
func (c *Config) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

// GetLogFile returns the rotating log file path; empty logs to stderr only.
func (c *Config) GetLogFile() string {
	if c.LogFile == nil {
		return ""
	}
	return *c.LogFile
}

// Options converts the configuration into exporter options.
func (c *Config) Options() canonical.Options {
	return canonical.Options{
		Target: canonical.Target{
			IrisPosition: c.GetIrisPosition(),
			IrisDistance: c.GetIrisDistance(),
		},
		Landmarks: canonical.Landmarks{
			Reference: c.GetReferenceLabel(),
			Lateral:   c.GetLateralLabel(),
		},
		Markers:      c.GetMarkers(),
		PrefixLength: c.GetPrefixLength(),
		OutputSuffix: c.GetOutputSuffix(),
		Pairing:      c.GetPairing(),
	}
}
