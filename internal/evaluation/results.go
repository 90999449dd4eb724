package evaluation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
)

// EvalConfig represents the configuration section of the eval YAML
type EvalConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"topp"`
	MaxDim      int     `yaml:"maxdim"`
	DatasetPath string  `yaml:"datasetpath"`
	SampleSize  int     `yaml:"samplesize"`
	Timestamp   string  `yaml:"timestamp"`
}

// EvalResult represents a single evaluation result
type EvalResult struct {
	Identifier string       `yaml:"identifier"`
	ImagePath  string       `yaml:"imagepath"`
	Predicted  [][2]float64 `yaml:"predicted,omitempty,flow"`
	Errors     []float64    `yaml:"errors,omitempty,flow"`
	MeanError  float64      `yaml:"meanerror"`
	MaxError   float64      `yaml:"maxerror"`
	Duration   string       `yaml:"duration"`
	Error      string       `yaml:"error,omitempty"`
}

// EvalSpec represents the complete evaluation specification
type EvalSpec struct {
	Config  EvalConfig   `yaml:"config"`
	Summary Summary      `yaml:"summary"`
	Results []EvalResult `yaml:"results"`
}

// NewSpec assembles the YAML document for a run.
func NewSpec(cfg EvalConfig, results []Result, tolerance float64) EvalSpec {
	if cfg.Timestamp == "" {
		cfg.Timestamp = time.Now().Format("2006-01-02_15-04-05")
	}
	spec := EvalSpec{
		Config:  cfg,
		Summary: Summarize(results, tolerance),
		Results: make([]EvalResult, 0, len(results)),
	}
	for _, r := range results {
		er := EvalResult{
			Identifier: r.ID,
			ImagePath:  r.ImagePath,
			Duration:   r.ProcessingTime.String(),
			Error:      r.Error,
		}
		if r.Error == "" {
			er.Predicted = pairs(r.Predicted)
			er.Errors = r.Errors[:]
			er.MeanError = r.MeanError
			er.MaxError = r.MaxError
		}
		spec.Results = append(spec.Results, er)
	}
	return spec
}

func pairs(points []geometry.Point[geometry.Normalized]) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.X, p.Y}
	}
	return out
}

// SaveToYAML writes spec under dir and returns the file path.
func SaveToYAML(dir string, spec EvalSpec) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	model := strings.NewReplacer("/", "_", ":", "_").Replace(spec.Config.Model)
	if model == "" {
		model = spec.Config.Provider
	}
	filename := filepath.Join(dir, fmt.Sprintf("%s-%s.yaml", model, spec.Config.Timestamp))

	data, err := yaml.Marshal(&spec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write YAML file: %w", err)
	}
	return filename, nil
}
