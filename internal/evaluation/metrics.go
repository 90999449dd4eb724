package evaluation

import (
	"math"
	"sort"
	"time"

	"github.com/lehigh-university-libraries/flattener/internal/geometry"
)

// DefaultTolerance is the per-corner error, in detector units, under which a
// detection counts as correct. 20 units is 2% of the image side.
const DefaultTolerance = 20.0

// Result is the outcome for one record.
type Result struct {
	ID             string
	ImagePath      string
	Predicted      []geometry.Point[geometry.Normalized]
	Errors         [4]float64
	MeanError      float64
	MaxError       float64
	ProcessingTime time.Duration
	Error          string // set when detection failed
}

// CornerErrors returns the Euclidean distance of each predicted corner from
// ground truth, both on the detector scale.
func CornerErrors(predicted []geometry.Point[geometry.Normalized], truth geometry.Quad[geometry.Normalized]) [4]float64 {
	var errs [4]float64
	for i := range truth {
		if i >= len(predicted) {
			errs[i] = math.Inf(1)
			continue
		}
		errs[i] = geometry.Distance(predicted[i], truth[i])
	}
	return errs
}

// Score fills the error fields of r from its prediction.
func (r *Result) Score(truth geometry.Quad[geometry.Normalized]) {
	r.Errors = CornerErrors(r.Predicted, truth)
	r.MeanError, r.MaxError = 0, 0
	for _, e := range r.Errors {
		r.MeanError += e / 4
		r.MaxError = math.Max(r.MaxError, e)
	}
}

// Summary aggregates results across a run.
type Summary struct {
	TotalRecords    int        `yaml:"totalrecords"`
	SuccessCount    int        `yaml:"successcount"`
	FailureCount    int        `yaml:"failurecount"`
	MeanCornerError float64    `yaml:"meancornererror"`
	MedianError     float64    `yaml:"medianerror"`
	MaxCornerError  float64    `yaml:"maxcornererror"`
	PerCornerMean   [4]float64 `yaml:"percornermean,flow"`
	Tolerance       float64    `yaml:"tolerance"`
	WithinTolerance int        `yaml:"withintolerance"`
	Accuracy        float64    `yaml:"accuracy"`
	AverageTime     string     `yaml:"averagetime"`
}

// Summarize aggregates results. A record is within tolerance when its worst
// corner is.
func Summarize(results []Result, tolerance float64) Summary {
	s := Summary{TotalRecords: len(results), Tolerance: tolerance}

	var (
		means []float64
		total time.Duration
	)
	for _, r := range results {
		total += r.ProcessingTime
		if r.Error != "" {
			s.FailureCount++
			continue
		}
		s.SuccessCount++
		means = append(means, r.MeanError)
		s.MeanCornerError += r.MeanError
		s.MaxCornerError = math.Max(s.MaxCornerError, r.MaxError)
		for i, e := range r.Errors {
			s.PerCornerMean[i] += e
		}
		if r.MaxError <= tolerance {
			s.WithinTolerance++
		}
	}

	if s.SuccessCount > 0 {
		n := float64(s.SuccessCount)
		s.MeanCornerError /= n
		for i := range s.PerCornerMean {
			s.PerCornerMean[i] /= n
		}
		s.MedianError = median(means)
	}
	if s.TotalRecords > 0 {
		s.Accuracy = float64(s.WithinTolerance) / float64(s.TotalRecords)
		s.AverageTime = (total / time.Duration(s.TotalRecords)).String()
	}
	return s
}

func median(v []float64) float64 {
	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
