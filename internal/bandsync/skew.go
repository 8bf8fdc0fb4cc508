package bandsync

import (
	"math"
	"slices"

	timestats "github.com/cwbudde/algo-dsp/stats/time"
)

// Quality summarizes how stable the skew samples are.
type Quality int

const (
	QualityPoor Quality = iota
	QualityGood
	QualityExcellent
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	}
	return "poor"
}

func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *Quality) UnmarshalText(b []byte) error {
	*q = ParseQuality(string(b))
	return nil
}

// ParseQuality maps a wire string to a Quality. Unknown strings are poor.
func ParseQuality(s string) Quality {
	switch s {
	case "excellent":
		return QualityExcellent
	case "good":
		return QualityGood
	}
	return QualityPoor
}

const (
	MinSkewWindow = 8
	MaxSkewWindow = 16

	// madFloor only matters for a window of identical samples, where the
	// MAD is zero and any new reading would otherwise be an outlier.
	madFloor = 1e-6

	excellentStdDevMs = 3
	goodStdDevMs      = 7
)

// SkewEstimator turns noisy skew samples into a stable estimate: outliers
// beyond three median absolute deviations are rejected, the rest feed a
// bounded window and an EWMA, and the estimate blends the window median
// with the EWMA.
type SkewEstimator struct {
	size   int
	alpha  float64
	window []float64
	ewma   float64
	seeded bool

	rejected int // consecutive
}

// NewSkewEstimator creates an estimator. size is clamped to
// [MinSkewWindow, MaxSkewWindow]; alpha outside (0, 1] becomes 0.2.
func NewSkewEstimator(size int, alpha float64) *SkewEstimator {
	size = min(max(size, MinSkewWindow), MaxSkewWindow)
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	return &SkewEstimator{size: size, alpha: alpha, window: make([]float64, 0, size)}
}

// Add offers a sample in seconds and reports whether it was accepted.
// If the link genuinely shifts, half a window of consecutive rejections
// restarts the estimate from the new level.
func (e *SkewEstimator) Add(sample float64) bool {
	if len(e.window) >= 3 {
		med := median(e.window)
		mad := max(medianAbsDev(e.window, med), madFloor)
		if math.Abs(sample-med) > 3*mad {
			e.rejected++
			if e.rejected < e.size/2 {
				return false
			}
			e.window = e.window[:0]
			e.seeded = false
		}
	}
	e.rejected = 0

	if len(e.window) == e.size {
		copy(e.window, e.window[1:])
		e.window = e.window[:e.size-1]
	}
	e.window = append(e.window, sample)

	if !e.seeded {
		e.ewma = sample
		e.seeded = true
	} else {
		e.ewma = e.alpha*sample + (1-e.alpha)*e.ewma
	}
	return true
}

// Estimate returns the blended skew in seconds, or 0 before any sample.
func (e *SkewEstimator) Estimate() float64 {
	if len(e.window) == 0 {
		return 0
	}
	return (median(e.window) + e.ewma) / 2
}

// StdDev is the population standard deviation of the window in seconds.
func (e *SkewEstimator) StdDev() float64 {
	_, variance, _, _ := timestats.Moments(e.window)
	return math.Sqrt(variance)
}

// Quality classifies the window spread. Fewer than three samples is poor.
func (e *SkewEstimator) Quality() Quality {
	if len(e.window) < 3 {
		return QualityPoor
	}
	ms := e.StdDev() * 1000
	switch {
	case ms < excellentStdDevMs:
		return QualityExcellent
	case ms < goodStdDevMs:
		return QualityGood
	}
	return QualityPoor
}

// Len returns the number of samples in the window.
func (e *SkewEstimator) Len() int {
	return len(e.window)
}

func (e *SkewEstimator) Reset() {
	e.window = e.window[:0]
	e.seeded = false
	e.ewma = 0
	e.rejected = 0
}

func median(xs []float64) float64 {
	s := slices.Clone(xs)
	slices.Sort(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func medianAbsDev(xs []float64, med float64) float64 {
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	return median(dev)
}
