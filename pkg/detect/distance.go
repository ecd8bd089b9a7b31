package detect

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/hornwatch/pkg/feature"
)

// Metric selects the distance between two feature vectors.
type Metric string

const (
	// Manhattan is the sum of absolute per-bin differences (L1).
	Manhattan Metric = "manhattan"

	// Euclidean is the L2 distance.
	Euclidean Metric = "euclidean"
)

// IsValid reports whether m is a recognised metric.
func (m Metric) IsValid() bool {
	return m == Manhattan || m == Euclidean
}

// Distance returns the distance between a and b under m. Both vectors must
// have the same length.
func Distance(m Metric, a, b feature.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimension, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	switch m {
	case Euclidean:
		return floats.Distance(a, b, 2), nil
	case Manhattan, "":
		return floats.Distance(a, b, 1), nil
	default:
		return 0, fmt.Errorf("detect: unknown metric %q", m)
	}
}
