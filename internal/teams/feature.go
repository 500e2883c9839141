// Package teams turns per-frame jersey color descriptors into stable team
// labels. Clustering itself is delegated to a Clusterer so the package stays
// free of image-processing dependencies.
package teams

import "gonum.org/v1/gonum/floats"

const (
	// NumTeams is the number of clusters and anchors.
	NumTeams = 2
	// MaxAnchorFrames is the number of clustered frames that refine anchors
	// before they freeze.
	MaxAnchorFrames = 10
	// DefaultAnchorDecay weights the existing anchor in the EMA update.
	DefaultAnchorDecay = 0.9
)

// Feature is a CIELab color in OpenCV 8-bit scaling (L, a, b each 0..255).
type Feature [3]float64

// IsZero reports whether f is the "no usable pixels" sentinel.
func (f Feature) IsZero() bool {
	return f == Feature{}
}

// Distance is the Euclidean distance between two features.
func Distance(a, b Feature) float64 {
	return floats.Distance(a[:], b[:], 2)
}

// Confidence is the ratio of the distance to the feature's own center over
// the distance to the other center. Values near 1 mean the feature sits on
// the boundary between teams. A zero denominator yields 0.
func Confidence(f, own, other Feature) float64 {
	dOther := Distance(f, other)
	if dOther == 0 {
		return 0
	}
	return Distance(f, own) / dOther
}
