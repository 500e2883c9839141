package teams

import (
	"errors"
	"fmt"
)

// ErrTooFewDetections is returned when a frame has fewer features than teams.
// Callers treat it as an empty classification, not a failure.
var ErrTooFewDetections = errors.New("teams: fewer detections than teams")

// Clusterer partitions features into k groups, returning one label per
// feature and k centers.
type Clusterer interface {
	Cluster(features []Feature, k int) (labels []int, centers []Feature, err error)
}

// Result is the classification of one frame. Cluster indices are only
// meaningful within this frame.
type Result struct {
	Labels  []int
	Centers [NumTeams]Feature
	TeamOf  [NumTeams]int

	features []Feature
}

// Len is the number of classified features.
func (r *Result) Len() int { return len(r.Labels) }

// Team is the anchor-mapped team of feature i.
func (r *Result) Team(i int) int { return r.TeamOf[r.Labels[i]] }

// Confidence of feature i; see Confidence.
func (r *Result) Confidence(i int) float64 {
	own := r.Labels[i]
	return Confidence(r.features[i], r.Centers[own], r.Centers[1-own])
}

// Classifier assigns teams to the features of a single frame, using the
// caller's anchors for cross-frame stability.
type Classifier struct {
	clusterer Clusterer
}

func NewClassifier(c Clusterer) *Classifier {
	return &Classifier{clusterer: c}
}

// Classify clusters features, updates anchors while they are warming up and
// maps clusters to teams.
func (c *Classifier) Classify(anchors *Anchors, features []Feature) (*Result, error) {
	if len(features) < NumTeams {
		return nil, ErrTooFewDetections
	}

	labels, centers, err := c.clusterer.Cluster(features, NumTeams)
	if err != nil {
		return nil, fmt.Errorf("cluster features: %w", err)
	}
	if len(labels) != len(features) || len(centers) != NumTeams {
		return nil, fmt.Errorf("cluster features: got %d labels and %d centers for %d features",
			len(labels), len(centers), len(features))
	}
	for i, l := range labels {
		if l < 0 || l >= NumTeams {
			return nil, fmt.Errorf("cluster features: label %d of feature %d out of range", l, i)
		}
	}

	res := &Result{Labels: labels, features: features}
	copy(res.Centers[:], centers)

	anchors.Update(res.Centers)
	res.TeamOf = MapClusters(anchors.Centers(), res.Centers)
	return res, nil
}
