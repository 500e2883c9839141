package teams

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Anchors are the persistent per-team reference colors. They are seeded from
// the first clustered frame, blended toward each frame's centers during
// warm-up and frozen afterwards.
type Anchors struct {
	centers   [NumTeams]Feature
	count     int
	maxFrames int
	decay     float64
}

// NewAnchors returns unseeded anchors. A non-positive maxFrames falls back to
// MaxAnchorFrames and a decay outside [0,1] to DefaultAnchorDecay. A decay of
// 0 makes each warm-up frame replace the anchors outright.
func NewAnchors(maxFrames int, decay float64) *Anchors {
	if maxFrames <= 0 {
		maxFrames = MaxAnchorFrames
	}
	if decay < 0 || decay > 1 {
		decay = DefaultAnchorDecay
	}
	return &Anchors{maxFrames: maxFrames, decay: decay}
}

// Update folds one frame's cluster centers into the anchors. Center i blends
// into anchor i; nothing changes once the warm-up budget is spent.
func (a *Anchors) Update(centers [NumTeams]Feature) {
	if a.Frozen() {
		return
	}
	if a.count == 0 {
		a.centers = centers
	} else {
		for i := range a.centers {
			floats.Scale(a.decay, a.centers[i][:])
			floats.AddScaled(a.centers[i][:], 1-a.decay, centers[i][:])
		}
	}
	a.count++
}

// Frozen reports whether warm-up is over.
func (a *Anchors) Frozen() bool { return a.count >= a.maxFrames }

// Seeded reports whether at least one frame has been folded in.
func (a *Anchors) Seeded() bool { return a.count > 0 }

// Count is the number of frames folded in so far, capped at the warm-up budget.
func (a *Anchors) Count() int { return a.count }

// Centers returns a copy of the current anchor colors.
func (a *Anchors) Centers() [NumTeams]Feature { return a.centers }

// MapClusters binds each cluster to a team: team 0 takes the nearest cluster,
// team 1 the nearest remaining one. The result is indexed by cluster and is a
// permutation of 0..NumTeams-1.
//
// Greedy in team order; with more than two teams a minimum-cost assignment
// would be required to stay optimal.
func MapClusters(anchors, centers [NumTeams]Feature) [NumTeams]int {
	var teamOf [NumTeams]int
	var bound [NumTeams]bool
	for team := 0; team < NumTeams; team++ {
		best, bestDist := -1, math.Inf(1)
		for c := 0; c < NumTeams; c++ {
			if bound[c] {
				continue
			}
			if d := Distance(anchors[team], centers[c]); d < bestDist {
				best, bestDist = c, d
			}
		}
		if best < 0 {
			// NaN distances; take the first free cluster so the mapping stays a bijection.
			for c := 0; c < NumTeams; c++ {
				if !bound[c] {
					best = c
					break
				}
			}
		}
		bound[best] = true
		teamOf[best] = team
	}
	return teamOf
}
