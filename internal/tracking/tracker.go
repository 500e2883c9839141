// Package tracking keeps short-term player identities across frames and uses
// them to smooth uncertain team labels.
package tracking

import (
	"image"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultMatchDistance = 50.0
	DefaultOverrideRatio = 0.7
)

// Track is a player identity as last seen.
type Track struct {
	ID   int
	Box  image.Rectangle
	Team int
}

// Detection is one classified box of the current frame.
type Detection struct {
	Box        image.Rectangle
	Team       int
	Confidence float64
}

// Assignment is the tracker's verdict for one detection.
type Assignment struct {
	TrackID int
	Team    int
	// Created is set when no previous track was close enough.
	Created bool
	// Overridden is set when the previous label replaced the fresh one.
	Overridden bool
}

// Tracker matches detections to the previous frame's tracks by nearest box
// center. It only remembers the immediately previous frame: a player missing
// for one frame gets a new ID. Not safe for concurrent use.
type Tracker struct {
	matchDistance float64
	overrideRatio float64

	tracks map[int]Track
	ids    []int // sorted keys of tracks
	nextID int
}

// New returns an empty tracker. Non-positive arguments select the defaults.
func New(matchDistance, overrideRatio float64) *Tracker {
	if matchDistance <= 0 {
		matchDistance = DefaultMatchDistance
	}
	if overrideRatio <= 0 {
		overrideRatio = DefaultOverrideRatio
	}
	return &Tracker{
		matchDistance: matchDistance,
		overrideRatio: overrideRatio,
		tracks:        make(map[int]Track),
	}
}

// Update assigns track IDs to dets in order and replaces the track table with
// this frame's matches and new tracks. When two detections match the same
// track, the later one wins.
func (t *Tracker) Update(dets []Detection) []Assignment {
	out := make([]Assignment, len(dets))
	next := make(map[int]Track, len(dets))

	for i, d := range dets {
		team := d.Team
		id, ok := t.closest(d.Box)
		if ok {
			prev := t.tracks[id]
			if d.Confidence > t.overrideRatio && prev.Team != team {
				team = prev.Team
				out[i].Overridden = true
			}
		} else {
			id = t.nextID
			t.nextID++
			out[i].Created = true
		}
		out[i].TrackID = id
		out[i].Team = team
		next[id] = Track{ID: id, Box: d.Box, Team: team}
	}

	t.tracks = next
	t.ids = t.ids[:0]
	for id := range next {
		t.ids = append(t.ids, id)
	}
	sort.Ints(t.ids)
	return out
}

// closest scans tracks in ascending ID order so ties resolve to the lowest ID.
func (t *Tracker) closest(box image.Rectangle) (int, bool) {
	c := center(box)
	best, bestDist := -1, t.matchDistance
	for _, id := range t.ids {
		p := center(t.tracks[id].Box)
		if d := floats.Distance(c[:], p[:], 2); d < bestDist {
			best, bestDist = id, d
		}
	}
	return best, best >= 0
}

func center(r image.Rectangle) [2]float64 {
	return [2]float64{
		float64(r.Min.X+r.Max.X) / 2,
		float64(r.Min.Y+r.Max.Y) / 2,
	}
}

// Tracks returns the current table ordered by ID.
func (t *Tracker) Tracks() []Track {
	out := make([]Track, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.tracks[id])
	}
	return out
}

// NextID is the ID the next new track will receive.
func (t *Tracker) NextID() int { return t.nextID }

// Reset forgets every track but keeps the ID counter monotonic.
func (t *Tracker) Reset() {
	t.tracks = make(map[int]Track)
	t.ids = t.ids[:0]
}
