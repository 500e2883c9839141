package teams

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red  = Feature{110, 190, 180}
	blue = Feature{60, 195, 40}
)

// stubClusterer returns canned output and records the calls it received.
type stubClusterer struct {
	labels  []int
	centers []Feature
	err     error
	calls   int
}

func (s *stubClusterer) Cluster(features []Feature, k int) ([]int, []Feature, error) {
	s.calls++
	return s.labels, s.centers, s.err
}

func TestDistanceAndConfidence(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 5.0, Distance(Feature{0, 0, 0}, Feature{3, 4, 0}), 1e-9)
	assert.Zero(t, Distance(red, red))

	t.Run("on own center", func(t *testing.T) {
		assert.Zero(t, Confidence(red, red, blue))
	})
	t.Run("zero denominator", func(t *testing.T) {
		assert.Zero(t, Confidence(blue, red, blue))
	})
	t.Run("midpoint", func(t *testing.T) {
		mid := Feature{(red[0] + blue[0]) / 2, (red[1] + blue[1]) / 2, (red[2] + blue[2]) / 2}
		assert.InDelta(t, 1.0, Confidence(mid, red, blue), 1e-9)
	})
	t.Run("never negative", func(t *testing.T) {
		for _, f := range []Feature{{}, red, blue, {255, 255, 255}, {1, 2, 3}} {
			assert.GreaterOrEqual(t, Confidence(f, red, blue), 0.0)
		}
	})
}

func TestFeatureIsZero(t *testing.T) {
	assert.True(t, Feature{}.IsZero())
	assert.False(t, Feature{0, 0, 1}.IsZero())
}

func TestAnchorsSeedBlendFreeze(t *testing.T) {
	a := NewAnchors(MaxAnchorFrames, DefaultAnchorDecay)
	assert.False(t, a.Seeded())

	a.Update([NumTeams]Feature{{100, 100, 100}, {0, 0, 0}})
	assert.True(t, a.Seeded())
	assert.Equal(t, [NumTeams]Feature{{100, 100, 100}, {0, 0, 0}}, a.Centers())

	a.Update([NumTeams]Feature{{200, 100, 0}, {10, 20, 30}})
	got := a.Centers()
	assert.InDeltaSlice(t, []float64{110, 100, 90}, got[0][:], 1e-9)
	assert.InDeltaSlice(t, []float64{1, 2, 3}, got[1][:], 1e-9)

	for i := 0; i < 20; i++ {
		a.Update([NumTeams]Feature{{255, 255, 255}, {255, 255, 255}})
		assert.Len(t, a.Centers(), NumTeams)
	}
	assert.True(t, a.Frozen())
	assert.Equal(t, MaxAnchorFrames, a.Count())

	frozen := a.Centers()
	a.Update([NumTeams]Feature{{0, 0, 0}, {0, 0, 0}})
	assert.Equal(t, frozen, a.Centers())
}

func TestNewAnchorsDefaults(t *testing.T) {
	a := NewAnchors(0, -1)
	for i := 0; i < MaxAnchorFrames-1; i++ {
		a.Update([NumTeams]Feature{red, blue})
	}
	assert.False(t, a.Frozen())
	a.Update([NumTeams]Feature{red, blue})
	assert.True(t, a.Frozen())
}

func TestAnchorsZeroDecayFollowsLatest(t *testing.T) {
	a := NewAnchors(3, 0)
	a.Update([NumTeams]Feature{red, blue})
	a.Update([NumTeams]Feature{blue, red})
	assert.Equal(t, [NumTeams]Feature{blue, red}, a.Centers())
}

func TestMapClusters(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		anchors [NumTeams]Feature
		centers [NumTeams]Feature
		want    [NumTeams]int
	}{
		{"aligned", [NumTeams]Feature{red, blue}, [NumTeams]Feature{red, blue}, [NumTeams]int{0, 1}},
		{"swapped", [NumTeams]Feature{red, blue}, [NumTeams]Feature{blue, red}, [NumTeams]int{1, 0}},
		{"drifted", [NumTeams]Feature{red, blue}, [NumTeams]Feature{{65, 190, 45}, {105, 188, 175}}, [NumTeams]int{1, 0}},
		{"identical centers", [NumTeams]Feature{red, blue}, [NumTeams]Feature{red, red}, [NumTeams]int{0, 1}},
		{"both nearest one cluster", [NumTeams]Feature{{0, 0, 0}, {1, 1, 1}}, [NumTeams]Feature{{200, 200, 200}, {2, 2, 2}}, [NumTeams]int{1, 0}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := MapClusters(tt.anchors, tt.centers)
			assert.Equal(t, tt.want, got)
			assert.ElementsMatch(t, []int{0, 1}, got[:])
		})
	}
}

func TestClassifyTooFew(t *testing.T) {
	stub := &stubClusterer{}
	c := NewClassifier(stub)
	anchors := NewAnchors(MaxAnchorFrames, DefaultAnchorDecay)

	for _, fs := range [][]Feature{nil, {red}} {
		res, err := c.Classify(anchors, fs)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrTooFewDetections)
	}
	assert.Zero(t, stub.calls)
	assert.False(t, anchors.Seeded())
}

func TestClassifyMalformedClusterOutput(t *testing.T) {
	tests := []struct {
		name string
		stub *stubClusterer
	}{
		{"error", &stubClusterer{err: errors.New("boom")}},
		{"short labels", &stubClusterer{labels: []int{0}, centers: []Feature{red, blue}}},
		{"one center", &stubClusterer{labels: []int{0, 0}, centers: []Feature{red}}},
		{"label out of range", &stubClusterer{labels: []int{0, 2}, centers: []Feature{red, blue}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anchors := NewAnchors(MaxAnchorFrames, DefaultAnchorDecay)
			_, err := NewClassifier(tt.stub).Classify(anchors, []Feature{red, blue})
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrTooFewDetections)
			assert.False(t, anchors.Seeded())
		})
	}
}

func TestClassifyStableAcrossClusterSwap(t *testing.T) {
	anchors := NewAnchors(MaxAnchorFrames, DefaultAnchorDecay)
	features := []Feature{red, blue, red}

	first := &stubClusterer{labels: []int{0, 1, 0}, centers: []Feature{red, blue}}
	res, err := NewClassifier(first).Classify(anchors, features)
	require.NoError(t, err)
	require.Equal(t, 3, res.Len())
	redTeam, blueTeam := res.Team(0), res.Team(1)
	assert.NotEqual(t, redTeam, blueTeam)
	assert.Equal(t, redTeam, res.Team(2))
	assert.Zero(t, res.Confidence(0))

	// Same colors, cluster indices flipped by the clusterer.
	second := &stubClusterer{labels: []int{1, 0, 1}, centers: []Feature{blue, red}}
	res, err = NewClassifier(second).Classify(anchors, features)
	require.NoError(t, err)
	assert.Equal(t, redTeam, res.Team(0))
	assert.Equal(t, blueTeam, res.Team(1))
	assert.Equal(t, redTeam, res.Team(2))
	assert.Equal(t, 2, anchors.Count())
}
