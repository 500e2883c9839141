// Package report renders classified players: the per-frame CSV, annotated
// frames and the accumulated position heatmap.
package report

import (
	"image"
	"image/color"
	"math"
)

// Detection is the externally visible outcome for one player.
type Detection struct {
	Box  image.Rectangle
	Team int
}

var teamColors = []color.RGBA{
	{R: 255, A: 255}, // Team A
	{B: 255, A: 255}, // Team B
	{G: 255, A: 255}, // Unknown
}

// TeamColor is red for team 0, blue for team 1 and green otherwise.
func TeamColor(team int) color.RGBA {
	if team < 0 || team >= 2 {
		return teamColors[2]
	}
	return teamColors[team]
}

// TeamLabel is the caption drawn next to a box.
func TeamLabel(team int) string {
	switch team {
	case 0:
		return "Team A"
	case 1:
		return "Team B"
	default:
		return "Unknown"
	}
}

// center is the box midpoint, rounded half to even as OpenCV does when a
// point is scaled back to integer pixels.
func center(r image.Rectangle) image.Point {
	half := func(v int) int { return int(math.RoundToEven(float64(v) * 0.5)) }
	return image.Pt(half(r.Min.X+r.Max.X), half(r.Min.Y+r.Max.Y))
}
