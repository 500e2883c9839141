package report

import (
	"image"

	"gocv.io/x/gocv"
)

// Annotate draws each detection's box and team caption onto img in place.
func Annotate(img *gocv.Mat, dets []Detection) {
	for _, d := range dets {
		c := TeamColor(d.Team)
		gocv.Rectangle(img, d.Box, c, 2)
		gocv.PutText(img, TeamLabel(d.Team), d.Box.Min.Add(image.Pt(0, -5)), gocv.FontHersheySimplex, 0.5, c, 1)
	}
}
