package vision

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/your-org/pitchtrack/internal/config"
)

// BoxExtractor turns a player mask into player-shaped rectangles.
type BoxExtractor struct {
	cfg config.BoxConfig
}

func NewBoxExtractor(cfg config.BoxConfig) *BoxExtractor {
	return &BoxExtractor{cfg: cfg}
}

// Extract returns merged candidate rectangles in contour order.
func (b *BoxExtractor) Extract(mask gocv.Mat) []image.Rectangle {
	if mask.Empty() {
		return nil
	}
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var boxes []image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if gocv.ContourArea(c) < b.cfg.MinContourArea {
			continue
		}
		if r := gocv.BoundingRect(c); b.Accept(r) {
			boxes = append(boxes, r)
		}
	}
	return MergeBoxes(boxes)
}

// Accept applies the size and aspect-ratio limits. Players are taller than
// wide; flat blobs are usually shadows or line markings.
func (b *BoxExtractor) Accept(r image.Rectangle) bool {
	w, h := r.Dx(), r.Dy()
	if w < b.cfg.MinWidth || w > b.cfg.MaxWidth || h < b.cfg.MinHeight || h > b.cfg.MaxHeight {
		return false
	}
	return float64(h) >= float64(w)*b.cfg.MinAspectRatio
}

// touches is true when the rectangles overlap or a corner of one lies inside
// the other. Max is exclusive, so boxes meeting at a corner touch.
func touches(a, b image.Rectangle) bool {
	return a.Overlaps(b) ||
		a.Min.In(b) || a.Max.In(b) ||
		b.Min.In(a) || b.Max.In(a)
}

// MergeBoxes fuses fragments of the same player. Each unconsumed box seeds a
// union that absorbs every touching unconsumed box until a pass adds nothing.
// A union can grow into one built earlier, so passes repeat until the count
// stops falling; unions nested inside another union are then dropped.
func MergeBoxes(boxes []image.Rectangle) []image.Rectangle {
	if len(boxes) == 0 {
		return nil
	}

	merged := mergePass(boxes)
	for {
		next := mergePass(merged)
		if len(next) == len(merged) {
			break
		}
		merged = next
	}

	out := make([]image.Rectangle, 0, len(merged))
	for i, r := range merged {
		nested := false
		for j, o := range merged {
			if i != j && r.Min.In(o) && r.Max.In(o) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, r)
		}
	}
	return out
}

func mergePass(boxes []image.Rectangle) []image.Rectangle {
	consumed := make([]bool, len(boxes))
	merged := make([]image.Rectangle, 0, len(boxes))
	for i := range boxes {
		if consumed[i] {
			continue
		}
		consumed[i] = true
		cur := boxes[i]
		for changed := true; changed; {
			changed = false
			for j, cand := range boxes {
				if consumed[j] || !touches(cur, cand) {
					continue
				}
				cur = cur.Union(cand)
				consumed[j] = true
				changed = true
			}
		}
		merged = append(merged, cur)
	}
	return merged
}
