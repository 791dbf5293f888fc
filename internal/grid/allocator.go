// Package grid places dashboard panels on a fixed-width grid.
package grid

import (
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/models"
)

// Allocator finds free rectangles for new panels.
type Allocator struct {
	Columns int
	MaxRows int
}

// NewAllocator returns an allocator for the standard 24 column grid.
func NewAllocator() *Allocator {
	return &Allocator{Columns: constants.GridColumns, MaxRows: constants.MaxGridScanRows}
}

// Allocate returns a w x h rectangle that overlaps none of existing.
//
// Candidates are scanned row-major: rows at offsets 0, h, 2h, ... and every
// column that fits the width. The first free candidate wins. If none is found
// within MaxRows rows the panel goes to x=0 below every existing panel.
// Widths wider than the grid are clamped; non-positive sizes get the default.
func (a *Allocator) Allocate(existing []models.GridPos, w, h int) models.GridPos {
	cols := a.columns()
	if w <= 0 {
		w = constants.DefaultPanelWidth
	}
	if h <= 0 {
		h = constants.DefaultPanelHeight
	}
	if w > cols {
		w = cols
	}

	for row := 0; row < a.maxRows(); row++ {
		for x := 0; x+w <= cols; x++ {
			candidate := models.GridPos{X: x, Y: row * h, W: w, H: h}
			if Fits(candidate, existing) {
				return candidate
			}
		}
	}
	return models.GridPos{X: 0, Y: MaxBottom(existing), W: w, H: h}
}

// Fits reports whether pos overlaps none of others.
func Fits(pos models.GridPos, others []models.GridPos) bool {
	for _, o := range others {
		if pos.Overlaps(o) {
			return false
		}
	}
	return true
}

// MaxBottom is the lowest edge of any rectangle, or 0 for none.
func MaxBottom(positions []models.GridPos) int {
	bottom := 0
	for _, p := range positions {
		if b := p.Bottom(); b > bottom {
			bottom = b
		}
	}
	return bottom
}

// Overlap names two panels whose rectangles intersect.
type Overlap struct {
	A int `json:"a"`
	B int `json:"b"`
}

// FindOverlaps lists every intersecting pair of panels by id.
func FindOverlaps(panels []*models.Panel) []Overlap {
	var out []Overlap
	for i := 0; i < len(panels); i++ {
		for j := i + 1; j < len(panels); j++ {
			if panels[i].GridPos.Overlaps(panels[j].GridPos) {
				out = append(out, Overlap{A: panels[i].ID, B: panels[j].ID})
			}
		}
	}
	return out
}

func (a *Allocator) columns() int {
	if a.Columns <= 0 {
		return constants.GridColumns
	}
	return a.Columns
}

func (a *Allocator) maxRows() int {
	if a.MaxRows <= 0 {
		return constants.MaxGridScanRows
	}
	return a.MaxRows
}
