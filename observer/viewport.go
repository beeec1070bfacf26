// Package observer produces visibility levels for display slots: a simulated
// scrolling viewport over the display grid, and a websocket feed for levels
// computed by an external viewer.
package observer

import (
	"fmt"
	"rtc-soak/visibility"
	"sync"
)

// Sink receives visibility changes, usually a controller's
// OnVisibilityChanged.
type Sink func(slot int, level visibility.Level)

type Geometry struct {
	Columns        int
	TileHeight     int
	ViewportHeight int
}

func (g Geometry) Validate() error {
	if g.Columns <= 0 {
		return fmt.Errorf("grid columns must be positive, got %d", g.Columns)
	}
	if g.TileHeight <= 0 {
		return fmt.Errorf("tile height must be positive, got %d", g.TileHeight)
	}
	if g.ViewportHeight <= 0 {
		return fmt.Errorf("viewport height must be positive, got %d", g.ViewportHeight)
	}
	return nil
}

// Viewport is a fixed-height window scrolled over a grid of equally sized
// tiles laid out row by row. A tile entirely inside the window is fully
// visible, one that overlaps its edge is partially visible.
type Viewport struct {
	geom  Geometry
	slots int
	sink  Sink

	mu     sync.Mutex
	offset int
	levels []visibility.Level
}

func NewViewport(geom Geometry, slots int, sink Sink) *Viewport {
	v := &Viewport{
		geom:   geom,
		slots:  slots,
		sink:   sink,
		levels: make([]visibility.Level, slots),
	}
	for slot := range v.levels {
		v.levels[slot] = v.levelAt(slot, 0)
	}
	return v
}

// Levels is the current determination for every slot. Called right after
// NewViewport it gives the initial levels, which are never emitted as
// changes.
func (v *Viewport) Levels() []visibility.Level {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]visibility.Level, len(v.levels))
	copy(out, v.levels)
	return out
}

func (v *Viewport) Level(slot int) visibility.Level {
	v.mu.Lock()
	defer v.mu.Unlock()
	if slot < 0 || slot >= len(v.levels) {
		return visibility.None
	}
	return v.levels[slot]
}

func (v *Viewport) Offset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

func (v *Viewport) MaxOffset() int {
	rows := (v.slots + v.geom.Columns - 1) / v.geom.Columns
	return max(rows*v.geom.TileHeight-v.geom.ViewportHeight, 0)
}

// ScrollTo moves the window to offset, clamped to the grid, and emits the
// levels that changed.
func (v *Viewport) ScrollTo(offset int) {
	offset = min(max(offset, 0), v.MaxOffset())

	type change struct {
		slot  int
		level visibility.Level
	}

	v.mu.Lock()
	v.offset = offset
	var changes []change
	for slot := range v.levels {
		level := v.levelAt(slot, offset)
		if level != v.levels[slot] {
			v.levels[slot] = level
			changes = append(changes, change{slot: slot, level: level})
		}
	}
	v.mu.Unlock()

	if v.sink == nil {
		return
	}
	for _, c := range changes {
		v.sink(c.slot, c.level)
	}
}

func (v *Viewport) ScrollBy(delta int) {
	v.ScrollTo(v.Offset() + delta)
}

func (v *Viewport) levelAt(slot, offset int) visibility.Level {
	top := (slot / v.geom.Columns) * v.geom.TileHeight
	bottom := top + v.geom.TileHeight
	viewTop, viewBottom := offset, offset+v.geom.ViewportHeight

	switch {
	case top >= viewTop && bottom <= viewBottom:
		return visibility.Full
	case bottom > viewTop && top < viewBottom:
		return visibility.Partial
	default:
		return visibility.None
	}
}
