// Package display models the audience display grid: one tile per slot that
// subscribed tracks are rendered into.
package display

import (
	"rtc-soak/session"
	"slices"
	"sync"
)

type Grid struct {
	mu    sync.Mutex
	tiles map[int]*Tile
}

func NewGrid() *Grid {
	return &Grid{tiles: make(map[int]*Tile)}
}

// Target returns the render target for slot, creating its tile on first use.
func (g *Grid) Target(slot int) session.Target {
	return g.tile(slot)
}

func (g *Grid) Tile(slot int) (*Tile, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tiles[slot]
	return t, ok
}

func (g *Grid) ClearAll() {
	g.mu.Lock()
	tiles := make([]*Tile, 0, len(g.tiles))
	for _, t := range g.tiles {
		tiles = append(tiles, t)
	}
	g.mu.Unlock()

	for _, t := range tiles {
		t.Clear()
	}
}

func (g *Grid) tile(slot int) *Tile {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tiles[slot]
	if !ok {
		t = &Tile{Slot: slot}
		g.tiles[slot] = t
	}
	return t
}

type Tile struct {
	Slot int

	mu     sync.Mutex
	tracks []session.Track
}

func (t *Tile) Render(track session.Track) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slices.ContainsFunc(t.tracks, func(existing session.Track) bool {
		return existing.ID() == track.ID()
	}) {
		return
	}
	t.tracks = append(t.tracks, track)
}

func (t *Tile) Clear() {
	t.mu.Lock()
	t.tracks = nil
	t.mu.Unlock()
}

func (t *Tile) Tracks() []session.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.tracks)
}
