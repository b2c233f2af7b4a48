package present

import (
	"image"
	"sync"

	"github.com/gogpu/present/scene"
)

// Display is one output of the presenter with its own scene graph.
// Layers are created on the graph directly; every change to them goes
// through a transaction.
type Display struct {
	name  string
	graph *scene.Graph

	// composited is the graph version of the last composite. Only the
	// frame loop touches it.
	composited uint64

	mu        sync.RWMutex
	shown     *image.RGBA
	presented bool
}

func newDisplay(name string, width, height int) *Display {
	return &Display{name: name, graph: scene.NewGraph(width, height)}
}

// ID returns the display id. Layer handles carry it as their graph id.
func (d *Display) ID() uint32 { return d.graph.ID() }

// Name returns the display name.
func (d *Display) Name() string { return d.name }

// Graph returns the display scene graph.
func (d *Display) Graph() *scene.Graph { return d.graph }

// Root returns the root layer handle.
func (d *Display) Root() scene.Handle { return d.graph.Root() }

// Bounds returns the display rectangle.
func (d *Display) Bounds() image.Rectangle { return d.graph.Bounds() }

// Presented reports whether the display has shown its first frame.
func (d *Display) Presented() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.presented
}

func (d *Display) show(img *image.RGBA) {
	d.mu.Lock()
	d.shown = img
	d.presented = true
	d.mu.Unlock()
}

func (d *Display) screenshot() (*image.RGBA, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.shown == nil {
		return nil, false
	}
	out := image.NewRGBA(d.shown.Rect)
	copy(out.Pix, d.shown.Pix)
	return out, true
}
