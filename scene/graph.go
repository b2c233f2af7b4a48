package scene

import (
	"cmp"
	"fmt"
	"image"
	"slices"
	"sync"
	"sync/atomic"
)

var graphIDs atomic.Uint32

// Op pairs a mutation with the layer it targets.
type Op struct {
	Layer    Handle
	Mutation Mutation
}

// Graph is the layer tree of one display. A root layer stands for the
// display itself; layers not reachable from it are kept but not drawn.
//
// Batches are applied under the write lock, so Composite and Visibility
// never observe a partially applied batch. Graph is safe for concurrent use.
type Graph struct {
	id     uint32
	bounds image.Rectangle

	mu         sync.RWMutex
	layers     arena
	root       int
	seq        uint64
	version    uint64
	background RGBA
	pending    []Release
}

// NewGraph creates a graph for a width×height display.
func NewGraph(width, height int) *Graph {
	g := &Graph{
		id:         graphIDs.Add(1),
		bounds:     image.Rect(0, 0, width, height),
		background: Black,
	}
	g.layers.graph = g.id
	idx, _ := g.layers.alloc()
	l := g.layers.get(idx)
	*l = newLayer("root")
	l.root = true
	l.hasCrop = true
	l.crop = RectFromImage(g.bounds)
	g.root = idx
	return g
}

// ID returns the graph id embedded in its handles.
func (g *Graph) ID() uint32 { return g.id }

// Bounds returns the display rectangle.
func (g *Graph) Bounds() image.Rectangle { return g.bounds }

// Root returns the handle of the display root layer.
func (g *Graph) Root() Handle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.layers.handle(g.root)
}

// SetBackground sets the color drawn beneath every layer.
func (g *Graph) SetBackground(c RGBA) {
	g.mu.Lock()
	g.background = c
	g.version++
	g.mu.Unlock()
}

// Version increases every time the visible state may have changed.
func (g *Graph) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// CreateLayer creates a layer under parent, or a detached layer when
// parent is NoHandle. The caller holds one reference to it.
func (g *Graph) CreateLayer(parent Handle, name string) (Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := noIndex
	if parent.IsValid() {
		var ok bool
		if p, ok = g.layers.lookup(parent); !ok {
			return NoHandle, fmt.Errorf("%w: parent %v", ErrUnknownLayer, parent)
		}
	}
	idx, h := g.layers.alloc()
	*g.layers.get(idx) = newLayer(name)
	if p != noIndex {
		g.attach(idx, p)
		g.version++
	}
	return h, nil
}

// Acquire adds a reference to the layer.
func (g *Graph) Acquire(h Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx, ok := g.layers.lookup(h)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownLayer, h)
	}
	g.layers.get(idx).refs++
	return nil
}

// Release drops a reference. A detached layer without references is
// destroyed together with its unreferenced subtree; their buffers are
// queued for TakeReleases. An attached layer stays alive, owned by its
// parent.
func (g *Graph) Release(h Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx, ok := g.layers.lookup(h)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownLayer, h)
	}
	l := g.layers.get(idx)
	if l.root {
		return ErrRootLayer
	}
	if l.refs > 0 {
		l.refs--
	}
	g.collect(idx, &g.pending)
	return nil
}

// Alive reports whether h refers to a live layer.
func (g *Graph) Alive(h Handle) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.layers.lookup(h)
	return ok
}

// State returns a copy of the layer attributes.
func (g *Graph) State(h Handle) (LayerState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.layers.lookup(h)
	if !ok {
		return LayerState{}, fmt.Errorf("%w: %v", ErrUnknownLayer, h)
	}
	return g.layers.get(idx).state(&g.layers), nil
}

// Children returns the children of h in paint order.
func (g *Graph) Children(h Handle) ([]Handle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.layers.lookup(h)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownLayer, h)
	}
	kids := g.sortedChildren(idx)
	out := make([]Handle, len(kids))
	for i, c := range kids {
		out[i] = g.layers.handle(c)
	}
	return out, nil
}

// Apply applies a single mutation.
func (g *Graph) Apply(h Handle, m Mutation) ([]Release, error) {
	return g.ApplyBatch([]Op{{Layer: h, Mutation: m}})
}

// ApplyBatch validates every op and then applies them in order. On error
// nothing is applied. The returned releases are the submissions the batch
// superseded, including those of layers it orphaned.
func (g *Graph) ApplyBatch(ops []Op) ([]Release, error) {
	st, err := g.Stage(ops)
	if err != nil {
		return nil, err
	}
	return st.Commit(), nil
}

// Staged is a validated batch holding its graph's write lock. Exactly one
// of Commit or Abort must be called.
type Staged struct {
	g    *Graph
	ops  []Op
	idxs []int
	done bool
}

// Stage validates ops and keeps the graph locked until the batch is
// committed or aborted, so a batch spanning several graphs can be checked
// against all of them before any is changed. Callers staging on several
// graphs at once must stage them in ascending ID order.
func (g *Graph) Stage(ops []Op) (*Staged, error) {
	g.mu.Lock()
	idxs, err := g.validate(ops)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	return &Staged{g: g, ops: ops, idxs: idxs}, nil
}

// Graph returns the graph the batch was staged on.
func (s *Staged) Graph() *Graph { return s.g }

// Commit applies the batch and unlocks the graph.
func (s *Staged) Commit() []Release {
	if s.done {
		return nil
	}
	s.done = true
	g := s.g
	defer g.mu.Unlock()

	var rel []Release
	for i, op := range s.ops {
		op.Mutation.apply(g, s.idxs[i], &rel)
	}
	for i, op := range s.ops {
		if _, ok := op.Mutation.(Reparent); ok {
			g.collect(s.idxs[i], &rel)
		}
	}
	g.version++
	return rel
}

// Abort unlocks the graph without applying anything.
func (s *Staged) Abort() {
	if s.done {
		return
	}
	s.done = true
	s.g.mu.Unlock()
}

// TakeReleases returns and clears the submissions of layers destroyed by
// Release.
func (g *Graph) TakeReleases() []Release {
	g.mu.Lock()
	defer g.mu.Unlock()
	rel := g.pending
	g.pending = nil
	return rel
}

// ReleaseAll detaches every buffer in the graph and returns the
// submissions. Used when the display shuts down.
func (g *Graph) ReleaseAll() []Release {
	g.mu.Lock()
	defer g.mu.Unlock()
	rel := g.pending
	g.pending = nil
	for i := range g.layers.slots {
		s := &g.layers.slots[i]
		if s.live && s.l.sub != nil {
			rel = append(rel, Release{Layer: g.layers.handle(i), Submission: s.l.sub})
			s.l.sub = nil
		}
	}
	g.version++
	return rel
}

// ValidateMutation checks m's arguments without touching any graph.
func ValidateMutation(m Mutation) error {
	if m == nil {
		return fmt.Errorf("%w: nil mutation", ErrInvalidGeometry)
	}
	return m.validate()
}

// validate resolves handles and checks the whole batch, including the
// reparent chain it would produce.
func (g *Graph) validate(ops []Op) ([]int, error) {
	idxs := make([]int, len(ops))
	parents := map[int]int{}
	parentOf := func(i int) int {
		if p, ok := parents[i]; ok {
			return p
		}
		return g.layers.get(i).parent
	}

	for i, op := range ops {
		if err := ValidateMutation(op.Mutation); err != nil {
			return nil, err
		}
		idx, ok := g.layers.lookup(op.Layer)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownLayer, op.Layer)
		}
		idxs[i] = idx

		rp, ok := op.Mutation.(Reparent)
		if !ok {
			continue
		}
		if g.layers.get(idx).root {
			return nil, ErrRootLayer
		}
		p := noIndex
		if rp.Parent.IsValid() {
			if p, ok = g.layers.lookup(rp.Parent); !ok {
				return nil, fmt.Errorf("%w: parent %v", ErrUnknownLayer, rp.Parent)
			}
		}
		for a := p; a != noIndex; a = parentOf(a) {
			if a == idx {
				return nil, fmt.Errorf("%w: %v under %v", ErrCycle, op.Layer, rp.Parent)
			}
		}
		parents[idx] = p
	}
	return idxs, nil
}

func (g *Graph) attach(idx, parent int) {
	g.seq++
	l := g.layers.get(idx)
	l.parent = parent
	l.seq = g.seq
	p := g.layers.get(parent)
	p.children = append(p.children, idx)
}

func (g *Graph) detach(idx int) {
	l := g.layers.get(idx)
	if l.parent == noIndex {
		return
	}
	p := g.layers.get(l.parent)
	p.children = slices.DeleteFunc(p.children, func(c int) bool { return c == idx })
	l.parent = noIndex
}

// collect destroys idx if it is detached and unreferenced.
func (g *Graph) collect(idx int, rel *[]Release) {
	l := g.layers.get(idx)
	if l.root || l.parent != noIndex || l.refs > 0 {
		return
	}
	g.destroy(idx, rel)
}

func (g *Graph) destroy(idx int, rel *[]Release) {
	l := g.layers.get(idx)
	for _, c := range slices.Clone(l.children) {
		g.detach(c)
		g.collect(c, rel)
	}
	if l.sub != nil {
		*rel = append(*rel, Release{Layer: g.layers.handle(idx), Submission: l.sub})
	}
	g.layers.release(idx)
	g.version++
}

// sortedChildren orders siblings by z, then by attach order.
func (g *Graph) sortedChildren(idx int) []int {
	kids := slices.Clone(g.layers.get(idx).children)
	slices.SortFunc(kids, func(a, b int) int {
		la, lb := g.layers.get(a), g.layers.get(b)
		if c := cmp.Compare(la.z, lb.z); c != 0 {
			return c
		}
		return cmp.Compare(la.seq, lb.seq)
	})
	return kids
}
