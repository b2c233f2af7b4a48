package scene

import "fmt"

// Handle is an opaque reference to a layer. Handles stay comparable after
// the layer is destroyed; using a stale handle fails with ErrUnknownLayer.
type Handle struct {
	graph uint32
	index uint32
	gen   uint32
}

// NoHandle is the zero Handle. As a reparent target it detaches a layer.
var NoHandle Handle

// IsValid reports whether h was issued by a graph. It does not report
// whether the layer is still alive.
func (h Handle) IsValid() bool { return h.gen != 0 }

// Graph returns the id of the graph that issued h.
func (h Handle) Graph() uint32 { return h.graph }

// String formats the handle for logs.
func (h Handle) String() string {
	if !h.IsValid() {
		return "layer(none)"
	}
	return fmt.Sprintf("layer(%d:%d.%d)", h.graph, h.index, h.gen)
}

const noIndex = -1

// slot is one arena cell. gen increments every time the cell is reused.
type slot struct {
	gen  uint32
	live bool
	l    layer
}

// arena stores layers by index with generation-checked handles and a free
// list. Parent and child links are indices, so the tree holds no pointers.
type arena struct {
	graph uint32
	slots []slot
	free  []int
}

func (a *arena) alloc() (int, Handle) {
	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = len(a.slots) - 1
	}
	s := &a.slots[idx]
	s.gen++
	s.live = true
	s.l = layer{}
	return idx, Handle{graph: a.graph, index: uint32(idx), gen: s.gen}
}

func (a *arena) lookup(h Handle) (int, bool) {
	if !h.IsValid() || h.graph != a.graph || int(h.index) >= len(a.slots) {
		return noIndex, false
	}
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return noIndex, false
	}
	return int(h.index), true
}

func (a *arena) handle(idx int) Handle {
	return Handle{graph: a.graph, index: uint32(idx), gen: a.slots[idx].gen}
}

func (a *arena) get(idx int) *layer { return &a.slots[idx].l }

func (a *arena) release(idx int) {
	a.slots[idx].live = false
	a.slots[idx].l = layer{}
	a.free = append(a.free, idx)
}
