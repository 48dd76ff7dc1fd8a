// Package ecs provides entity ids and typed component tables.
// Components are independent: destroying an entity does not remove it from any table,
// callers detach what they attached.
package ecs

import "sort"

// Entity is a monotonically increasing handle. Zero is never issued.
type Entity uint64

// Component maps entities to values of one type.
type Component[T any] struct {
	data map[Entity]T
}

// NewComponent creates an empty component table.
func NewComponent[T any]() *Component[T] {
	return &Component[T]{data: make(map[Entity]T)}
}

// Add sets the value for an entity, replacing any previous value.
func (c *Component[T]) Add(e Entity, v T) {
	c.data[e] = v
}

// Get returns the value for an entity.
func (c *Component[T]) Get(e Entity) (T, bool) {
	v, ok := c.data[e]
	return v, ok
}

// Has reports whether the entity has this component.
func (c *Component[T]) Has(e Entity) bool {
	_, ok := c.data[e]
	return ok
}

// Remove detaches the component. Removing a missing entity is a no-op.
func (c *Component[T]) Remove(e Entity) {
	delete(c.data, e)
}

// Len returns the number of entities with this component.
func (c *Component[T]) Len() int {
	return len(c.data)
}

// Entities returns every entity holding this component in ascending id order.
func (c *Component[T]) Entities() []Entity {
	out := make([]Entity, 0, len(c.data))
	for e := range c.data {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Kind discriminates what an entity stands for.
type Kind uint8

const (
	KindUnit Kind = iota + 1
	KindStructure
)

// String returns a human-readable name for a kind.
func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindStructure:
		return "structure"
	default:
		return "unknown"
	}
}

// Cell is a fixed grid position.
type Cell struct {
	X, Y int
}

// World issues entity ids and holds the built-in component tables.
// Further tables can be created with NewComponent and keyed by the same ids.
type World struct {
	next  Entity
	alive map[Entity]struct{}

	Kind *Component[Kind]
	Ref  *Component[uint64] // Id of the backing record in its own registry
	Cell *Component[Cell]
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{
		alive: make(map[Entity]struct{}),
		Kind:  NewComponent[Kind](),
		Ref:   NewComponent[uint64](),
		Cell:  NewComponent[Cell](),
	}
}

// Create issues a new entity id.
func (w *World) Create() Entity {
	w.next++
	w.alive[w.next] = struct{}{}
	return w.next
}

// Destroy marks the entity dead. Component tables are left untouched.
func (w *World) Destroy(e Entity) bool {
	if _, ok := w.alive[e]; !ok {
		return false
	}
	delete(w.alive, e)
	return true
}

// Alive reports whether the entity exists.
func (w *World) Alive(e Entity) bool {
	_, ok := w.alive[e]
	return ok
}

// Count returns the number of live entities.
func (w *World) Count() int {
	return len(w.alive)
}

// Query returns the live entities of a kind in ascending id order.
func (w *World) Query(k Kind) []Entity {
	var out []Entity
	for _, e := range w.Kind.Entities() {
		if kk, _ := w.Kind.Get(e); kk == k && w.Alive(e) {
			out = append(out, e)
		}
	}
	return out
}
