// Package journal records the prior value of every entry a component touches
// while an operation is open, so the operation can be undone as a unit.
package journal

// Journal tracks entries of a map[K]V. Values must have copy semantics
// (plain structs, arrays), since the journal keeps the copy it is given.
type Journal[K comparable, V any] struct {
	open  bool
	prior map[K]entry[V]
	order []K
}

type entry[V any] struct {
	value   V
	existed bool
}

// New returns a closed journal.
func New[K comparable, V any]() *Journal[K, V] {
	return &Journal[K, V]{prior: make(map[K]entry[V])}
}

// Begin opens the journal. Reopening an open journal discards nothing.
func (j *Journal[K, V]) Begin() {
	j.open = true
}

// Open reports whether an operation is in progress.
func (j *Journal[K, V]) Open() bool {
	return j.open
}

// Touch records the value of k before its first mutation in this operation.
// Later touches of the same key are ignored. No-op while closed.
func (j *Journal[K, V]) Touch(k K, before V, existed bool) {
	if !j.open {
		return
	}
	if _, seen := j.prior[k]; seen {
		return
	}
	j.prior[k] = entry[V]{value: before, existed: existed}
	j.order = append(j.order, k)
}

// Keys returns the touched keys in first-touch order.
func (j *Journal[K, V]) Keys() []K {
	out := make([]K, len(j.order))
	copy(out, j.order)
	return out
}

// Rollback hands every touched key's prior state to restore, most recent
// first, then closes the journal.
func (j *Journal[K, V]) Rollback(restore func(k K, v V, existed bool)) {
	for i := len(j.order) - 1; i >= 0; i-- {
		k := j.order[i]
		e := j.prior[k]
		restore(k, e.value, e.existed)
	}
	j.reset()
}

// Commit forgets the recorded prior state and closes the journal.
func (j *Journal[K, V]) Commit() {
	j.reset()
}

func (j *Journal[K, V]) reset() {
	j.open = false
	clear(j.prior)
	j.order = j.order[:0]
}
