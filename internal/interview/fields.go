package interview

import "sync"

// FieldStore accumulates the structured answers the engine reports after
// each turn. Values only ever appear or get overwritten by a later turn;
// nothing is cleared locally. Freeze locks the store for display once the
// interview finishes.
type FieldStore struct {
	mu     sync.Mutex
	values map[string]string
	frozen bool
}

// NewFieldStore returns an empty store.
func NewFieldStore() *FieldStore {
	return &FieldStore{values: make(map[string]string)}
}

// Merge folds one turn's reported fields into the store: new keys are
// adopted, existing keys overwritten. A frozen store ignores merges.
func (f *FieldStore) Merge(fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return
	}
	for k, v := range fields {
		f.values[k] = v
	}
}

// Freeze makes the store read-only.
func (f *FieldStore) Freeze() {
	f.mu.Lock()
	f.frozen = true
	f.mu.Unlock()
}

// Snapshot returns a copy of the current values for display.
func (f *FieldStore) Snapshot() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Len reports how many fields have been collected so far.
func (f *FieldStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.values)
}
