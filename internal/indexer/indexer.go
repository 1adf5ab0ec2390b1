// Package indexer implements a generic mapping from a PCP mapping
// identity to the declarative resource that produced it, fed by a
// watch-event stream and gated by a readiness flag so readers never
// see a partial initial list.
package indexer

import "sync"

// ObjectRef names a namespaced declarative resource.
type ObjectRef struct {
	Namespace string
	Name      string
}

// EventKind is the kind of watch event fed to an Indexer.
type EventKind int

const (
	// Init begins the initial list phase: clears the index and marks it
	// not ready.
	Init EventKind = iota
	// InitApply delivers one object during the initial list phase.
	InitApply
	// InitDone ends the initial list phase and marks the index ready.
	InitDone
	// Apply is an incremental upsert after the initial list phase.
	Apply
	// Delete removes an object's entries from the index.
	Delete
)

// Event is one watch-stream event. Object is required for InitApply,
// Apply, and Delete; it is ignored for Init and InitDone.
type Event[Object any] struct {
	Kind   EventKind
	Object Object
}

// Extractor derives a mapping identity and the owning resource's
// reference from a watched object. A false ok means the object does
// not produce a mapping and should be skipped.
type Extractor[Key comparable, Object any] func(obj Object) (key Key, ref ObjectRef, ok bool)

// KeyExtractor derives just the mapping identity from a watched object,
// for use on the Delete path where only the key is needed to remove
// entries.
type KeyExtractor[Key comparable, Object any] func(obj Object) (key Key, ok bool)

// NotReadyError is returned by Reader when the indexer has not yet
// completed its initial list phase.
type NotReadyError struct{}

func (NotReadyError) Error() string {
	return "indexer: not ready, initial list phase incomplete"
}

// Indexer maintains Key -> ObjectRef, gated by readiness.
type Indexer[Key comparable, Object any] struct {
	mu      sync.RWMutex
	entries map[Key]ObjectRef
	ready   bool

	extract    Extractor[Key, Object]
	extractKey KeyExtractor[Key, Object]
}

// New builds an Indexer using extract to derive (key, ref) for
// InitApply/Apply events and extractKey to derive the key alone for
// Delete events.
func New[Key comparable, Object any](extract Extractor[Key, Object], extractKey KeyExtractor[Key, Object]) *Indexer[Key, Object] {
	return &Indexer[Key, Object]{
		entries:    make(map[Key]ObjectRef),
		extract:    extract,
		extractKey: extractKey,
	}
}

// Handle applies one watch event to the index.
func (idx *Indexer[Key, Object]) Handle(ev Event[Object]) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	switch ev.Kind {
	case Init:
		idx.entries = make(map[Key]ObjectRef)
		idx.ready = false

	case InitDone:
		idx.ready = true

	case InitApply, Apply:
		key, ref, ok := idx.extract(ev.Object)
		if !ok {
			return
		}
		idx.entries[key] = ref

	case Delete:
		key, ok := idx.extractKey(ev.Object)
		if !ok {
			return
		}
		delete(idx.entries, key)
	}
}

// Reader is a read-only handle onto the index, returned only once the
// indexer has completed its initial list phase. It is not a snapshot:
// each Lookup sees the index as it is at that moment, including changes
// made after the Reader was obtained. Readiness is checked only when
// ReaderFor is called.
type Reader[Key comparable] interface {
	Lookup(key Key) (ObjectRef, bool)
}

type readerView[Key comparable, Object any] struct {
	idx *Indexer[Key, Object]
}

func (r readerView[Key, Object]) Lookup(key Key) (ObjectRef, bool) {
	r.idx.mu.RLock()
	defer r.idx.mu.RUnlock()
	ref, ok := r.idx.entries[key]
	return ref, ok
}

// ReaderFor returns a Reader over idx, or a NotReadyError if the
// initial list phase has not completed yet.
func ReaderFor[Key comparable, Object any](idx *Indexer[Key, Object]) (Reader[Key], error) {
	idx.mu.RLock()
	ready := idx.ready
	idx.mu.RUnlock()
	if !ready {
		return nil, NotReadyError{}
	}
	return readerView[Key, Object]{idx: idx}, nil
}
