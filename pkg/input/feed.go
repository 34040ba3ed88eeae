package input

import "sync"

// Feed is an in-process event source. Frontends push captured events into it
// and every bound listener receives them in order.
type Feed struct {
	mu      sync.Mutex
	nextID  int
	keys    map[int]func(KeyEvent) bool
	pointer map[int]func(PointerEvent)
}

var (
	_ KeySource     = (*Feed)(nil)
	_ PointerSource = (*Feed)(nil)
)

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		keys:    make(map[int]func(KeyEvent) bool),
		pointer: make(map[int]func(PointerEvent)),
	}
}

// ListenKeys implements KeySource.
func (f *Feed) ListenKeys(fn func(KeyEvent) bool) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.keys[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.keys, id)
	}
}

// ListenPointer implements PointerSource.
func (f *Feed) ListenPointer(fn func(PointerEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.pointer[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.pointer, id)
	}
}

// Key delivers ev to the key listeners and reports whether any of them asked
// to suppress it.
func (f *Feed) Key(ev KeyEvent) bool {
	suppress := false
	for _, fn := range f.keyListeners() {
		if fn(ev) {
			suppress = true
		}
	}
	return suppress
}

// Pointer delivers ev to the pointer listeners.
func (f *Feed) Pointer(ev PointerEvent) {
	for _, fn := range f.pointerListeners() {
		fn(ev)
	}
}

// Listeners returns the number of registered listeners.
func (f *Feed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys) + len(f.pointer)
}

func (f *Feed) keyListeners() []func(KeyEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]func(KeyEvent) bool, 0, len(f.keys))
	for _, fn := range f.keys {
		out = append(out, fn)
	}
	return out
}

func (f *Feed) pointerListeners() []func(PointerEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]func(PointerEvent), 0, len(f.pointer))
	for _, fn := range f.pointer {
		out = append(out, fn)
	}
	return out
}
