package profiles

import (
	"sync"
	"sync/atomic"
)

// Feed fans profile changes out to per-uid watchers.
//
// Deliveries to one watcher are serialized. Unsubscribing never waits for a
// delivery in progress; a callback that has already started may still finish
// after the unsubscribe function returns.
type Feed struct {
	mu       sync.Mutex
	nextID   int
	watchers map[string]map[int]*watcher
}

type watcher struct {
	mu     sync.Mutex
	fn     WatchFunc
	closed atomic.Bool
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{watchers: make(map[string]map[int]*watcher)}
}

// Subscribe registers fn for uid. initial, when non-nil, is evaluated while
// holding the watcher's delivery lock so that no change is delivered before
// the starting value.
func (f *Feed) Subscribe(uid string, fn WatchFunc, initial func() (*Profile, error)) func() {
	w := &watcher{fn: fn}

	w.mu.Lock()
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	byID, ok := f.watchers[uid]
	if !ok {
		byID = make(map[int]*watcher)
		f.watchers[uid] = byID
	}
	byID[id] = w
	f.mu.Unlock()

	if initial != nil {
		p, err := initial()
		w.deliverLocked(p, err)
	}
	w.mu.Unlock()

	return func() {
		if w.closed.Swap(true) {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if byID, ok := f.watchers[uid]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(f.watchers, uid)
			}
		}
	}
}

// Publish delivers p (nil for a deleted record) to every watcher of uid.
func (f *Feed) Publish(uid string, p *Profile) {
	for _, w := range f.snapshot(uid) {
		w.deliver(p, nil)
	}
}

// PublishError delivers err to every watcher of uid.
func (f *Feed) PublishError(uid string, err error) {
	for _, w := range f.snapshot(uid) {
		w.deliver(nil, err)
	}
}

// Fail delivers err to every watcher of every uid.
func (f *Feed) Fail(err error) {
	for _, w := range f.snapshot("") {
		w.deliver(nil, err)
	}
}

// WatchedUIDs lists the uids that currently have at least one watcher.
func (f *Feed) WatchedUIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.watchers))
	for uid := range f.watchers {
		out = append(out, uid)
	}
	return out
}

// Count returns the number of watchers for uid.
func (f *Feed) Count(uid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers[uid])
}

// snapshot returns the watchers for uid, or for every uid when uid is empty.
func (f *Feed) snapshot(uid string) []*watcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*watcher
	for key, byID := range f.watchers {
		if uid != "" && key != uid {
			continue
		}
		for _, w := range byID {
			out = append(out, w)
		}
	}
	return out
}

func (w *watcher) deliver(p *Profile, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deliverLocked(p, err)
}

func (w *watcher) deliverLocked(p *Profile, err error) {
	if w.closed.Load() {
		return
	}
	w.fn(p.Clone(), err)
}
