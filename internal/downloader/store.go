package downloader

import (
	"context"
	"sync"
)

// store is the active set. Every mutation replaces the slice, so snapshots
// handed out earlier are never modified.
type store struct {
	mu       sync.Mutex
	items    []Item
	changed  chan struct{}
	onChange func()
}

func newStore() *store {
	return &store{changed: make(chan struct{})}
}

func (s *store) setOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// commitLocked installs items and wakes waiters. It returns the change hook
// to be called once the lock is released.
func (s *store) commitLocked(items []Item) func() {
	s.items = items
	close(s.changed)
	s.changed = make(chan struct{})
	return s.onChange
}

func (s *store) add(it Item) {
	s.mu.Lock()
	items := make([]Item, len(s.items), len(s.items)+1)
	copy(items, s.items)
	fn := s.commitLocked(append(items, it))
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// update applies fn to a copy of the item with the given id. Illegal status
// transitions are rejected and leave the item unchanged. The downloaded size
// never decreases.
func (s *store) update(id string, fn func(*Item)) (Item, bool) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return Item{}, false
	}

	cur := s.items[idx]
	next := cur
	fn(&next)
	next.ID = cur.ID
	if next.Status != cur.Status && !cur.Status.CanTransition(next.Status) {
		s.mu.Unlock()
		return cur, false
	}
	if next.DownloadedSize < cur.DownloadedSize {
		next.DownloadedSize = cur.DownloadedSize
	}

	items := make([]Item, len(s.items))
	copy(items, s.items)
	items[idx] = next
	hook := s.commitLocked(items)
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return next, true
}

func (s *store) remove(id string) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	items := make([]Item, 0, len(s.items)-1)
	items = append(items, s.items[:idx]...)
	items = append(items, s.items[idx+1:]...)
	hook := s.commitLocked(items)
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true
}

func (s *store) get(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.items[idx], true
	}
	return Item{}, false
}

func (s *store) snapshot() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// waitEmpty blocks until the set holds no items or ctx is done.
func (s *store) waitEmpty(ctx context.Context) error {
	for {
		s.mu.Lock()
		empty := len(s.items) == 0
		ch := s.changed
		s.mu.Unlock()

		if empty {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}
