package server

import (
	"sync"

	"github.com/google/uuid"
)

// idAllocator mints short client identifiers that stay unique for the
// life of the process. Ids of departed clients are never reissued, so
// a late p2p message can never reach a stranger wearing a reused id.
type idAllocator struct {
	mu   sync.Mutex
	used map[string]struct{}
	gen  func() string
}

func newIDAllocator() *idAllocator {
	return &idAllocator{
		used: make(map[string]struct{}),
		gen:  func() string { return uuid.New().String()[:8] },
	}
}

func (a *idAllocator) next() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		id := a.gen()
		if _, taken := a.used[id]; taken {
			continue
		}
		a.used[id] = struct{}{}
		return id
	}
}
