// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import "sync"

// DefaultRecentSize bounds the in-memory recent-findings buffer.
const DefaultRecentSize = 100

// recentBuffer is a fixed-capacity FIFO of serialized findings, oldest
// first. New entries evict the oldest once the buffer is full.
type recentBuffer struct {
	mu    sync.Mutex
	items [][]byte
	cap   int
}

func newRecentBuffer(capacity int) *recentBuffer {
	if capacity <= 0 {
		capacity = DefaultRecentSize
	}
	return &recentBuffer{cap: capacity}
}

func (b *recentBuffer) push(item []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	if len(b.items) > b.cap {
		b.items = b.items[len(b.items)-b.cap:]
	}
}

// snapshot returns a copy of the buffered entries, oldest first.
func (b *recentBuffer) snapshot() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.items))
	copy(out, b.items)
	return out
}

func (b *recentBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
