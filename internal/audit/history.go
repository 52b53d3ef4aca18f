package audit

import "sync"

const defaultHistorySize = 1000

// History keeps the most recent entries in memory, evicting the oldest.
type History struct {
	mu    sync.Mutex
	buf   []Entry
	next  int
	full  bool
	limit int
}

// NewHistory creates a history bounded to size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{buf: make([]Entry, size), limit: size}
}

// Add records an entry.
func (h *History) Add(entry Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = entry
	h.next = (h.next + 1) % h.limit
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return h.limit
	}
	return h.next
}

// Recent returns up to n entries, newest first. n <= 0 returns everything.
func (h *History) Recent(n int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = h.limit
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Entry, 0, n)
	idx := h.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + h.limit) % h.limit
		out = append(out, h.buf[idx])
	}
	return out
}
