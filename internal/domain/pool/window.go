package pool

// RecentWindow is a bounded FIFO of recently played content ids.
// It is owned by one lobby and is not safe for concurrent use.
type RecentWindow struct {
	ids  []int64
	head int
	size int
}

// NewRecentWindow creates a window holding at most capacity ids.
func NewRecentWindow(capacity int) *RecentWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentWindow{ids: make([]int64, capacity)}
}

// Push appends id, evicting the oldest entry once the window is full.
func (w *RecentWindow) Push(id int64) {
	if w.size < len(w.ids) {
		w.ids[(w.head+w.size)%len(w.ids)] = id
		w.size++
		return
	}
	w.ids[w.head] = id
	w.head = (w.head + 1) % len(w.ids)
}

// Contains reports whether id is in the window.
func (w *RecentWindow) Contains(id int64) bool {
	for i := range w.size {
		if w.ids[(w.head+i)%len(w.ids)] == id {
			return true
		}
	}
	return false
}

// Len returns the number of ids held.
func (w *RecentWindow) Len() int { return w.size }

// Cap returns the window capacity.
func (w *RecentWindow) Cap() int { return len(w.ids) }

// IDs returns the held ids oldest first.
func (w *RecentWindow) IDs() []int64 {
	out := make([]int64, w.size)
	for i := range w.size {
		out[i] = w.ids[(w.head+i)%len(w.ids)]
	}
	return out
}
