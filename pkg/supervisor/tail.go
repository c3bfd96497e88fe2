package supervisor

import "sync"

// Tail is a bounded FIFO of the most recent stderr lines of a worker.
// When full, the oldest line is evicted to make room for a new one.
type Tail struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

// NewTail creates a tail holding at most capacity lines (minimum 1).
func NewTail(capacity int) *Tail {
	if capacity < 1 {
		capacity = 1
	}
	return &Tail{
		lines: make([]string, 0, capacity),
		cap:   capacity,
	}
}

// Add appends a line, evicting the oldest if the tail is full.
func (t *Tail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.lines) >= t.cap {
		copy(t.lines, t.lines[1:])
		t.lines[len(t.lines)-1] = line
	} else {
		t.lines = append(t.lines, line)
	}
}

// Last returns the most recent line, or "" if none was seen.
func (t *Tail) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}

// Lines returns a copy of the retained lines, oldest first.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
