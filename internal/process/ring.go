package process

import "sync"

// stderrRing keeps the most recent stderr lines in bounded memory. The
// agent can be extremely chatty on stderr; only the tail matters for
// diagnosing why it died.
type stderrRing struct {
	mu       sync.Mutex
	maxLines int
	lines    []string
}

func newStderrRing(maxLines int) *stderrRing {
	if maxLines <= 0 {
		maxLines = 200
	}
	return &stderrRing{maxLines: maxLines}
}

func (r *stderrRing) append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if over := len(r.lines) - r.maxLines; over > 0 {
		r.lines = r.lines[over:]
	}
}

// snapshot returns a copy of the buffered lines, oldest first.
func (r *stderrRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func (r *stderrRing) reset() {
	r.mu.Lock()
	r.lines = nil
	r.mu.Unlock()
}
