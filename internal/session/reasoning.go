package session

import "strings"

// minOverlap is the smallest suffix/prefix overlap treated as a retransmit
// rather than coincidental repetition.
const minOverlap = 8

// ReasoningNormalizer converts a stream of possibly-duplicated,
// possibly-full-snapshot reasoning updates into a clean incremental delta
// stream plus a single completion event. The agent sometimes sends true
// incremental deltas and sometimes resends the entire accumulated text on
// every tick; the normalizer handles both without knowing which mode is
// active.
//
// Not safe for concurrent use; the engine serializes access.
type ReasoningNormalizer struct {
	onDelta  func(text string)
	onResult func(fullText string)

	current string
	started bool
}

// NewReasoningNormalizer creates a normalizer emitting through the given
// callbacks. Either callback may be nil.
func NewReasoningNormalizer(onDelta, onResult func(string)) *ReasoningNormalizer {
	return &ReasoningNormalizer{onDelta: onDelta, onResult: onResult}
}

func (r *ReasoningNormalizer) emitDelta(text string) {
	if text != "" && r.onDelta != nil {
		r.onDelta(text)
	}
}

// ProcessDelta folds one incoming update into the accumulated state and
// emits only genuinely new text.
func (r *ReasoningNormalizer) ProcessDelta(d string) {
	if d == "" {
		return
	}

	if !r.started {
		// Left-trim leading whitespace once, for the first delta only.
		trimmed := strings.TrimLeft(d, " \t\r\n")
		r.started = true
		r.current = trimmed
		r.emitDelta(trimmed)
		return
	}

	if d == r.current || strings.TrimLeft(d, " \t\r\n") == r.current {
		// Exact duplicate.
		return
	}

	if strings.HasPrefix(d, r.current) {
		// Snapshot mode: the update is the full accumulated text plus a tail.
		r.emitDelta(d[len(r.current):])
		r.current = d
		return
	}

	if len(d) >= minOverlap && strings.HasSuffix(r.current, d) {
		// Pure retransmit of a prior chunk.
		return
	}

	if overlap := suffixPrefixOverlap(r.current, d); overlap >= minOverlap {
		tail := d[overlap:]
		r.current += tail
		r.emitDelta(tail)
		return
	}

	// Genuinely new content.
	r.current += d
	r.emitDelta(d)
}

// suffixPrefixOverlap returns the length of the longest suffix of current
// that is also a prefix of d.
func suffixPrefixOverlap(current, d string) int {
	max := len(current)
	if len(d) < max {
		max = len(d)
	}
	for n := max; n >= minOverlap; n-- {
		if current[len(current)-n:] == d[:n] {
			return n
		}
	}
	return 0
}

// Complete emits the terminal result event carrying the final merged text
// and resets accumulation. fullText, when non-empty, is folded in first so
// a final snapshot cannot lose a tail the delta stream missed.
func (r *ReasoningNormalizer) Complete(fullText string) {
	if fullText != "" {
		r.ProcessDelta(fullText)
	}
	if r.current != "" && r.onResult != nil {
		r.onResult(r.current)
	}
	r.reset()
}

// HandleSectionBreak resets accumulation so a new reasoning section starts
// clean.
func (r *ReasoningNormalizer) HandleSectionBreak() {
	r.reset()
}

// Abort discards accumulated state without emitting anything.
func (r *ReasoningNormalizer) Abort() {
	r.reset()
}

func (r *ReasoningNormalizer) reset() {
	r.current = ""
	r.started = false
}
