package readback

import "sync"

// PixelFormat describes how one scalar is stored per texel.
type PixelFormat string

// FormatRFloat is a single 32-bit float channel; the red channel holds the value.
const FormatRFloat PixelFormat = "RFloat"

// Request describes one transfer of the output texture to the CPU.
type Request struct {
	// ID correlates the completion with this request.
	ID uint64
	// Width is the texture width in texels, one proposal per row.
	Width int
	// Height is the number of rows, one per grid cell.
	Height int
	// Format is the texel layout.
	Format PixelFormat
}

// NewRequest sizes a request for cellCount proposals of proposalLength floats.
func NewRequest(id uint64, proposalLength, cellCount int) Request {
	return Request{ID: id, Width: proposalLength, Height: cellCount, Format: FormatRFloat}
}

// Len returns the number of floats the transfer delivers.
func (r Request) Len() int {
	return r.Width * r.Height
}

// Response is what the transfer collaborator hands back on completion.
type Response struct {
	// ID echoes Request.ID.
	ID uint64
	// Err is non-nil when the transfer failed.
	Err error
	// Pixels holds the red-channel floats; only valid when Err is nil.
	Pixels []float32
}

// CompletionFunc receives the response for an issued Request. It may be called from
// any goroutine.
type CompletionFunc func(Response)

// Tracker hands out monotonically increasing request ids and remembers the one whose
// completion is currently expected. Issuing a new id supersedes the previous one, so
// at most one transfer per pipeline is considered in flight.
type Tracker struct {
	mu       sync.Mutex
	next     uint64
	expected uint64
	pending  bool
	closed   bool
}

// Begin issues a new request id and makes it the expected one. It returns false once
// the tracker is closed.
func (t *Tracker) Begin() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, false
	}
	t.next++
	t.expected = t.next
	t.pending = true
	return t.expected, true
}

// Complete reports whether id is the expected in-flight request and, if so, clears
// it. Stale ids, repeated completions and completions after Close return false.
func (t *Tracker) Complete(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || !t.pending || id != t.expected {
		return false
	}
	t.pending = false
	return true
}

// Pending reports whether a request is in flight.
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Close rejects every later Begin and Complete.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = false
}

// Reopen clears a previous Close so the tracker can be reused after a restart.
// Ids keep increasing across restarts.
func (t *Tracker) Reopen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = false
}
