package peer

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// candidateBuffer holds ICE candidates that arrived before the remote
// description was set. Bounded; the oldest entry is dropped on overflow.
type candidateBuffer struct {
	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	limit      int
}

func newCandidateBuffer(limit int) *candidateBuffer {
	return &candidateBuffer{
		limit: limit,
	}
}

// Push appends a candidate, reporting whether an older one was dropped
func (b *candidateBuffer) Push(candidate webrtc.ICECandidateInit) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.candidates) >= b.limit {
		b.candidates = b.candidates[1:]
		dropped = true
	}

	b.candidates = append(b.candidates, candidate)
	return dropped
}

// PushFront re-queues a candidate that failed to apply
func (b *candidateBuffer) PushFront(candidate webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.candidates) >= b.limit {
		b.candidates = b.candidates[:b.limit-1]
	}

	b.candidates = append([]webrtc.ICECandidateInit{candidate}, b.candidates...)
}

// Pop removes and returns the oldest candidate
func (b *candidateBuffer) Pop() (webrtc.ICECandidateInit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.candidates) == 0 {
		return webrtc.ICECandidateInit{}, false
	}

	candidate := b.candidates[0]
	b.candidates = b.candidates[1:]
	return candidate, true
}

// Len returns the number of buffered candidates
func (b *candidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.candidates)
}

// Clear discards all buffered candidates
func (b *candidateBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.candidates = nil
}
