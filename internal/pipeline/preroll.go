package pipeline

// preRollCapacity is the number of silent-period chunks the ring buffer
// retains. At 256 samples per chunk and 16 kHz this is roughly the 150 ms
// of audio that precedes the detector firing, so speech onset is never
// clipped from the assembled utterance.
const preRollCapacity = 10

// PreRollBuffer is a fixed-capacity ring buffer of the most recent raw PCM
// chunks captured while silent. It has single-owner semantics: exactly one
// assembler pushes, snapshots, and clears it. The chunk slices themselves
// are stored by reference; callers hand over ownership on Push.
type PreRollBuffer struct {
	chunks [][]byte
	cap    int
}

// NewPreRollBuffer creates a buffer retaining the given number of chunks.
// capacity <= 0 selects the default.
func NewPreRollBuffer(capacity int) *PreRollBuffer {
	if capacity <= 0 {
		capacity = preRollCapacity
	}
	return &PreRollBuffer{
		chunks: make([][]byte, 0, capacity),
		cap:    capacity,
	}
}

// Push appends chunk, evicting the oldest entry once capacity is exceeded.
func (b *PreRollBuffer) Push(chunk []byte) {
	if len(b.chunks) == b.cap {
		copy(b.chunks, b.chunks[1:])
		b.chunks = b.chunks[:b.cap-1]
	}
	b.chunks = append(b.chunks, chunk)
}

// Snapshot returns the current contents oldest-first. The returned slice is
// a fresh copy of the chunk list, so a subsequent Clear does not disturb it.
func (b *PreRollBuffer) Snapshot() [][]byte {
	out := make([][]byte, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Clear drops all retained chunks, keeping the backing array.
func (b *PreRollBuffer) Clear() {
	b.chunks = b.chunks[:0]
}

// Len reports the number of retained chunks.
func (b *PreRollBuffer) Len() int { return len(b.chunks) }
