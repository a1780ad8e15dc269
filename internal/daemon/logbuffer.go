package daemon

import (
	"sync"
	"time"
)

// DefaultLogBufferSize is the number of entries kept when none is given.
const DefaultLogBufferSize = 1000

// LogEntry is one daemon log line as served by GET /logs.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Run       string    `json:"run,omitempty"`
	Message   string    `json:"message"`
}

// LogBuffer maintains a circular buffer of recent log entries.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	maxSize  int
	writeIdx int
	count    int
}

// NewLogBuffer creates a new log buffer with the specified capacity.
func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = DefaultLogBufferSize
	}
	return &LogBuffer{
		entries: make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

// Add appends an entry, overwriting the oldest once full.
func (lb *LogBuffer) Add(entry LogEntry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries[lb.writeIdx] = entry
	lb.writeIdx = (lb.writeIdx + 1) % lb.maxSize
	if lb.count < lb.maxSize {
		lb.count++
	}
}

// GetRecent returns the most recent n entries, oldest first.
func (lb *LogBuffer) GetRecent(n int) []LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if n <= 0 || lb.count == 0 {
		return nil
	}
	if n > lb.count {
		n = lb.count
	}

	result := make([]LogEntry, n)

	// Oldest of the n entries we want
	startIdx := (lb.writeIdx - n + lb.maxSize) % lb.maxSize

	for i := 0; i < n; i++ {
		result[i] = lb.entries[(startIdx+i)%lb.maxSize]
	}
	return result
}

// Len returns the number of buffered entries.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.count
}

// Clear removes all entries from the buffer.
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries = make([]LogEntry, lb.maxSize)
	lb.writeIdx = 0
	lb.count = 0
}
