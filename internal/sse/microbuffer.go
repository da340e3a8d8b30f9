// Package sse re-encodes the canonical event stream produced by
// internal/upstream into the OpenAI and Anthropic Server-Sent Events
// dialects (spec.md §4.4).
package sse

import (
	"sync"
	"time"

	"github.com/vendorgate/gateway/internal/config"
)

// MicroBuffer coalesces small, rapidly-arriving deltas before writing to the
// client: a coalesced chunk is held while both unflushed bytes stay under
// 1 KiB and time since the last flush stays under 16ms (spec.md §4.4
// "Micro-buffer").
type MicroBuffer struct {
	mu        sync.Mutex
	buf       []byte
	lastFlush time.Time
	flush     func([]byte)
}

// NewMicroBuffer creates a buffer that calls flush whenever a coalescing
// threshold is crossed.
func NewMicroBuffer(flush func([]byte)) *MicroBuffer {
	return &MicroBuffer{lastFlush: time.Now(), flush: flush}
}

// Write appends data, flushing immediately if either threshold is crossed.
func (m *MicroBuffer) Write(data []byte) {
	m.mu.Lock()
	m.buf = append(m.buf, data...)
	shouldFlush := len(m.buf) >= config.MicroBufferByteThreshold ||
		time.Since(m.lastFlush) >= config.MicroBufferTimeThreshold
	var out []byte
	if shouldFlush && len(m.buf) > 0 {
		out = m.buf
		m.buf = nil
		m.lastFlush = time.Now()
	}
	m.mu.Unlock()

	if out != nil {
		m.flush(out)
	}
}

// Flush forces any held bytes out immediately (used at segment boundaries
// and stream end).
func (m *MicroBuffer) Flush() {
	m.mu.Lock()
	out := m.buf
	m.buf = nil
	m.lastFlush = time.Now()
	m.mu.Unlock()

	if len(out) > 0 {
		m.flush(out)
	}
}
