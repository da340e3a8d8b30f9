package upstream

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestFrame(t *testing.T, headers map[string]string, payload []byte) []byte {
	t.Helper()

	var headerBytes []byte
	for name, val := range headers {
		headerBytes = append(headerBytes, byte(len(name)))
		headerBytes = append(headerBytes, []byte(name)...)
		headerBytes = append(headerBytes, headerTypeString)
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(val)))
		headerBytes = append(headerBytes, lenBuf...)
		headerBytes = append(headerBytes, []byte(val)...)
	}

	totalLen := 4 + 4 + len(headerBytes) + len(payload) + 4
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(totalLen))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(headerBytes)))
	buf = append(buf, headerBytes...)
	buf = append(buf, payload...)

	crc := crc32.ChecksumIEEE(buf)
	crcBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBuf, crc)
	buf = append(buf, crcBuf...)

	require.Equal(t, totalLen, len(buf))
	return buf
}

func TestFrameReaderDecodesSingleFrame(t *testing.T) {
	payload := []byte(`{"content":"hi"}`)
	data := encodeTestFrame(t, map[string]string{":event-type": "assistantResponseEvent"}, payload)

	r := NewFrameReader()
	r.Feed(data)

	frame, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "assistantResponseEvent", frame.EventType())
	assert.Equal(t, payload, frame.Payload)
}

func TestFrameReaderNeedsMoreData(t *testing.T) {
	payload := []byte(`{"content":"hi"}`)
	data := encodeTestFrame(t, map[string]string{":event-type": "assistantResponseEvent"}, payload)

	r := NewFrameReader()
	r.Feed(data[:len(data)-3])

	_, ok, err := r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFrameReaderResyncsPastGarbage(t *testing.T) {
	payload := []byte(`{"content":"hi"}`)
	good := encodeTestFrame(t, map[string]string{":event-type": "assistantResponseEvent"}, payload)

	r := NewFrameReader()
	r.Feed(append([]byte{0xDE, 0xAD}, good...))

	frame, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "assistantResponseEvent", frame.EventType())
}

func TestFrameReaderFailsAfterTooManyResyncs(t *testing.T) {
	r := NewFrameReader()
	garbage := make([]byte, 64)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	r.Feed(garbage)

	_, _, err := r.Next()
	assert.ErrorIs(t, err, ErrTooManyResyncs)
}

func TestFrameReaderResyncNeedsMoreDataIsNotAFailure(t *testing.T) {
	// One corrupt byte followed by just enough bytes to clear the 8-byte
	// floor but not a full frame: dropping the corrupt byte leaves the
	// buffer short again, which must read as "need more data", not a
	// resync-budget failure.
	r := NewFrameReader()
	r.Feed([]byte{0xFF, 0, 0, 0, 0, 0, 0, 0})

	frame, ok, err := r.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Frame{}, frame)
	assert.Equal(t, 1, r.resyncStreak, "a single corrupt byte must not exhaust the resync budget")
}

func TestFrameReaderResyncBoundary(t *testing.T) {
	payload := []byte(`{"content":"hi"}`)
	good := encodeTestFrame(t, map[string]string{":event-type": "assistantResponseEvent"}, payload)

	t.Run("four corrupt bytes still resumes", func(t *testing.T) {
		garbage := make([]byte, 4)
		for i := range garbage {
			garbage[i] = 0xFF
		}
		r := NewFrameReader()
		r.Feed(append(garbage, good...))

		frame, ok, err := r.Next()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "assistantResponseEvent", frame.EventType())
	})

	t.Run("fifth corrupt byte fails the stream", func(t *testing.T) {
		garbage := make([]byte, 5)
		for i := range garbage {
			garbage[i] = 0xFF
		}
		r := NewFrameReader()
		r.Feed(append(garbage, good...))

		_, _, err := r.Next()
		assert.ErrorIs(t, err, ErrTooManyResyncs)
	})
}

func TestRepairTruncatedJSONClosesOpenObject(t *testing.T) {
	repaired := repairJSON(`{"path": "a.go", "mode`)
	var v interface{}
	assert.NoError(t, json.Unmarshal(repaired, &v))
}

func TestRepairJSONFallsBackToEmptyObject(t *testing.T) {
	repaired := repairJSON(`not json at all }]`)
	assert.Equal(t, `{}`, string(repaired))
}
