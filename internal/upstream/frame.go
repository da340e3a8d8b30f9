package upstream

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/vendorgate/gateway/internal/config"
)

// Frame is one decoded binary event-stream frame: header fields plus the
// raw JSON payload (spec.md §4.3 "Binary event-stream decoding").
type Frame struct {
	Headers map[string]string
	Payload []byte
}

// EventType returns the `:event-type` header, or "" if absent.
func (f Frame) EventType() string {
	return f.Headers[":event-type"]
}

// ErrTooManyResyncs is returned when five consecutive resync attempts fail
// to find a valid frame (spec.md: "five consecutive resync events fail the
// stream").
var ErrTooManyResyncs = fmt.Errorf("upstream: exceeded resync attempts")

// FrameReader incrementally decodes frames out of a byte stream that may
// arrive in arbitrary chunk boundaries, resyncing on corruption by dropping
// one byte at a time.
type FrameReader struct {
	buf          []byte
	resyncStreak int
}

// NewFrameReader creates an empty reader.
func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed appends newly-read bytes to the internal buffer.
func (r *FrameReader) Feed(data []byte) {
	r.buf = append(r.buf, data...)
}

// Next attempts to extract one complete frame from the buffered bytes. It
// returns (frame, true, nil) on success, (zero, false, nil) when more data
// is needed, or a non-nil error if resync budget is exhausted.
func (r *FrameReader) Next() (Frame, bool, error) {
	for {
		if len(r.buf) < 8 {
			return Frame{}, false, nil
		}

		totalLen := binary.BigEndian.Uint32(r.buf[0:4])

		if totalLen > config.MaxFrameSize || totalLen < config.MinFrameSize {
			needMore, exhausted := r.resync()
			if exhausted {
				return Frame{}, false, ErrTooManyResyncs
			}
			if needMore {
				return Frame{}, false, nil
			}
			continue
		}

		if uint32(len(r.buf)) < totalLen {
			return Frame{}, false, nil
		}

		frameBytes := r.buf[:totalLen]
		frame, err := decodeFrame(frameBytes)
		if err != nil {
			needMore, exhausted := r.resync()
			if exhausted {
				return Frame{}, false, ErrTooManyResyncs
			}
			if needMore {
				return Frame{}, false, nil
			}
			continue
		}

		r.buf = r.buf[totalLen:]
		r.resyncStreak = 0
		return frame, true, nil
	}
}

// resync drops one corrupt byte and advances the streak counter. exhausted
// reports a genuine resync-budget failure; needMore reports the buffer is
// merely too short to inspect yet and more bytes are needed off the wire —
// the two must stay distinct so a corrupt byte landing near the tail of the
// currently-buffered chunk doesn't fail the whole stream (spec.md §8
// "up to four corrupt bytes" must be tolerated).
func (r *FrameReader) resync() (needMore bool, exhausted bool) {
	r.resyncStreak++
	if r.resyncStreak >= config.MaxResyncAttempts {
		return false, true
	}
	if len(r.buf) > 0 {
		r.buf = r.buf[1:]
	}
	return len(r.buf) < 8, false
}

func decodeFrame(frameBytes []byte) (Frame, error) {
	if len(frameBytes) < 12 {
		return Frame{}, fmt.Errorf("frame too short")
	}

	totalLen := binary.BigEndian.Uint32(frameBytes[0:4])
	headersLen := binary.BigEndian.Uint32(frameBytes[4:8])

	if uint32(len(frameBytes)) != totalLen {
		return Frame{}, fmt.Errorf("frame length mismatch")
	}
	if headersLen > totalLen-12 {
		return Frame{}, fmt.Errorf("headers length exceeds frame")
	}

	crcOffset := totalLen - 4
	expectedCRC := binary.BigEndian.Uint32(frameBytes[crcOffset:])
	actualCRC := crc32.ChecksumIEEE(frameBytes[:crcOffset])
	if expectedCRC != actualCRC {
		return Frame{}, fmt.Errorf("crc mismatch")
	}

	headerBytes := frameBytes[8 : 8+headersLen]
	payload := frameBytes[8+headersLen : crcOffset]

	headers, err := decodeHeaders(headerBytes)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Headers: headers, Payload: payload}, nil
}

// Typed header value tags per the AWS event-stream header encoding this
// protocol borrows: each header is
// [nameLen u8][name][valueType u8][value...]. Only the string type (7) is
// meaningful here (`:event-type`, `:message-type`, `:content-type`).
const headerTypeString = 7

func decodeHeaders(b []byte) (map[string]string, error) {
	headers := make(map[string]string)
	pos := 0
	for pos < len(b) {
		if pos+1 > len(b) {
			return nil, fmt.Errorf("truncated header name length")
		}
		nameLen := int(b[pos])
		pos++
		if pos+nameLen > len(b) {
			return nil, fmt.Errorf("truncated header name")
		}
		name := string(b[pos : pos+nameLen])
		pos += nameLen

		if pos+1 > len(b) {
			return nil, fmt.Errorf("truncated header type")
		}
		valueType := b[pos]
		pos++

		switch valueType {
		case headerTypeString:
			if pos+2 > len(b) {
				return nil, fmt.Errorf("truncated header value length")
			}
			valLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
			pos += 2
			if pos+valLen > len(b) {
				return nil, fmt.Errorf("truncated header value")
			}
			headers[name] = string(b[pos : pos+valLen])
			pos += valLen
		case 0, 1: // boolean true/false, no payload
		case 2: // byte
			pos++
		case 3: // short
			pos += 2
		case 4: // integer
			pos += 4
		case 5: // long
			pos += 8
		case 6: // byte array, u16-length-prefixed
			if pos+2 > len(b) {
				return nil, fmt.Errorf("truncated byte-array length")
			}
			valLen := int(binary.BigEndian.Uint16(b[pos : pos+2]))
			pos += 2 + valLen
		case 8: // timestamp, 8-byte long
			pos += 8
		case 9: // uuid, 16 bytes
			pos += 16
		default:
			return nil, fmt.Errorf("unknown header value type %d", valueType)
		}
		if pos > len(b) {
			return nil, fmt.Errorf("header field overran buffer")
		}
	}
	return headers, nil
}
