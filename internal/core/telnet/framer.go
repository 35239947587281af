// Package telnet implements the receiver's realtime channel: a long-lived
// TCP socket carrying carriage-return terminated status events.
package telnet

import (
	"bytes"
	"strings"
)

// Delimiter terminates every message on the realtime channel.
const Delimiter byte = '\r'

// Framer splits a byte stream into complete messages. Trailing bytes without
// a delimiter are kept until a later Feed completes them. A Framer is owned
// by a single read loop and is not safe for concurrent use.
type Framer struct {
	buf []byte
}

// Feed appends chunk to the pending buffer and returns every message that is
// now complete, in stream order. Empty messages are skipped.
func (f *Framer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var messages []string
	start := 0
	for {
		idx := bytes.IndexByte(f.buf[start:], Delimiter)
		if idx < 0 {
			break
		}
		raw := f.buf[start : start+idx]
		start += idx + 1
		if len(raw) == 0 {
			continue
		}
		messages = append(messages, strings.ToValidUTF8(string(raw), "\uFFFD"))
	}

	switch {
	case start == len(f.buf):
		f.buf = f.buf[:0]
	case start > 0:
		f.buf = append(f.buf[:0], f.buf[start:]...)
	}
	return messages
}

// Pending returns the number of buffered bytes not yet terminated.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset drops any partial message, used when a connection is replaced.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}
