package sip

// TryExtract attempts to pull one complete, Content-Length-delimited SIP
// message off the front of a stream buffer (TCP/TLS/WS), per spec.md
// §4.5. It returns the message bytes, the remaining unconsumed buffer,
// and ok=true if a full message was available. If the headers aren't
// complete yet, or the declared Content-Length exceeds what's buffered,
// ok is false and the buffer should be held unconsumed (per spec.md §8's
// "Content-Length exceeds the reassembled buffer is held, not
// delivered" boundary behavior).
func TryExtract(buf []byte) (msg, rest []byte, ok bool) {
	if !HeadersComplete(buf) {
		return nil, buf, false
	}

	headerEnd := headerBlockEnd(buf)

	length := ContentLength(buf)
	if length < 0 {
		length = 0
	}

	total := headerEnd + length
	if total > len(buf) {
		return nil, buf, false
	}

	return buf[:total], buf[total:], true
}

// headerBlockEnd returns the index just past the CRLFCRLF terminator,
// i.e. where the body begins.
func headerBlockEnd(raw []byte) int {
	h, _ := splitHeadersBody(raw)
	return len(h) + 4
}
