package fcgi

// decoderState is the framing state of a Decoder.
type decoderState int

const (
	// stateAwaitingHeader needs HeaderSize bytes to continue.
	stateAwaitingHeader decoderState = iota

	// stateAwaitingBody needs contentLength+paddingLength bytes to continue.
	stateAwaitingBody
)

func (s decoderState) String() string {
	switch s {
	case stateAwaitingHeader:
		return "awaiting-header"
	case stateAwaitingBody:
		return "awaiting-content-and-padding"
	default:
		return "unknown"
	}
}

// Decoder turns an arbitrarily chunked byte stream into records.
//
// The transport may deliver buffers smaller or larger than a record; the
// decoder keeps leftover bytes between calls and alternates between two
// states: awaiting a header (8 bytes) and awaiting content+padding (a known
// byte count taken from the header). After a body completes it re-enters the
// header state.
//
// A malformed header is sticky: once Feed has returned ErrMalformedHeader
// every later call returns it again. The stream cannot be resynchronized.
//
// A Decoder belongs to exactly one connection and is not safe for
// concurrent use.
type Decoder struct {
	state  decoderState
	header Header
	buf    []byte
	err    error
}

// NewDecoder returns a decoder in the awaiting-header state.
func NewDecoder() *Decoder {
	return &Decoder{state: stateAwaitingHeader}
}

// Feed appends data to the pending bytes and calls fn for every complete
// record, in wire order.
//
// Record.Content aliases the decoder's internal buffer and is only valid
// until fn returns; callers that retain it must copy.
//
// If fn returns an error, decoding stops, the remaining bytes stay buffered
// and the error is returned unchanged.
func (d *Decoder) Feed(data []byte, fn func(Record) error) error {
	if d.err != nil {
		return d.err
	}

	d.buf = append(d.buf, data...)
	off := 0

	defer func() {
		// Compact: keep only bytes that have not been consumed yet
		n := copy(d.buf, d.buf[off:])
		d.buf = d.buf[:n]
	}()

	for {
		avail := len(d.buf) - off

		switch d.state {
		case stateAwaitingHeader:
			if avail < HeaderSize {
				return nil
			}
			h, err := DecodeHeader(d.buf[off : off+HeaderSize])
			if err != nil {
				d.err = err
				off = len(d.buf)
				return err
			}
			off += HeaderSize
			d.header = h
			d.state = stateAwaitingBody

		case stateAwaitingBody:
			need := d.header.BodyLength()
			if avail < need {
				return nil
			}
			content, err := DecodeBody(d.header, d.buf[off:off+need])
			if err != nil {
				// unreachable: exactly need bytes were sliced
				d.err = err
				return err
			}
			off += need
			d.state = stateAwaitingHeader

			rec := Record{
				Version:   d.header.Version,
				Type:      d.header.Type,
				RequestID: d.header.RequestID,
				Content:   content,
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
}

// Pending returns the number of buffered bytes not yet turned into records.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

