package fcgi

import (
	"encoding/binary"
	"fmt"
)

// Header is the decoded 8-byte record header.
type Header struct {
	Version       uint8
	Type          RecordType
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
}

// BodyLength returns the number of bytes that follow the header on the wire.
func (h Header) BodyLength() int {
	return int(h.ContentLength) + int(h.PaddingLength)
}

// Record is one framed protocol unit: header fields plus content. Padding
// is consumed by the decoder and never retained.
type Record struct {
	Version   uint8
	Type      RecordType
	RequestID uint16
	Content   []byte
}

// IsEndOfStream reports whether the record terminates a stream
// (stream record type with zero-length content).
func (r Record) IsEndOfStream() bool {
	return r.Type.IsStream() && len(r.Content) == 0
}

// DecodeHeader parses a record header from the first HeaderSize bytes of b.
//
// Returns ErrMalformedHeader if b is shorter than a header or the
// declared version is not Version1.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedHeader, HeaderSize, len(b))
	}

	h := Header{
		Version:       b[0],
		Type:          RecordType(b[1]),
		RequestID:     binary.BigEndian.Uint16(b[2:4]),
		ContentLength: binary.BigEndian.Uint16(b[4:6]),
		PaddingLength: b[6],
	}

	if h.Version != Version1 {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedHeader, h.Version)
	}

	return h, nil
}

// DecodeBody extracts the content of a record from b, which must hold
// exactly h.ContentLength+h.PaddingLength bytes. Padding is discarded.
//
// The returned slice aliases b.
func DecodeBody(h Header, b []byte) ([]byte, error) {
	if len(b) != h.BodyLength() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBody, h.BodyLength(), len(b))
	}
	return b[:h.ContentLength], nil
}

// paddingFor returns the padding needed to align a record with n content
// bytes to recordAlignment.
func paddingFor(n int) int {
	return (recordAlignment - n%recordAlignment) % recordAlignment
}

// AppendRecord appends one encoded record (header, content, padding) to dst.
func AppendRecord(dst []byte, t RecordType, requestID uint16, content []byte) ([]byte, error) {
	if len(content) > MaxContentLength {
		return dst, fmt.Errorf("%w: %d bytes", ErrContentTooLarge, len(content))
	}

	pad := paddingFor(len(content))

	var hdr [HeaderSize]byte
	hdr[0] = Version1
	hdr[1] = byte(t)
	binary.BigEndian.PutUint16(hdr[2:4], requestID)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(content)))
	hdr[6] = byte(pad)
	// hdr[7] reserved

	dst = append(dst, hdr[:]...)
	dst = append(dst, content...)
	for i := 0; i < pad; i++ {
		dst = append(dst, 0)
	}
	return dst, nil
}

// Encode returns a single encoded record.
func Encode(t RecordType, requestID uint16, content []byte) ([]byte, error) {
	buf := make([]byte, 0, HeaderSize+len(content)+paddingFor(len(content)))
	return AppendRecord(buf, t, requestID, content)
}

// AppendStream appends data as a sequence of stream records of type t, each
// carrying at most MaxContentLength bytes, followed by the zero-length
// terminator record.
func AppendStream(dst []byte, t RecordType, requestID uint16, data []byte) []byte {
	for len(data) > 0 {
		n := len(data)
		if n > MaxContentLength {
			n = MaxContentLength
		}
		// chunks never exceed MaxContentLength, AppendRecord cannot fail here
		dst, _ = AppendRecord(dst, t, requestID, data[:n])
		data = data[n:]
	}
	dst, _ = AppendRecord(dst, t, requestID, nil)
	return dst
}

// StreamSize returns the encoded size of AppendStream(t, id, data).
func StreamSize(dataLen int) int {
	size := HeaderSize // terminator
	for dataLen > 0 {
		n := dataLen
		if n > MaxContentLength {
			n = MaxContentLength
		}
		size += HeaderSize + n + paddingFor(n)
		dataLen -= n
	}
	return size
}

// ============================================================================
// Fixed-size record bodies
// ============================================================================

// BeginRequestBody is the 8-byte content of a BeginRequest record.
type BeginRequestBody struct {
	Role  Role
	Flags Flags
}

// DecodeBeginRequest parses the content of a BeginRequest record.
func DecodeBeginRequest(content []byte) (BeginRequestBody, error) {
	if len(content) != 8 {
		return BeginRequestBody{}, fmt.Errorf("%w: begin request body is %d bytes", ErrMalformedBody, len(content))
	}
	return BeginRequestBody{
		Role:  Role(binary.BigEndian.Uint16(content[0:2])),
		Flags: Flags(content[2]),
	}, nil
}

// Bytes encodes the body.
func (b BeginRequestBody) Bytes() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint16(out[0:2], uint16(b.Role))
	out[2] = byte(b.Flags)
	return out
}

// EndRequestBody is the 8-byte content of an EndRequest record.
type EndRequestBody struct {
	AppStatus      uint32
	ProtocolStatus ProtocolStatus
}

// DecodeEndRequest parses the content of an EndRequest record.
func DecodeEndRequest(content []byte) (EndRequestBody, error) {
	if len(content) != 8 {
		return EndRequestBody{}, fmt.Errorf("%w: end request body is %d bytes", ErrMalformedBody, len(content))
	}
	return EndRequestBody{
		AppStatus:      binary.BigEndian.Uint32(content[0:4]),
		ProtocolStatus: ProtocolStatus(content[4]),
	}, nil
}

// Bytes encodes the body.
func (b EndRequestBody) Bytes() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[0:4], b.AppStatus)
	out[4] = byte(b.ProtocolStatus)
	return out
}

// UnknownTypeBody returns the content of an UnknownType reply for a
// management record of type t.
func UnknownTypeBody(t RecordType) []byte {
	out := make([]byte, 8)
	out[0] = byte(t)
	return out
}
