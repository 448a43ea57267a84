// Package framing implements the length-prefixed-message (LPM) wire frame
// used by gRPC, gRPC-Web and gRPC-over-WebSocket (C3): a 1-byte flags
// field, a 4-byte big-endian length, and that many bytes of payload.
package framing

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	// FlagTrailer marks a frame as a gRPC-Web trailer frame (bit 7).
	FlagTrailer byte = 0x80
	// FlagCompressed marks a frame's payload as compressed (bit 0).
	FlagCompressed byte = 0x01

	// HeaderSize is the fixed flags+length prefix size, in bytes.
	HeaderSize = 5
	// MaxFrameLength bounds the 4-byte length field's practical use; the
	// gateway additionally enforces configured max message sizes above
	// this layer (C7 proxy, C5 translators).
	MaxFrameLength = 1<<32 - 1
)

// Frame is one decoded LPM frame.
type Frame struct {
	Trailer    bool
	Compressed bool
	Payload    []byte
}

// Encode writes a single data frame (flags byte built from compressed)
// followed by len(payload) big-endian and the payload itself.
func Encode(w io.Writer, payload []byte, compressed bool) error {
	return writeFrame(w, payload, flagsOf(false, compressed))
}

// EncodeTrailer writes trailer as a single trailer frame. The trailer
// metadata is first serialized to the gRPC-Web trailer text format (UTF-8
// CRLF-separated "name: value" lines, no terminating CRLF) and that text
// becomes the frame payload.
func EncodeTrailer(w io.Writer, trailer map[string][]string) error {
	payload := EncodeTrailerText(trailer)
	return writeFrame(w, payload, flagsOf(true, false))
}

func flagsOf(trailer, compressed bool) byte {
	var f byte
	if trailer {
		f |= FlagTrailer
	}
	if compressed {
		f |= FlagCompressed
	}
	return f
}

func writeFrame(w io.Writer, payload []byte, flags byte) error {
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("framing: payload of %d bytes exceeds max frame length", len(payload))
	}

	var header [HeaderSize]byte
	header[0] = flags
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("framing: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("framing: write payload: %w", err)
		}
	}
	return nil
}

// Decode reads exactly one LPM frame from r. It returns io.EOF only if r is
// exhausted before any byte of the next frame is read; a partial frame at
// EOF is reported as io.ErrUnexpectedEOF.
func Decode(r io.Reader) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Frame{}, err
		}
		return Frame{}, err
	}

	flags := header[0]
	length := binary.BigEndian.Uint32(header[1:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, fmt.Errorf("framing: read payload: %w", err)
		}
	}

	return Frame{
		Trailer:    flags&FlagTrailer != 0,
		Compressed: flags&FlagCompressed != 0,
		Payload:    payload,
	}, nil
}

// TryPeekFrame checks, via br.Peek, whether one complete LPM frame is
// available, so callers can distinguish "need more bytes" from "have a
// full frame to decode". When it is, the frame is returned with ok true and
// its bytes are consumed from br. ok is false, and nothing is consumed, if
// the reader hits EOF before HeaderSize bytes or before the declared
// length, or if the frame is larger than br's buffer (bufio.ErrBufferFull).
func TryPeekFrame(br *bufio.Reader) (frame Frame, ok bool, err error) {
	header, err := br.Peek(HeaderSize)
	if err != nil {
		if err == io.EOF || err == bufio.ErrBufferFull {
			return Frame{}, false, nil
		}
		return Frame{}, false, err
	}

	flags := header[0]
	length := binary.BigEndian.Uint32(header[1:])

	total := HeaderSize + int(length)
	buf, err := br.Peek(total)
	if err != nil {
		if err == io.EOF || err == bufio.ErrBufferFull {
			return Frame{}, false, nil
		}
		return Frame{}, false, err
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])

	if _, err := br.Discard(total); err != nil {
		return Frame{}, false, err
	}

	return Frame{
		Trailer:    flags&FlagTrailer != 0,
		Compressed: flags&FlagCompressed != 0,
		Payload:    payload,
	}, true, nil
}

// EncodeTrailerText renders trailer metadata as gRPC-Web trailer text:
// UTF-8, CRLF-separated "name: value" lines, with no terminating CRLF.
// Header names are lower-cased per the gRPC-Web wire convention; multiple
// values for the same name produce one line per value, in the order keys
// were given (sorted for determinism) and values within a key preserved.
func EncodeTrailerText(trailer map[string][]string) []byte {
	if len(trailer) == 0 {
		return nil
	}

	names := make([]string, 0, len(trailer))
	for name := range trailer {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	first := true
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, v := range trailer[name] {
			if !first {
				b.WriteString("\r\n")
			}
			first = false
			b.WriteString(lower)
			b.WriteString(": ")
			b.WriteString(v)
		}
	}
	return []byte(b.String())
}

// DecodeTrailerText parses gRPC-Web trailer text back into metadata. It is
// the inverse of EncodeTrailerText and tolerates a trailing CRLF.
func DecodeTrailerText(text []byte) map[string][]string {
	out := map[string][]string{}
	s := strings.TrimRight(string(text), "\r\n")
	if s == "" {
		return out
	}
	for _, line := range strings.Split(s, "\r\n") {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		out[name] = append(out[name], value)
	}
	return out
}
