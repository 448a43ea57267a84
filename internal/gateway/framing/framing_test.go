package framing

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		payload    []byte
		compressed bool
	}{
		{"empty", nil, false},
		{"small", []byte("hello"), false},
		{"compressed", []byte("payload-bytes"), true},
		{"large", bytes.Repeat([]byte{0xAB}, 70000), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, tc.payload, tc.compressed); err != nil {
				t.Fatalf("Encode: %v", err)
			}

			frame, err := Decode(&buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			if frame.Trailer {
				t.Error("data frame decoded with Trailer set")
			}
			if frame.Compressed != tc.compressed {
				t.Errorf("Compressed = %v, want %v", frame.Compressed, tc.compressed)
			}
			if !bytes.Equal(frame.Payload, tc.payload) && !(len(frame.Payload) == 0 && len(tc.payload) == 0) {
				t.Errorf("payload round-trip mismatch: got %d bytes, want %d bytes", len(frame.Payload), len(tc.payload))
			}
		})
	}
}

func TestEncodeTrailer_SetsTrailerFlag(t *testing.T) {
	var buf bytes.Buffer
	trailer := map[string][]string{
		"grpc-status":  {"0"},
		"grpc-message": {""},
	}
	if err := EncodeTrailer(&buf, trailer); err != nil {
		t.Fatalf("EncodeTrailer: %v", err)
	}

	frame, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !frame.Trailer {
		t.Fatal("expected Trailer flag set")
	}

	got := DecodeTrailerText(frame.Payload)
	if got["grpc-status"][0] != "0" {
		t.Errorf("grpc-status = %v, want [0]", got["grpc-status"])
	}
}

func TestTrailerText_RoundTrip(t *testing.T) {
	trailer := map[string][]string{
		"X-Custom-Header": {"a", "b"},
		"Grpc-Status":      {"5"},
	}
	text := EncodeTrailerText(trailer)

	if bytes.HasSuffix(text, []byte("\r\n")) {
		t.Error("trailer text must not have a terminating CRLF")
	}

	got := DecodeTrailerText(text)
	if len(got["x-custom-header"]) != 2 || got["x-custom-header"][0] != "a" || got["x-custom-header"][1] != "b" {
		t.Errorf("x-custom-header = %v, want [a b]", got["x-custom-header"])
	}
	if len(got["grpc-status"]) != 1 || got["grpc-status"][0] != "5" {
		t.Errorf("grpc-status = %v, want [5]", got["grpc-status"])
	}
}

func TestDecode_PartialFrameIsUnexpectedEOF(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []byte("hello world"), false); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	truncated := buf.Bytes()[:HeaderSize+3]
	_, err := Decode(bytes.NewReader(truncated))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Decode on truncated frame = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDecode_CleanEOFBetweenFrames(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("Decode on empty reader = %v, want io.EOF", err)
	}
}

func TestTryPeekFrame_IncompleteReturnsNotOK(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader([]byte{0x00, 0x00}))
	_, ok, err := TryPeekFrame(br)
	if err != nil {
		t.Fatalf("TryPeekFrame: %v", err)
	}
	if ok {
		t.Error("expected ok=false for incomplete header")
	}
}

func TestTryPeekFrame_CompleteFrameConsumesIt(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []byte("abc"), false); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := Encode(&buf, []byte("def"), false); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	br := bufio.NewReader(&buf)

	f1, ok, err := TryPeekFrame(br)
	if err != nil || !ok {
		t.Fatalf("first TryPeekFrame: ok=%v err=%v", ok, err)
	}
	if string(f1.Payload) != "abc" {
		t.Errorf("first payload = %q, want abc", f1.Payload)
	}

	f2, ok, err := TryPeekFrame(br)
	if err != nil || !ok {
		t.Fatalf("second TryPeekFrame: ok=%v err=%v", ok, err)
	}
	if string(f2.Payload) != "def" {
		t.Errorf("second payload = %q, want def", f2.Payload)
	}
}
