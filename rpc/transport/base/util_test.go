package base

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
)

// TestFrameRoundTrip tests writing and reading frames over a pipe
func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payloads := [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte{7}, 70000)}

	go func() {
		for _, p := range payloads {
			if err := writeFrame(client, p); err != nil {
				t.Errorf("Failed to write frame: %v", err)
				return
			}
		}
	}()

	buf := make([]byte, 16)
	for i, want := range payloads {
		got, err := readFrame(server, buf)
		if err != nil {
			t.Fatalf("Failed to read frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Frame %d mismatch: got %d bytes, want %d bytes", i, len(got), len(want))
		}
	}
}

// TestFrameTooLarge tests that oversized frames are rejected before allocation
func TestFrameTooLarge(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], maxFrameSize+1)

	if _, err := readFrame(bytes.NewReader(header[:]), nil); err == nil {
		t.Error("Expected error for oversized frame")
	}
}
