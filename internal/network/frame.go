package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"Ferry/internal/protocol"
)

const (
	// frameVersion is bumped whenever the frame layout changes.
	frameVersion = 1

	// headerSize is the 4-byte payload length followed by the version byte.
	headerSize = 5

	// maxFrameSize bounds one payload. Envelopes are capped well below it.
	maxFrameSize = 2 << 20
)

// writeFrame sends one envelope as [len uint32][version][payload] in a
// single write, so a request never leaves the stream half framed.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d:\n%w", len(payload), maxFrameSize, protocol.ErrMalformed)
	}

	buf := make([]byte, headerSize, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	buf[4] = frameVersion
	buf = append(buf, payload...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame:\n%w", err)
	}

	return nil
}

// readFrame reads one frame and returns its payload.
func readFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header:\n%w", err)
	}

	if header[4] != frameVersion {
		return nil, fmt.Errorf("frame version %d:\n%w", header[4], protocol.ErrMalformed)
	}

	size := binary.BigEndian.Uint32(header[:4])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d:\n%w", size, maxFrameSize, protocol.ErrMalformed)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload:\n%w", err)
	}

	return payload, nil
}
