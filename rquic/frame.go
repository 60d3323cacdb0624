package rquic

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxFrameSize bounds a single payload on a session stream.
const maxFrameSize = 4096

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", len(data), maxFrameSize)
	}

	b := make([]byte, 0, len(data)+protowire.SizeVarint(uint64(len(data))))
	b = protowire.AppendVarint(b, uint64(len(data)))
	b = append(b, data...)

	_, err := w.Write(b)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	sz, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if sz > maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds maximum %d", sz, maxFrameSize)
	}

	buf := make([]byte, sz)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return buf, nil
}
