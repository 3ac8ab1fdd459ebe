package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

const (
	readBufferSize = 32 * 1024

	// A raw line longer than this was split by the runtime.
	maxRawChunkSize = timestampPrefixSize + MaxLineSize

	// MaxFrameSize bounds a frame payload. The runtime splits lines well
	// below it, so a larger size means a corrupt header.
	MaxFrameSize = 64 * framedPartialSize
)

// ChunkReader cuts a log response body into chunks Decode can handle on their
// own: one whole frame per chunk for multiplexed bodies, one line (or one
// runtime-split piece of a line) per chunk for raw bodies.
type ChunkReader struct {
	r *bufio.Reader
}

func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Next returns the next chunk, or io.EOF once the body is exhausted. A body
// that ends inside a frame yields io.ErrUnexpectedEOF, and a header
// announcing more than MaxFrameSize bytes an *OversizedFrameError.
func (c *ChunkReader) Next() ([]byte, error) {
	head, err := c.r.Peek(4)
	if len(head) == 0 {
		return nil, err
	}
	if !IsFramed(head) {
		return c.readRaw()
	}

	header, err := c.r.Peek(headerSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[4:])
	if size > uint32(MaxFrameSize) {
		return nil, NewOversizedFrameError(int64(size), int64(MaxFrameSize))
	}
	chunk := make([]byte, headerSize+int(size))
	if _, err := io.ReadFull(c.r, chunk); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return chunk, nil
}

func (c *ChunkReader) readRaw() ([]byte, error) {
	line := make([]byte, 0, 256)
	for len(line) < maxRawChunkSize {
		b, err := c.r.ReadByte()
		if err != nil {
			if len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		line = append(line, b)
		if b == '\n' {
			return line, nil
		}
	}
	// A line of exactly the split size still owns its newline.
	if next, err := c.r.Peek(1); err == nil && next[0] == '\n' {
		_, _ = c.r.ReadByte()
		line = append(line, '\n')
	}
	return line, nil
}
