package frame

import "fmt"

type TruncatedFrameError struct {
	Offset    int
	Want      int
	Available int
}

func NewTruncatedFrameError(offset, want, available int) *TruncatedFrameError {
	return &TruncatedFrameError{Offset: offset, Want: want, Available: available}
}

func (e *TruncatedFrameError) Error() string {
	return fmt.Sprintf("truncated frame at offset %d: want %d bytes, %d available", e.Offset, e.Want, e.Available)
}

type OversizedFrameError struct {
	Size int64
	Max  int64
}

func NewOversizedFrameError(size, max int64) *OversizedFrameError {
	return &OversizedFrameError{Size: size, Max: max}
}

func (e *OversizedFrameError) Error() string {
	return fmt.Sprintf("frame header announces %d bytes, limit is %d", e.Size, e.Max)
}
