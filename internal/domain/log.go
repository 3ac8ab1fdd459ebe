package domain

import "time"

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Streams lists every stream a container produces, in a fixed order.
var Streams = []Stream{StreamStdout, StreamStderr}

type StreamSelector string

const (
	SelectStdout StreamSelector = "stdout"
	SelectStderr StreamSelector = "stderr"
	SelectBoth   StreamSelector = "both"
)

func (s StreamSelector) IsValid() bool {
	switch s {
	case SelectStdout, SelectStderr, SelectBoth:
		return true
	}
	return false
}

// Includes reports whether the selector wants the given stream.
func (s StreamSelector) Includes(stream Stream) bool {
	return s == SelectBoth || string(s) == string(stream)
}

// LogRecord is one completed log line of a single container stream.
type LogRecord struct {
	Timestamp time.Time
	Message   string
	Stream    Stream
}

// ContainerLog is a log line delivered to subscribers.
type ContainerLog struct {
	Stream    Stream            `json:"stream"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Container ContainerIdentity `json:"container"`
}
