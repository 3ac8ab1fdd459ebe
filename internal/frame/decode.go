package frame

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode"

	"github.com/auto-dns/docker-logwatch/internal/domain"
)

const (
	headerSize = 8

	// MaxLineSize is the payload size at which the runtime splits a log line.
	MaxLineSize = 16384

	// Width of the fixed-width RFC3339 timestamp prefix plus its separator.
	timestampPrefixSize = len("2006-01-02T15:04:05.000000000Z ")

	framedPartialSize = MaxLineSize + timestampPrefixSize

	streamByteStdout = 1
)

// Record is one decoded log record. Stream is empty for unframed input.
type Record struct {
	Stream             domain.Stream
	Timestamp          time.Time
	Message            string
	PotentiallyPartial bool
}

// IsFramed reports whether the chunk starts with a multiplexing header.
func IsFramed(chunk []byte) bool {
	return len(chunk) >= 4 && chunk[1] == 0 && chunk[2] == 0 && chunk[3] == 0
}

// Decode turns one chunk into records, in order. A frame running past the end
// of the chunk stops decoding with a *TruncatedFrameError; the records decoded
// before it are still returned.
func Decode(chunk []byte) ([]Record, error) {
	if len(chunk) == 0 {
		return nil, nil
	}
	if !IsFramed(chunk) {
		rec, ok := decodePayload(chunk)
		if !ok {
			return nil, nil
		}
		rec.PotentiallyPartial = len(rec.Message) == MaxLineSize
		return []Record{rec}, nil
	}

	var records []Record
	for i := 0; i < len(chunk); {
		if len(chunk)-i < headerSize {
			return records, NewTruncatedFrameError(i, headerSize, len(chunk)-i)
		}
		stream := domain.StreamStderr
		if chunk[i] == streamByteStdout {
			stream = domain.StreamStdout
		}
		size := int(binary.BigEndian.Uint32(chunk[i+4 : i+headerSize]))
		i += headerSize

		if size > len(chunk)-i {
			return records, NewTruncatedFrameError(i-headerSize, size, len(chunk)-i)
		}
		rec, ok := decodePayload(chunk[i : i+size])
		i += size
		if !ok {
			continue
		}
		rec.Stream = stream
		rec.PotentiallyPartial = size == framedPartialSize
		records = append(records, rec)
	}
	return records, nil
}

// decodePayload splits "<timestamp> <message>" at the first space. A payload
// whose first word is not a timestamp is kept whole with a zero Timestamp.
func decodePayload(payload []byte) (Record, bool) {
	s := strings.TrimRightFunc(string(payload), unicode.IsSpace)
	if s == "" {
		return Record{}, false
	}
	ts, msg, _ := strings.Cut(s, " ")
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Record{Message: s}, true
	}
	return Record{Timestamp: t, Message: msg}, true
}
