package event

import (
	"errors"
	"fmt"

	"github.com/auto-dns/docker-logwatch/internal/domain"
)

// ErrStreamClosed is reported when the runtime ends the event stream without
// an error of its own.
var ErrStreamClosed = errors.New("docker events stream closed")

type UnsupportedEventTypeError struct {
	eventType domain.EventType
}

func NewUnsupportedEventTypeError(eventType domain.EventType) *UnsupportedEventTypeError {
	return &UnsupportedEventTypeError{eventType: eventType}
}

func (e *UnsupportedEventTypeError) Error() string {
	return fmt.Sprintf("Unsupported event type: %s", e.eventType)
}
