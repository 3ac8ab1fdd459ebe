package domain

import "time"

type EventType string

const (
	EventTypeContainerStarted   EventType = "start"
	EventTypeContainerDied      EventType = "die"
	EventTypeContainerDestroyed EventType = "destroy"
)

func (et EventType) IsValid() bool {
	switch et {
	case EventTypeContainerStarted,
		EventTypeContainerDied,
		EventTypeContainerDestroyed:
		return true
	}
	return false
}

// Running reports the run state the event implies.
func (et EventType) Running() bool {
	return et == EventTypeContainerStarted
}

// ContainerEvent is one lifecycle event from the runtime. Time carries
// millisecond precision.
type ContainerEvent struct {
	Container ContainerIdentity
	EventType EventType
	Time      time.Time
}
