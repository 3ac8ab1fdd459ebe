package event

import (
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
)

const stateRunning = "running"

func fromContainerSummary(c container.Summary, at time.Time) domain.ContainerRunState {
	name := ""
	if len(c.Names) > 0 {
		name = c.Names[0]
	}
	return domain.ContainerRunState{
		ContainerIdentity: domain.NewContainerIdentity(c.ID, name, c.Image, c.Labels),
		Running:           c.State == stateRunning,
		RunningUpdateAt:   at,
	}
}

func fromEventsMessage(msg events.Message) (domain.ContainerEvent, error) {
	eventType := domain.EventType(msg.Action)
	if !eventType.IsValid() {
		return domain.ContainerEvent{}, NewUnsupportedEventTypeError(eventType)
	}
	attrs := msg.Actor.Attributes
	return domain.ContainerEvent{
		Container: domain.NewContainerIdentity(msg.Actor.ID, attrs["name"], attrs["image"], attrs),
		EventType: eventType,
		// Millisecond precision is all reconciliation relies on.
		Time: time.UnixMilli(msg.TimeNano / int64(time.Millisecond)).UTC(),
	}, nil
}
