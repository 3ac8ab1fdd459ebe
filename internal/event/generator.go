package event

import (
	"context"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/auto-dns/docker-logwatch/internal/util"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/rs/zerolog"
)

const bufferSize = 100

// DockerSource feeds the run-state tracker from the Docker daemon.
type DockerSource struct {
	logger zerolog.Logger
	cli    dockerClient
}

func NewDockerSource(cli dockerClient, logger zerolog.Logger) *DockerSource {
	return &DockerSource{
		logger: logger,
		cli:    cli,
	}
}

// Subscribe streams container start, die and destroy events. Exactly one
// error is sent on the error channel when the stream ends for any reason
// other than ctx being cancelled; both channels are closed afterwards.
func (ds *DockerSource) Subscribe(ctx context.Context) (<-chan domain.ContainerEvent, <-chan error) {
	out := make(chan domain.ContainerEvent, bufferSize)
	errOut := make(chan error, 1)

	filterArgs := filters.NewArgs()
	filterArgs.Add("type", string(events.ContainerEventType))
	filterArgs.Add("event", string(domain.EventTypeContainerStarted))
	filterArgs.Add("event", string(domain.EventTypeContainerDied))
	filterArgs.Add("event", string(domain.EventTypeContainerDestroyed))

	eventCh, errCh := ds.cli.Events(ctx, events.ListOptions{Filters: filterArgs})

	go func() {
		defer close(out)
		defer close(errOut)

		for {
			select {
			case <-ctx.Done():
				ds.logger.Debug().Msg("Docker event subscription cancelled by context")
				return
			case err, ok := <-errCh:
				if ctx.Err() != nil {
					return
				}
				if !ok || err == nil {
					err = ErrStreamClosed
				}
				errOut <- err
				return
			case msg, ok := <-eventCh:
				if !ok {
					if ctx.Err() == nil {
						errOut <- ErrStreamClosed
					}
					return
				}

				event, convErr := fromEventsMessage(msg)
				if convErr != nil {
					if _, ok := convErr.(*UnsupportedEventTypeError); ok {
						ds.logger.Debug().Err(convErr).Msg("Skipping docker event")
					} else {
						ds.logger.Error().Err(convErr).Msg("converting docker event message to container event")
					}
					continue
				}

				ds.logger.Debug().
					Str("container_id", event.Container.ID).
					Str("action", string(event.EventType)).
					Msg("Received Docker event")
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errOut
}

// List returns every container, running or not, stamped with at.
func (ds *DockerSource) List(ctx context.Context, at time.Time) ([]domain.ContainerRunState, error) {
	containers, err := ds.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, err
	}
	return util.Map(containers, func(c container.Summary) domain.ContainerRunState {
		return fromContainerSummary(c, at)
	}), nil
}
