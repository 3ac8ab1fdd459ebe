package state

import (
	"context"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
)

// source is where run-state information comes from: a lifecycle event stream
// and full container listings.
type source interface {
	Subscribe(ctx context.Context) (<-chan domain.ContainerEvent, <-chan error)
	List(ctx context.Context, at time.Time) ([]domain.ContainerRunState, error)
}

// Observer receives run-state changes. It is called with the tracker's lock
// held and must not call back into the tracker.
type Observer func(domain.ContainerRunState)
