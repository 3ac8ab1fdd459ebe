package core

import (
	"context"
	"io"

	"github.com/auto-dns/docker-logwatch/internal/state"
	"github.com/docker/docker/api/types/container"
)

type logsClient interface {
	ContainerLogs(ctx context.Context, container string, options container.LogsOptions) (io.ReadCloser, error)
}

type runStateTracker interface {
	Watch(ctx context.Context, fn state.Observer)
}
