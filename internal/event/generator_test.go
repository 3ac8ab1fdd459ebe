package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/rs/zerolog"
)

type fakeDockerClient struct {
	msgs       chan events.Message
	errs       chan error
	gotOptions events.ListOptions
	containers []container.Summary
	listErr    error
	listOpts   container.ListOptions
}

func (f *fakeDockerClient) Events(_ context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	f.gotOptions = options
	return f.msgs, f.errs
}

func (f *fakeDockerClient) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.listOpts = options
	return f.containers, f.listErr
}

func TestDockerSource_Subscribe(t *testing.T) {
	cli := &fakeDockerClient{msgs: make(chan events.Message, 4), errs: make(chan error, 1)}
	src := NewDockerSource(cli, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evs, errs := src.Subscribe(ctx)

	if !cli.gotOptions.Filters.ExactMatch("type", "container") {
		t.Errorf("missing container type filter: %v", cli.gotOptions.Filters)
	}
	for _, action := range []string{"start", "die", "destroy"} {
		if !cli.gotOptions.Filters.ExactMatch("event", action) {
			t.Errorf("missing %s filter", action)
		}
	}

	cli.msgs <- events.Message{Action: "pause", Actor: events.Actor{ID: "c1"}}
	cli.msgs <- events.Message{
		Action: "start",
		Actor: events.Actor{ID: "c1", Attributes: map[string]string{
			"name":                       "shop-api-1",
			"image":                      "shop/api:2",
			"com.docker.compose.project": "shop",
			"com.docker.compose.service": "api",
		}},
		TimeNano: 1704067200123456789,
	}

	select {
	case ev := <-evs:
		if ev.EventType != domain.EventTypeContainerStarted || ev.Container.ID != "c1" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Container.Compose == nil || ev.Container.Compose.Service != "api" {
			t.Errorf("compose = %+v", ev.Container.Compose)
		}
		if want := time.UnixMilli(1704067200123); !ev.Time.Equal(want) {
			t.Errorf("time = %v, want %v", ev.Time, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	boom := errors.New("unexpected EOF")
	cli.errs <- boom
	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error received")
	}
	if _, ok := <-evs; ok {
		t.Error("event channel should be closed")
	}
}

func TestDockerSource_SubscribeClosedStream(t *testing.T) {
	cli := &fakeDockerClient{msgs: make(chan events.Message), errs: make(chan error)}
	close(cli.msgs)
	src := NewDockerSource(cli, zerolog.Nop())

	_, errs := src.Subscribe(context.Background())
	select {
	case err := <-errs:
		if !errors.Is(err, ErrStreamClosed) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error received")
	}
}

func TestDockerSource_List(t *testing.T) {
	cli := &fakeDockerClient{containers: []container.Summary{
		{ID: "a", Names: []string{"/web"}, Image: "nginx", State: "running", Labels: map[string]string{"tier": "front"}},
		{ID: "b", Names: []string{"/old"}, Image: "busybox:1.36", State: "exited"},
	}}
	src := NewDockerSource(cli, zerolog.Nop())
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	states, err := src.List(context.Background(), at)
	if err != nil {
		t.Fatal(err)
	}
	if !cli.listOpts.All {
		t.Error("List must include stopped containers")
	}
	if len(states) != 2 {
		t.Fatalf("got %d states", len(states))
	}
	web := states[0]
	if web.Name != "web" || !web.Running || !web.RunningUpdateAt.Equal(at) || web.Image.Tag != "latest" || web.Labels["tier"] != "front" {
		t.Errorf("unexpected web state %+v", web)
	}
	if states[1].Running || states[1].Image.Tag != "1.36" {
		t.Errorf("unexpected old state %+v", states[1])
	}
}
