package app

import (
	"errors"
	"testing"

	"github.com/auto-dns/docker-logwatch/internal/config"
	"github.com/auto-dns/docker-logwatch/internal/core"
	"github.com/auto-dns/docker-logwatch/internal/domain"
)

func TestSubscribeOptionsCombinesSources(t *testing.T) {
	opts, err := SubscribeOptions(&config.AppConfig{
		Stream: "stderr",
		Match:  []string{"compose.service=!web-debug", "", "labels.tier=front"},
		Filter: map[string]any{
			"compose": map[string]any{"service": "web*"},
		},
	})
	if err != nil {
		t.Fatalf("SubscribeOptions: %v", err)
	}
	if opts.Stream != domain.SelectStderr {
		t.Errorf("stream = %q", opts.Stream)
	}
	got := opts.ContainerMatches["compose.service"]
	if len(got) != 2 || got[0] != "web*" || got[1] != "!web-debug" {
		t.Errorf("compose.service = %v", got)
	}
	if got := opts.ContainerMatches["labels.tier"]; len(got) != 1 || got[0] != "front" {
		t.Errorf("labels.tier = %v", got)
	}
}

func TestSubscribeOptionsWithoutFilter(t *testing.T) {
	opts, err := SubscribeOptions(&config.AppConfig{Stream: "both"})
	if err != nil {
		t.Fatalf("SubscribeOptions: %v", err)
	}
	if opts.ContainerMatches != nil {
		t.Errorf("filter = %v, want nil", opts.ContainerMatches)
	}
}

func TestSubscribeOptionsRejects(t *testing.T) {
	if _, err := SubscribeOptions(&config.AppConfig{Stream: "all"}); !errors.Is(err, core.ErrInvalidStream) {
		t.Errorf("err = %v, want ErrInvalidStream", err)
	}

	_, err := SubscribeOptions(&config.AppConfig{Stream: "both", Match: []string{"colour=red"}})
	var fe *core.InvalidFilterError
	if !errors.As(err, &fe) {
		t.Errorf("err = %v, want InvalidFilterError", err)
	}
}
