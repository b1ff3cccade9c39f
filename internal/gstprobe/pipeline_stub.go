//go:build !gst

package gstprobe

import (
	"context"

	"github.com/banshee-data/squeakview/internal/toggles"
)

// Pipeline is unavailable without the gst build tag.
type Pipeline struct{}

// Build always fails with ErrUnavailable.
func Build(launch string, hooks *Hooks, opts Options) (*Pipeline, error) {
	return nil, ErrUnavailable
}

func (p *Pipeline) ApplyToggle(toggles.Name, bool) {}

func (p *Pipeline) Run(ctx context.Context) error { return ErrUnavailable }
