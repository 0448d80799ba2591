package lifecycle

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Component is a long-running part of the process with explicit
// start/stop semantics.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type named struct {
	name      string
	component Component
}

// Runtime starts registered components in order and stops them in
// reverse.
type Runtime struct {
	components []named
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, named{name: name, component: component})
}

func (r *Runtime) Start(ctx context.Context) error {
	started := make([]named, 0, len(r.components))
	for _, c := range r.components {
		if err := c.component.Start(ctx); err != nil {
			_ = stop(ctx, started)
			return fmt.Errorf("start %s: %w", c.name, err)
		}
		log.WithField("component", c.name).Debug("component started")
		started = append(started, c)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	return stop(ctx, r.components)
}

func stop(ctx context.Context, components []named) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.component.Stop(ctx); err != nil {
			stopErr = errors.WithMessagef(err, "stop %s", c.name)
			log.WithFields(log.Fields{"component": c.name, "error": err.Error()}).Error("component stop failed")
			continue
		}
		log.WithField("component", c.name).Debug("component stopped")
	}
	return stopErr
}
