package lifecycle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type named struct {
	name string
	Component
}

// Named attaches a name used in logs and errors.
func Named(name string, component Component) Component {
	if component == nil {
		return nil
	}
	return named{name: name, Component: component}
}

// Funcs adapts a pair of functions to a Component. A nil function is a no-op.
type Funcs struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (f Funcs) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Funcs) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

type Runtime struct {
	components []Component
	logger     *log.Entry
}

func NewRuntime(components ...Component) *Runtime {
	return &Runtime{
		components: components,
		logger:     log.WithField("object", "Runtime"),
	}
}

func (r *Runtime) Register(component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, component)
}

// Start starts components in registration order. On failure the already
// started ones are stopped in reverse.
func (r *Runtime) Start(ctx context.Context) error {
	started := make([]Component, 0, len(r.components))
	for _, component := range r.components {
		if component == nil {
			continue
		}
		if err := component.Start(ctx); err != nil {
			_ = r.stopComponents(ctx, started)
			return fmt.Errorf("start component %s: %w", nameOf(component), err)
		}
		r.logger.WithField("component", nameOf(component)).Debug("started")
		started = append(started, component)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	return r.stopComponents(ctx, r.components)
}

func (r *Runtime) stopComponents(ctx context.Context, components []Component) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		if component == nil {
			continue
		}
		if err := component.Stop(ctx); err != nil {
			r.logger.WithError(err).WithField("component", nameOf(component)).Warn("stop failed")
			stopErr = errors.Join(stopErr, fmt.Errorf("stop component %s: %w", nameOf(component), err))
			continue
		}
		r.logger.WithField("component", nameOf(component)).Debug("stopped")
	}
	return stopErr
}

func nameOf(component Component) string {
	if n, ok := component.(named); ok {
		return n.name
	}
	return fmt.Sprintf("%T", component)
}
