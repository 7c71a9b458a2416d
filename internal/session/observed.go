package session

import "context"

// CommandObserver is notified after every Submit with the command kind and the
// controller's answer.
type CommandObserver interface {
	ObserveCommand(kind string, err error)
}

type observed struct {
	Controller
	observer CommandObserver
}

// WithObserver wraps c so that every submitted command is reported to
// observer. A nil observer returns c unchanged.
func WithObserver(c Controller, observer CommandObserver) Controller {
	if observer == nil {
		return c
	}
	return &observed{Controller: c, observer: observer}
}

func (o *observed) Submit(ctx context.Context, deviceID string, cmd Command) error {
	err := o.Controller.Submit(ctx, deviceID, cmd)
	o.observer.ObserveCommand(cmd.Kind.String(), err)
	return err
}
