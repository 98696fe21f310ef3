package trap

import (
	"context"

	"github.com/evanphx/synapse/kernel"
	"github.com/evanphx/synapse/log"
	"github.com/pkg/errors"
)

type Dispatcher struct {
	Scheduler *kernel.Scheduler
}

// Interrupt routes a trap to its vector handler. The frame is rewritten
// in place when the handler switches threads.
func (d *Dispatcher) Interrupt(ctx context.Context, f *Frame) error {
	if f.IntNo >= uint32(len(Vectors)) {
		return errors.Wrapf(ErrUnhandledVector, "vector %#x", f.IntNo)
	}

	h := Vectors[f.IntNo]
	if h == nil {
		return errors.Wrapf(ErrUnhandledVector, "vector %#x", f.IntNo)
	}

	return h(ctx, log.L, d.Scheduler, f)
}

// Tick delivers one timer interrupt on top of f.
func (d *Dispatcher) Tick(ctx context.Context, f *Frame) error {
	f.IntNo = TimerVector
	return d.Interrupt(ctx, f)
}
