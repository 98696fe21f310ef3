package kernel

import (
	"context"

	"github.com/evanphx/synapse/log"
	"github.com/evanphx/synapse/pkg/ilist"
	"github.com/evanphx/synapse/pkg/waiter"
)

const (
	_ waiter.EventType = iota
	ProcessExited
)

// ReapAny destroys the first zombie process in list order and returns it.
// With block set it waits for a process to become a zombie.
func (r *Registry) ReapAny(ctx context.Context, block bool) (*Process, error) {
	if !block {
		return r.reapOnce()
	}

	c := make(chan struct{}, 1)
	ev := r.events.RegisterChannel(ProcessExited, c)
	defer r.events.Unregister(ev)

	for {
		process, err := r.reapOnce()
		if err != nil {
			return nil, err
		}

		if process != nil {
			return process, nil
		}

		log.L.Trace("process-waiting-reap")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c:
			// ok, try the loop again
		}
	}
}

func (r *Registry) reapOnce() (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zombie *Process

	r.processes.Each(func(_ ilist.Handle, p *Process) bool {
		if p.status == Zombie {
			zombie = p
			return false
		}
		return true
	})

	if zombie == nil {
		return nil, nil
	}

	log.L.Trace("process-reap-once", "pid", zombie.Pid)

	if err := r.destroyProcess(zombie); err != nil {
		return nil, err
	}

	return zombie, nil
}
