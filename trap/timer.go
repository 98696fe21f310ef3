package trap

import (
	"context"

	"github.com/evanphx/synapse/kernel"
	hclog "github.com/hashicorp/go-hclog"
)

// preempt runs the scheduler over the frame. The outgoing registers are
// snapshotted, the scheduler swaps in the incoming ones, and the frame is
// rewritten only if the running thread changed.
func preempt(l hclog.Logger, s *kernel.Scheduler, f *Frame) bool {
	var cr3 uint32
	if p := s.CurrentProcess(); p != nil {
		cr3 = uint32(p.PageDir.Base())
	}

	regs := f.ToContext(cr3)

	if !s.Switch(&regs) {
		return false
	}

	f.Load(&regs)

	l.Trace("trap-preempt", "vector", f.IntNo, "eip", f.EIP)

	return true
}

// reschedule serves both the timer tick and the explicit yield trap. A
// yield is also how a switch deferred by the scheduler lock is paid back
// once Unlock reports one.
func reschedule(ctx context.Context, l hclog.Logger, s *kernel.Scheduler, f *Frame) error {
	preempt(l, s, f)
	return nil
}

func init() {
	Vectors[TimerVector] = reschedule
	Vectors[YieldVector] = reschedule
}
