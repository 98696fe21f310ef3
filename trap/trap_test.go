package trap

import (
	"context"
	"testing"

	"github.com/evanphx/synapse/kernel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func newKernel(t *testing.T) *kernel.Kernel {
	cfg := kernel.DefaultConfig()
	cfg.HeapSize = 0x100000
	cfg.StackSize = 4096

	k, err := kernel.NewKernel(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { k.Close() })

	return k
}

func TestDispatch(t *testing.T) {
	n := neko.Modern(t)

	ctx := context.Background()

	n.It("switches into a new thread on a timer tick", func(t *testing.T) {
		k := newKernel(t)
		d := &Dispatcher{Scheduler: k.Scheduler}

		_, threads, err := k.Spawn("init", kernel.Normal, 0x401000)
		require.NoError(t, err)
		th := threads[0]

		f := Frame{
			EAX:    1,
			EBX:    2,
			EIP:    0xaaaa,
			EFLAGS: kernel.FlagsInterruptEnable | kernel.FlagsReserved,
		}

		require.NoError(t, d.Tick(ctx, &f))

		require.Equal(t, th, k.Scheduler.Current())
		require.Equal(t, uint32(TimerVector), f.IntNo)
		require.Equal(t, uint32(0x401000), f.EIP)
		require.Equal(t, uint32(th.ESP()), f.ESP)
		require.Equal(t, uint32(0), f.EAX)

		f.EAX = 3

		require.NoError(t, k.Scheduler.SetSleeping(th))
		require.NoError(t, d.Tick(ctx, &f))

		require.Equal(t, uint32(1), f.EAX)
		require.Equal(t, uint32(2), f.EBX)
		require.Equal(t, uint32(0xaaaa), f.EIP)

		require.NoError(t, k.Scheduler.Wake(th))
		require.NoError(t, d.Tick(ctx, &f))

		require.Equal(t, uint32(3), f.EAX)
		require.Equal(t, uint32(0x401000), f.EIP)
	})

	n.It("leaves the frame alone when nothing else is ready", func(t *testing.T) {
		k := newKernel(t)
		d := &Dispatcher{Scheduler: k.Scheduler}

		f := Frame{IntNo: YieldVector, EAX: 9, EIP: 0x1234}
		require.NoError(t, d.Interrupt(ctx, &f))

		require.Equal(t, uint32(9), f.EAX)
		require.Equal(t, uint32(0x1234), f.EIP)
	})

	n.It("pays back a deferred switch with a yield", func(t *testing.T) {
		k := newKernel(t)
		d := &Dispatcher{Scheduler: k.Scheduler}

		_, threads, err := k.Spawn("late", kernel.SoftTime, 0x7000)
		require.NoError(t, err)

		f := Frame{EIP: 0x1234}

		k.Scheduler.Lock()
		require.NoError(t, d.Tick(ctx, &f))
		require.Equal(t, uint32(0x1234), f.EIP)

		require.True(t, k.Scheduler.Unlock())

		f.IntNo = YieldVector
		require.NoError(t, d.Interrupt(ctx, &f))

		require.Equal(t, threads[0], k.Scheduler.Current())
		require.Equal(t, uint32(0x7000), f.EIP)
	})

	n.It("rejects vectors without a handler", func(t *testing.T) {
		k := newKernel(t)
		d := &Dispatcher{Scheduler: k.Scheduler}

		f := Frame{IntNo: 0x30}
		err := d.Interrupt(ctx, &f)
		require.Equal(t, ErrUnhandledVector, errors.Cause(err))

		f.IntNo = 0x1000
		err = d.Interrupt(ctx, &f)
		require.Equal(t, ErrUnhandledVector, errors.Cause(err))
	})

	n.It("converts frames to contexts and back", func(t *testing.T) {
		f := Frame{EAX: 1, ECX: 2, EDX: 3, EBX: 4, ESP: 5, EBP: 6, ESI: 7, EDI: 8, EFLAGS: 0x202, EIP: 9}

		c := f.ToContext(0x400000)
		require.Equal(t, uint32(kernel.ContextVersion), c.Version)
		require.Equal(t, uint32(0x400000), c.CR3)

		var g Frame
		g.Load(&c)

		require.Equal(t, f, g)
	})

	n.Meow()
}
