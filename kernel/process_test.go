package kernel

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/evanphx/synapse/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeapSize = 0x100000
	cfg.StackSize = 4096
	return cfg
}

func newTestKernel(t *testing.T, cfg Config) *Kernel {
	k, err := NewKernel(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { k.Close() })

	return k
}

// requireConsistent checks every process's thread count against the
// thread list.
func requireConsistent(t *testing.T, k *Kernel) {
	t.Helper()

	counts := make(map[*Process]int)
	for _, th := range k.Registry.Threads() {
		counts[th.Process]++
	}

	for _, p := range k.Registry.Processes() {
		require.Equal(t, counts[p], p.ThreadCount(), "pid %d", p.Pid)
	}

	require.NoError(t, k.Arena.Check())
}

func TestRegistry(t *testing.T) {
	n := neko.Modern(t)

	n.It("boots with the genesis process and boot thread", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		procs := k.Registry.Processes()
		require.Len(t, procs, 1)
		require.Equal(t, GenesisName, procs[0].Name)
		require.Equal(t, 1, procs[0].Pid)
		require.Equal(t, 1, procs[0].ThreadCount())

		boot := k.Scheduler.Current()
		require.Equal(t, Running, boot.State())
		require.Equal(t, boot, k.Scheduler.Idle())
		require.Equal(t, procs[0], k.Scheduler.CurrentProcess())
		require.Equal(t, procs[0].PageDir, k.Spaces.Active())

		require.Equal(t, ErrAlreadyInitialized, k.Scheduler.Init())
	})

	n.It("assigns pids in creation order and links processes", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		a, err := k.NewProcess("a", Normal)
		require.NoError(t, err)
		b, err := k.NewProcess("b", Normal)
		require.NoError(t, err)

		require.Equal(t, 2, a.Pid)
		require.Equal(t, 3, b.Pid)
		require.Equal(t, 0, a.ThreadCount())
		require.Equal(t, Alive, a.Status())

		procs := k.Registry.Processes()
		require.Equal(t, []*Process{k.Scheduler.Genesis(), a, b}, procs)

		found, ok := k.Registry.LookupProcess(3)
		require.True(t, ok)
		require.Equal(t, b, found)
	})

	n.It("rejects invalid process records", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		require.Equal(t, ErrInvalidProcess, k.Registry.CreateProcess(nil))
		require.Equal(t, ErrInvalidProcess, k.Registry.CreateProcess(&Process{Name: "no-pd"}))

		_, err := k.NewProcess(strings.Repeat("x", MaxNameLen+1), Normal)
		require.Equal(t, ErrNameTooLong, errors.Cause(err))

		p, err := k.NewProcess("twice", Normal)
		require.NoError(t, err)
		require.Equal(t, ErrInvalidProcess, k.Registry.CreateProcess(p))
	})

	n.It("runs out of pids and reuses the lowest freed one", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxPids = 3

		k := newTestKernel(t, cfg)

		a, err := k.NewProcess("a", Normal)
		require.NoError(t, err)
		_, err = k.NewProcess("b", Normal)
		require.NoError(t, err)

		_, err = k.NewProcess("c", Normal)
		require.Equal(t, ErrNoPids, err)

		require.NoError(t, k.Registry.DestroyProcess(a))
		require.Equal(t, Dead, a.Status())

		c, err := k.NewProcess("c", Normal)
		require.NoError(t, err)
		require.Equal(t, 2, c.Pid)
	})

	n.It("builds a thread's initial context on its stack", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		p, err := k.NewProcess("init", Normal)
		require.NoError(t, err)

		th, err := k.Registry.CreateTask(p, 0x401000, SoftTime)
		require.NoError(t, err)

		require.Equal(t, Ready, th.State())
		require.Equal(t, SoftTime, th.Priority)
		require.Equal(t, p, th.Process)
		require.Equal(t, 1, p.ThreadCount())

		stack, size := th.Stack()
		require.Equal(t, uintptr(4096), size)
		require.Zero(t, stack%16)
		require.Equal(t, stack+size-ContextSize, th.ESP())

		var ctx Context
		require.NoError(t, k.Arena.CopyIn(th.ESP(), &ctx))

		require.Equal(t, uint32(ContextVersion), ctx.Version)
		require.Equal(t, uint32(0x401000), ctx.EIP)
		require.Equal(t, uint32(FlagsInterruptEnable|FlagsReserved), ctx.EFLAGS)
		require.Equal(t, uint32(p.PageDir.Base()), ctx.CR3)
		require.Equal(t, uint32(th.ESP()), ctx.ESP)
		require.Zero(t, ctx.EAX)
	})

	n.It("inherits the process priority for an invalid class", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		p, err := k.NewProcess("rt", HardTime)
		require.NoError(t, err)

		th, err := k.Registry.CreateTask(p, 0x1000, Priority(9))
		require.NoError(t, err)
		require.Equal(t, HardTime, th.Priority)
	})

	n.It("refuses threads on unregistered processes", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		_, err := k.Registry.CreateTask(&Process{Name: "stray"}, 0x1000, Normal)
		require.Equal(t, ErrUnknownProcess, err)

		_, err = k.Registry.CreateTask(nil, 0x1000, Normal)
		require.Equal(t, ErrUnknownProcess, err)
	})

	n.It("fails cleanly when stacks run out", func(t *testing.T) {
		cfg := testConfig()
		cfg.HeapSize = 0x8000
		cfg.StackSize = 0x2000

		k := newTestKernel(t, cfg)

		p, err := k.NewProcess("hog", Normal)
		require.NoError(t, err)

		var created int
		for {
			before := k.Arena.Stats()

			_, err = k.Registry.CreateTask(p, 0x1000, Normal)
			if err != nil {
				require.Equal(t, before, k.Arena.Stats())
				break
			}

			created++
		}

		require.Equal(t, memory.ErrOutOfMemory, errors.Cause(err))
		require.True(t, created > 0)
		require.Equal(t, created, p.ThreadCount())
		requireConsistent(t, k)
	})

	n.It("keeps thread counts in step with the thread list", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		a, err := k.NewProcess("a", Normal)
		require.NoError(t, err)
		b, err := k.NewProcess("b", Normal)
		require.NoError(t, err)

		var threads []*Thread
		for i := 0; i < 6; i++ {
			p := a
			if i%2 == 1 {
				p = b
			}

			th, err := k.Registry.CreateTask(p, uintptr(0x1000*(i+1)), Normal)
			require.NoError(t, err)
			threads = append(threads, th)
			requireConsistent(t, k)
		}

		for _, th := range threads[:3] {
			require.NoError(t, k.Registry.ExitTask(th))
			require.Equal(t, Terminated, th.State())
			requireConsistent(t, k)
		}

		require.Equal(t, 1, a.ThreadCount())
		require.Equal(t, 2, b.ThreadCount())
		require.Len(t, k.Registry.ThreadsOf(b), 2)

		require.Equal(t, ErrUnknownThread, k.Registry.ExitTask(threads[0]))
	})

	n.It("rejects destroying a process with live threads", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		p, err := k.NewProcess("busy", Normal)
		require.NoError(t, err)

		th, err := k.Registry.CreateTask(p, 0x1000, Normal)
		require.NoError(t, err)

		err = k.Registry.DestroyProcess(p)
		require.Equal(t, ErrProcessBusy, errors.Cause(err))
		require.Equal(t, Alive, p.Status())

		require.NoError(t, k.Registry.ExitTask(th))
		require.Equal(t, Zombie, p.Status())

		live := k.Spaces.Live()
		require.NoError(t, k.Registry.DestroyProcess(p))
		require.Equal(t, live-1, k.Spaces.Live())
		require.Equal(t, ErrUnknownProcess, k.Registry.DestroyProcess(p))

		_, err = k.Registry.CreateTask(p, 0x1000, Normal)
		require.Equal(t, ErrUnknownProcess, err)
	})

	n.It("remembers recently reaped threads", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		_, threads, err := k.Spawn("short", SoftTime, 0x1234)
		require.NoError(t, err)

		tid := threads[0].Tid
		require.NoError(t, k.Registry.ExitTask(threads[0]))

		_, ok := threads[0].Process.PageDir.FindRegion(0x1234)
		require.True(t, ok)

		rec, ok := k.Registry.ExitHistory(tid)
		require.True(t, ok)
		require.Equal(t, uintptr(0x1234), rec.Entry)
		require.Equal(t, SoftTime, rec.Priority)

		_, ok = k.Registry.LookupThread(tid)
		require.False(t, ok)
	})

	n.It("reaps zombies without blocking", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		p, threads, err := k.Spawn("job", Normal, 0x1000)
		require.NoError(t, err)

		got, err := k.Registry.ReapAny(context.Background(), false)
		require.NoError(t, err)
		require.Nil(t, got)

		require.NoError(t, k.Registry.ExitTask(threads[0]))

		got, err = k.Registry.ReapAny(context.Background(), false)
		require.NoError(t, err)
		require.Equal(t, p, got)
		require.Equal(t, Dead, p.Status())

		_, ok := k.Registry.LookupProcess(p.Pid)
		require.False(t, ok)
	})

	n.It("waits for a process to exit", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		p, threads, err := k.Spawn("job", Normal, 0x1000)
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			k.Registry.ExitTask(threads[0])
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		got, err := k.Registry.ReapAny(ctx, true)
		require.NoError(t, err)
		require.Equal(t, p, got)
	})

	n.It("gives up waiting when the context ends", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := k.Registry.ReapAny(ctx, true)
		require.Equal(t, context.DeadlineExceeded, err)
	})

	n.It("lists processes from their control blocks", func(t *testing.T) {
		k := newTestKernel(t, testConfig())

		_, _, err := k.Spawn("init", HardTime, 0x1000, 0x2000)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, k.Registry.DumpProcesses(&buf))

		out := buf.String()
		require.Contains(t, out, GenesisName)
		require.Contains(t, out, "init")
		require.Contains(t, out, "hard-time")
		require.Contains(t, out, "running")
		require.Contains(t, out, "ready")
	})

	n.Meow()
}
