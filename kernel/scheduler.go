package kernel

import (
	"fmt"

	"github.com/evanphx/synapse/log"
	"github.com/pkg/errors"
)

// GenesisName names the process that owns the boot thread.
const GenesisName = "genesis"

// Scheduler picks the running thread. It shares the registry's lock, so a
// switch never observes a half updated list.
type Scheduler struct {
	reg *Registry

	initialized bool

	genesis *Process
	idle    *Thread

	current        *Thread
	currentProcess *Process

	locks    int
	deferred bool
	switches int

	// Halt is called when the core reaches a state it cannot continue
	// from. It must not return; the default panics.
	Halt func(err error)
}

func NewScheduler(reg *Registry) *Scheduler {
	return &Scheduler{
		reg: reg,
		Halt: func(err error) {
			panic(err)
		},
	}
}

func (s *Scheduler) halt(err error) {
	log.L.Error("scheduler-halt", "error", err)
	s.Halt(err)
	panic(err)
}

// Init bootstraps the genesis process and makes the boot thread the
// running thread. The boot thread doubles as the idle thread.
func (s *Scheduler) Init() error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	pd, err := s.reg.pager.Create()
	if err != nil {
		return errors.Wrap(err, "creating genesis page directory")
	}

	genesis := &Process{
		Name:     GenesisName,
		Priority: Normal,
		PageDir:  pd,
	}

	if err := s.reg.createProcess(genesis); err != nil {
		s.reg.pager.Destroy(pd)
		return errors.Wrap(err, "registering genesis process")
	}

	boot, err := s.reg.createTask(genesis, 0, Normal)
	if err != nil {
		s.reg.destroyProcess(genesis)
		return errors.Wrap(err, "creating boot thread")
	}

	if err := s.reg.pager.Activate(pd); err != nil {
		boot.state = Terminated
		s.reg.reapThread(boot)
		s.reg.destroyProcess(genesis)
		return errors.Wrap(err, "activating genesis page directory")
	}

	boot.state = Running
	boot.runs = 1
	writeThreadBlock(s.reg.arena, boot)

	s.genesis = genesis
	s.idle = boot
	s.current = boot
	s.reg.running = boot
	s.currentProcess = genesis
	s.initialized = true

	log.L.Info("scheduler-init", "genesis-pid", genesis.Pid, "boot-tid", boot.Tid)

	return nil
}

// Lock disables preemption. Calls nest.
func (s *Scheduler) Lock() {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	s.locks++
}

// Unlock undoes one Lock. It reports true when preemption is enabled
// again and a switch was refused while it was disabled; the caller should
// yield.
func (s *Scheduler) Unlock() bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if s.locks == 0 {
		s.halt(ErrUnbalancedUnlock)
	}

	s.locks--

	return s.locks == 0 && s.deferred
}

func (s *Scheduler) Locked() bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	return s.locks > 0
}

// Pending reports whether a switch was refused while locked and has not
// happened since.
func (s *Scheduler) Pending() bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	return s.deferred
}

// Switch is the preemption entry point. regs holds the outgoing thread's
// registers as captured by trap entry; on return it holds the registers
// the trap return path must restore. It reports whether the running
// thread changed. While locked it does nothing.
func (s *Scheduler) Switch(regs *Context) bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if !s.initialized {
		s.halt(ErrNotInitialized)
	}

	if s.locks > 0 {
		s.deferred = true
		log.L.Trace("scheduler-switch-deferred", "locks", s.locks)
		return false
	}

	s.deferred = false

	if regs == nil || regs.Version != ContextVersion {
		s.halt(errors.Wrapf(ErrBadContext, "switch from tid %d", s.current.Tid))
	}

	prev := s.current

	next := s.pick()
	if next == nil {
		s.halt(errors.Wrapf(ErrNoRunnable, "switch from tid %d", prev.Tid))
	}

	if next == prev {
		return false
	}

	arena := s.reg.arena

	if prev.state == Terminated {
		s.reg.reapThread(prev)
	} else {
		if err := arena.CopyOut(prev.esp, regs); err != nil {
			s.halt(errors.Wrapf(err, "saving context of tid %d", prev.Tid))
		}

		if prev.state == Running {
			prev.state = Ready
		}

		writeThreadBlock(arena, prev)
	}

	if err := arena.CopyIn(next.esp, regs); err != nil {
		s.halt(errors.Wrapf(err, "loading context of tid %d", next.Tid))
	}

	if regs.Version != ContextVersion {
		s.halt(errors.Wrapf(ErrBadContext, "stored context of tid %d", next.Tid))
	}

	if next.Process != s.currentProcess {
		pd := next.Process.PageDir
		if err := s.reg.pager.Activate(pd); err != nil {
			s.halt(errors.Wrapf(err, "activating address space of pid %d", next.Process.Pid))
		}

		regs.CR3 = uint32(pd.Base())
		s.currentProcess = next.Process
	}

	next.state = Running
	next.runs++
	writeThreadBlock(arena, next)

	s.current = next
	s.reg.running = next
	s.switches++

	log.L.Trace("scheduler-switch", "from", prev.Tid, "to", next.Tid, "pid", next.Process.Pid,
		"eip", fmt.Sprintf("%#x", regs.EIP))

	return true
}

// pick scans the thread ring starting just after the running thread, so
// the running thread is considered last. The first thread of the highest
// ready priority wins, which rotates equal priority threads round robin.
// The idle thread is chosen only when nothing else can run.
func (s *Scheduler) pick() *Thread {
	threads := &s.reg.threads

	var best *Thread

	idle := s.idleThread()

	h := threads.NextCircular(s.current.handle)
	for i := 0; i < threads.Len(); i++ {
		t, _ := threads.Get(h)

		if t != idle && t.runnable() {
			if best == nil || t.Priority > best.Priority {
				best = t
			}
		}

		h = threads.NextCircular(h)
	}

	if best != nil {
		return best
	}

	if idle != nil && idle.runnable() {
		return idle
	}

	return nil
}

// idleThread drops the idle thread once it has been reaped, whichever
// path reaped it.
func (s *Scheduler) idleThread() *Thread {
	if s.idle != nil && !s.reg.ownsThread(s.idle) {
		s.idle = nil
	}

	return s.idle
}

// Current returns the running thread.
func (s *Scheduler) Current() *Thread {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	return s.current
}

func (s *Scheduler) CurrentProcess() *Process {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	return s.currentProcess
}

func (s *Scheduler) Genesis() *Process {
	return s.genesis
}

// Idle returns the idle thread, or nil once it has exited.
func (s *Scheduler) Idle() *Thread {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	return s.idleThread()
}

func (s *Scheduler) Switches() int {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	return s.switches
}

// SetSleeping takes t out of selection. A running thread keeps the CPU
// until the next switch.
func (s *Scheduler) SetSleeping(t *Thread) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if !s.reg.ownsThread(t) || t.state == Terminated {
		return ErrUnknownThread
	}

	t.state = Sleeping
	writeThreadBlock(s.reg.arena, t)

	return nil
}

// Wake makes a sleeping thread selectable again.
func (s *Scheduler) Wake(t *Thread) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	if !s.reg.ownsThread(t) || t.state == Terminated {
		return ErrUnknownThread
	}

	if t.state != Sleeping {
		return nil
	}

	if t == s.current {
		t.state = Running
	} else {
		t.state = Ready
	}

	writeThreadBlock(s.reg.arena, t)

	return nil
}
