package kernel

import (
	"github.com/evanphx/synapse/memory"
	"github.com/evanphx/synapse/pkg/ilist"
)

// MaxNameLen bounds a process display name.
const MaxNameLen = 255

// Priority is a thread's scheduling class. Higher values win.
type Priority uint8

const (
	Normal   Priority = 1
	SoftTime Priority = 2
	HardTime Priority = 3
)

func (p Priority) Valid() bool {
	return p >= Normal && p <= HardTime
}

func (p Priority) String() string {
	switch p {
	case Normal:
		return "normal"
	case SoftTime:
		return "soft-time"
	case HardTime:
		return "hard-time"
	default:
		return "invalid"
	}
}

// ThreadState is a thread's activity, independent of its priority. A
// sleeping hard-time thread is simply not selected until woken.
type ThreadState uint8

const (
	Ready      ThreadState = 0
	Running    ThreadState = 1
	Sleeping   ThreadState = 2
	Terminated ThreadState = 3
)

func (s ThreadState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Terminated:
		return "terminated"
	default:
		return "invalid"
	}
}

type ProcessStatus uint8

const (
	Alive  ProcessStatus = 0
	Zombie ProcessStatus = 1
	Dead   ProcessStatus = 2
)

func (s ProcessStatus) String() string {
	switch s {
	case Alive:
		return "alive"
	case Zombie:
		return "zombie"
	case Dead:
		return "dead"
	default:
		return "invalid"
	}
}

// Process owns an address space and groups threads. Name, Priority and
// PageDir are filled in by the caller before CreateProcess; the rest is
// maintained by the Registry.
type Process struct {
	Name     string
	Priority Priority
	PageDir  *memory.PageDirectory

	Pid int

	threads int
	status  ProcessStatus

	handle ilist.Handle
	block  uintptr
}

// ThreadCount is the number of live threads whose Process is p.
func (p *Process) ThreadCount() int {
	return p.threads
}

func (p *Process) Status() ProcessStatus {
	return p.status
}

func (p *Process) registered() bool {
	return p.handle != ilist.Nil
}

// Thread is a unit of execution inside a Process.
type Thread struct {
	Tid      int
	Priority Priority
	Entry    uintptr
	Process  *Process

	state ThreadState

	stack     uintptr
	stackSize uintptr

	// esp is the address of the thread's saved Context.
	esp uintptr

	runs int

	handle ilist.Handle
	block  uintptr
}

func (t *Thread) State() ThreadState {
	return t.state
}

// Stack returns the base address and size of the thread's stack.
func (t *Thread) Stack() (uintptr, uintptr) {
	return t.stack, t.stackSize
}

// ESP is where the thread's saved Context lives while it is not running.
func (t *Thread) ESP() uintptr {
	return t.esp
}

// Runs counts how many times the thread has been switched in.
func (t *Thread) Runs() int {
	return t.runs
}

func (t *Thread) runnable() bool {
	return t.state == Ready || t.state == Running
}

// ExitRecord is kept for a while after a thread is reaped so the console
// can still describe it.
type ExitRecord struct {
	Tid      int
	Pid      int
	Priority Priority
	Entry    uintptr
	Runs     int
}
