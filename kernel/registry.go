package kernel

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/evanphx/synapse/log"
	"github.com/evanphx/synapse/memory"
	"github.com/evanphx/synapse/pkg/ilist"
	"github.com/evanphx/synapse/pkg/waiter"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// DefaultStackSize is the stack every thread gets unless configured
// otherwise.
const DefaultStackSize = 16 * 1024

const stackAlign = 16

// Pager is the paging layer as seen by the registry and scheduler.
type Pager interface {
	Create() (*memory.PageDirectory, error)
	Destroy(pd *memory.PageDirectory) error
	Activate(pd *memory.PageDirectory) error
}

// Registry owns the process and thread lists. mu is the core's
// "interrupts disabled" lock: every list or record mutation, and every
// arena call made on behalf of the core, happens under it.
type Registry struct {
	mu sync.Mutex

	arena     *memory.Arena
	pager     Pager
	stackSize uintptr

	processes ilist.List[*Process]
	threads   ilist.List[*Thread]

	pids *idSpace
	tids *idSpace

	history *lru.ARCCache
	events  waiter.Waiter

	// running is the thread on the CPU, maintained by the Scheduler.
	running *Thread
}

type RegistryConfig struct {
	StackSize   uintptr
	MaxPids     int
	MaxTids     int
	ExitHistory int
}

func NewRegistry(arena *memory.Arena, pager Pager, cfg RegistryConfig) (*Registry, error) {
	if cfg.StackSize == 0 {
		cfg.StackSize = DefaultStackSize
	}

	if cfg.StackSize%stackAlign != 0 || cfg.StackSize < ContextSize*2 {
		return nil, errors.Wrapf(ErrBadConfig, "stack size %d", cfg.StackSize)
	}

	if cfg.MaxPids <= 0 || cfg.MaxTids <= 0 {
		return nil, errors.Wrapf(ErrBadConfig, "identifier space pids=%d tids=%d", cfg.MaxPids, cfg.MaxTids)
	}

	if cfg.ExitHistory <= 0 {
		cfg.ExitHistory = 64
	}

	history, err := lru.NewARC(cfg.ExitHistory)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		arena:     arena,
		pager:     pager,
		stackSize: cfg.StackSize,
		pids:      newIDSpace(cfg.MaxPids),
		tids:      newIDSpace(cfg.MaxTids),
		history:   history,
	}

	return r, nil
}

func (r *Registry) Arena() *memory.Arena {
	return r.arena
}

func (r *Registry) StackSize() uintptr {
	return r.stackSize
}

// CreateProcess registers a caller populated process record, giving it a
// fresh pid and appending it to the process list.
func (r *Registry) CreateProcess(p *Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createProcess(p)
}

func (r *Registry) createProcess(p *Process) error {
	if p == nil || p.PageDir == nil || p.registered() {
		return ErrInvalidProcess
	}

	if len(p.Name) > MaxNameLen {
		return errors.Wrapf(ErrNameTooLong, "%d bytes", len(p.Name))
	}

	if !p.Priority.Valid() {
		p.Priority = Normal
	}

	pid, ok := r.pids.assign()
	if !ok {
		return ErrNoPids
	}

	block, err := r.arena.Alloc(processBlockSize)
	if err != nil {
		r.pids.release(pid)
		return errors.Wrapf(err, "allocating control block for %q", p.Name)
	}

	p.Pid = pid
	p.threads = 0
	p.status = Alive
	p.block = block
	p.handle = r.processes.PushBack(p)

	writeProcessBlock(r.arena, p)

	log.L.Debug("process-create", "pid", pid, "name", p.Name, "priority", p.Priority)

	return nil
}

func (r *Registry) owns(p *Process) bool {
	if p == nil {
		return false
	}

	cur, ok := r.processes.Get(p.handle)
	return ok && cur == p
}

func (r *Registry) ownsThread(t *Thread) bool {
	if t == nil {
		return false
	}

	cur, ok := r.threads.Get(t.handle)
	return ok && cur == t
}

// CreateTask creates a Ready thread in p that starts executing at entry
// the first time it is switched in.
func (r *Registry) CreateTask(p *Process, entry uintptr, priority Priority) (*Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createTask(p, entry, priority)
}

func (r *Registry) createTask(p *Process, entry uintptr, priority Priority) (*Thread, error) {
	if !r.owns(p) || p.status != Alive {
		return nil, ErrUnknownProcess
	}

	if !priority.Valid() {
		priority = p.Priority
	}

	stack, err := r.arena.AllocAlign(r.stackSize, stackAlign)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating stack for pid %d", p.Pid)
	}

	block, err := r.arena.Alloc(threadBlockSize)
	if err != nil {
		r.arena.Free(stack)
		return nil, errors.Wrapf(err, "allocating control block for pid %d", p.Pid)
	}

	tid, ok := r.tids.assign()
	if !ok {
		r.arena.Free(block)
		r.arena.Free(stack)
		return nil, ErrNoTids
	}

	t := &Thread{
		Tid:       tid,
		Priority:  priority,
		Entry:     entry,
		Process:   p,
		state:     Ready,
		stack:     stack,
		stackSize: r.stackSize,
		esp:       stack + r.stackSize - ContextSize,
		block:     block,
	}

	ctx := initialContext(entry, t.esp, p.PageDir.Base())
	if err := r.arena.CopyOut(t.esp, &ctx); err != nil {
		panic(err)
	}

	t.handle = r.threads.PushBack(t)
	p.threads++

	writeThreadBlock(r.arena, t)
	writeProcessBlock(r.arena, p)

	log.L.Debug("thread-create", "tid", tid, "pid", p.Pid, "priority", priority, "entry", fmt.Sprintf("%#x", entry))

	return t, nil
}

// ExitTask terminates t. A thread that is not on the CPU is reaped at once;
// the running thread keeps its stack until the next switch moves off it,
// even if it was put to sleep first.
func (r *Registry) ExitTask(t *Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.exitTask(t)
}

func (r *Registry) exitTask(t *Thread) error {
	if !r.ownsThread(t) || t.state == Terminated {
		return ErrUnknownThread
	}

	running := t == r.running
	t.state = Terminated

	log.L.Debug("thread-exit", "tid", t.Tid, "pid", t.Process.Pid, "running", running)

	if running {
		writeThreadBlock(r.arena, t)
		return nil
	}

	r.reapThread(t)

	return nil
}

// reapThread returns a terminated thread's storage and detaches it from
// its process.
func (r *Registry) reapThread(t *Thread) {
	if err := r.arena.Free(t.block); err != nil {
		panic(errors.Wrapf(err, "freeing control block of tid %d", t.Tid))
	}

	if err := r.arena.Free(t.stack); err != nil {
		panic(errors.Wrapf(err, "freeing stack of tid %d", t.Tid))
	}

	r.threads.Remove(t.handle)
	r.tids.release(t.Tid)

	r.history.Add(t.Tid, ExitRecord{
		Tid:      t.Tid,
		Pid:      t.Process.Pid,
		Priority: t.Priority,
		Entry:    t.Entry,
		Runs:     t.runs,
	})

	t.handle = ilist.Nil
	t.stack = 0
	t.esp = 0
	t.block = 0

	p := t.Process
	p.threads--

	if p.threads == 0 {
		p.status = Zombie
		writeProcessBlock(r.arena, p)
		r.events.Notify(ProcessExited)
		log.L.Debug("process-zombie", "pid", p.Pid)
		return
	}

	writeProcessBlock(r.arena, p)
}

// DestroyProcess tears down a process with no live threads. Processes
// that still have threads are rejected with ErrProcessBusy.
func (r *Registry) DestroyProcess(p *Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.destroyProcess(p)
}

func (r *Registry) destroyProcess(p *Process) error {
	if !r.owns(p) {
		return ErrUnknownProcess
	}

	if p.threads > 0 {
		return errors.Wrapf(ErrProcessBusy, "pid %d has %d threads", p.Pid, p.threads)
	}

	if err := r.pager.Destroy(p.PageDir); err != nil {
		return errors.Wrapf(err, "releasing page directory of pid %d", p.Pid)
	}

	if err := r.arena.Free(p.block); err != nil {
		panic(errors.Wrapf(err, "freeing control block of pid %d", p.Pid))
	}

	r.processes.Remove(p.handle)
	r.pids.release(p.Pid)

	p.handle = ilist.Nil
	p.block = 0
	p.status = Dead

	log.L.Debug("process-destroy", "pid", p.Pid, "name", p.Name)

	return nil
}

func (r *Registry) Processes() []*Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.processes.Values()
}

func (r *Registry) Threads() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.threads.Values()
}

func (r *Registry) LookupProcess(pid int) (*Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *Process

	r.processes.Each(func(_ ilist.Handle, p *Process) bool {
		if p.Pid == pid {
			found = p
			return false
		}
		return true
	})

	return found, found != nil
}

func (r *Registry) LookupThread(tid int) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *Thread

	r.threads.Each(func(_ ilist.Handle, t *Thread) bool {
		if t.Tid == tid {
			found = t
			return false
		}
		return true
	})

	return found, found != nil
}

// ThreadsOf returns the live threads of p in list order.
func (r *Registry) ThreadsOf(p *Process) []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Thread

	r.threads.Each(func(_ ilist.Handle, t *Thread) bool {
		if t.Process == p {
			out = append(out, t)
		}
		return true
	})

	return out
}

// ExitHistory describes a recently reaped thread.
func (r *Registry) ExitHistory(tid int) (ExitRecord, bool) {
	v, ok := r.history.Get(tid)
	if !ok {
		return ExitRecord{}, false
	}

	return v.(ExitRecord), true
}

// DumpProcesses lists every process and thread from their heap resident
// control blocks.
func (r *Registry) DumpProcesses(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tr := tabwriter.NewWriter(w, 4, 8, 1, ' ', 0)

	fmt.Fprintf(tr, "PID\tTID\tNAME\tPRIO\tSTATE\tTHREADS\tCR3/ESP\n")

	var err error

	r.processes.Each(func(_ ilist.Handle, p *Process) bool {
		var pb processBlock

		pb, err = readProcessBlock(r.arena, p.block)
		if err != nil {
			return false
		}

		fmt.Fprintf(tr, "%d\t-\t%s\t%s\t%s\t%d\t%#x\n",
			pb.Pid, pb.name(), Priority(pb.Priority), ProcessStatus(pb.Status), pb.Threads, pb.PageDir)

		r.threads.Each(func(_ ilist.Handle, t *Thread) bool {
			if t.Process != p {
				return true
			}

			var tb threadBlock

			tb, err = readThreadBlock(r.arena, t.block)
			if err != nil {
				return false
			}

			fmt.Fprintf(tr, "%d\t%d\t\t%s\t%s\t\t%#x\n",
				tb.Pid, tb.Tid, Priority(tb.Priority), ThreadState(tb.State), tb.ESP)
			return true
		})

		return err == nil
	})

	if err != nil {
		return err
	}

	return tr.Flush()
}
