package kernel

import (
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/evanphx/synapse/log"
	"github.com/evanphx/synapse/memory"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Kernel wires the heap, the paging layer, the registry and the scheduler
// together for one boot.
type Kernel struct {
	BootID uuid.UUID

	Arena     *memory.Arena
	Spaces    *memory.AddressSpaces
	Registry  *Registry
	Scheduler *Scheduler

	cfg     Config
	release func() error
}

func NewKernel(cfg Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Kernel{
		BootID:  uuid.New(),
		cfg:     cfg,
		release: func() error { return nil },
	}

	var opts []memory.Option

	if cfg.Mmap {
		mem, release, err := memory.MapBacking(uintptr(cfg.HeapSize))
		if err != nil {
			return nil, err
		}

		k.release = release
		opts = append(opts, memory.WithBacking(mem))
	}

	if cfg.Hardened {
		opts = append(opts, memory.WithHardening(k.BootID[:]))
	}

	k.Arena = memory.NewArena(opts...)

	if err := k.Arena.Init(uintptr(cfg.HeapBase), uintptr(cfg.HeapSize)); err != nil {
		k.release()
		return nil, errors.Wrap(err, "initializing heap")
	}

	k.Spaces = memory.NewAddressSpaces()

	reg, err := NewRegistry(k.Arena, k.Spaces, RegistryConfig{
		StackSize:   uintptr(cfg.StackSize),
		MaxPids:     cfg.MaxPids,
		MaxTids:     cfg.MaxTids,
		ExitHistory: cfg.ExitHistory,
	})
	if err != nil {
		k.release()
		return nil, err
	}

	k.Registry = reg
	k.Scheduler = NewScheduler(reg)

	if err := k.Scheduler.Init(); err != nil {
		k.release()
		return nil, err
	}

	log.L.Info("kernel-boot", "boot-id", k.BootID.String(), "heap-base", cfg.HeapBase, "heap-size", cfg.HeapSize)

	return k, nil
}

func (k *Kernel) Config() Config {
	return k.cfg
}

// Close releases the heap backing. The kernel must not be used after.
func (k *Kernel) Close() error {
	return k.release()
}

// Alloc is the kernel wide allocation entry point. Preemption is disabled
// for the duration of the heap call.
func (k *Kernel) Alloc(size uintptr) (uintptr, error) {
	k.Scheduler.Lock()
	defer k.Scheduler.Unlock()

	k.Registry.mu.Lock()
	defer k.Registry.mu.Unlock()

	return k.Arena.Alloc(size)
}

func (k *Kernel) AllocAlign(size, alignment uintptr) (uintptr, error) {
	k.Scheduler.Lock()
	defer k.Scheduler.Unlock()

	k.Registry.mu.Lock()
	defer k.Registry.mu.Unlock()

	return k.Arena.AllocAlign(size, alignment)
}

func (k *Kernel) Free(ptr uintptr) error {
	k.Scheduler.Lock()
	defer k.Scheduler.Unlock()

	k.Registry.mu.Lock()
	defer k.Registry.mu.Unlock()

	return k.Arena.Free(ptr)
}

// NewProcess creates an address space and registers a process owning it.
func (k *Kernel) NewProcess(name string, priority Priority) (*Process, error) {
	pd, err := k.Spaces.Create()
	if err != nil {
		return nil, err
	}

	p := &Process{
		Name:     name,
		Priority: priority,
		PageDir:  pd,
	}

	if err := k.Registry.CreateProcess(p); err != nil {
		k.Spaces.Destroy(pd)
		return nil, err
	}

	return p, nil
}

func (k *Kernel) DumpMemory(w io.Writer) error {
	k.Registry.mu.Lock()
	defer k.Registry.mu.Unlock()

	return k.Arena.DumpMemory(w)
}

type debugState struct {
	BootID    string
	Heap      memory.Stats
	Processes int
	Threads   int
	Current   int
	Switches  int
	Locked    bool
	Pending   bool
}

// DebugDump writes a structural dump of the core's state.
func (k *Kernel) DebugDump(w io.Writer) {
	st := debugState{
		BootID:    k.BootID.String(),
		Processes: len(k.Registry.Processes()),
		Threads:   len(k.Registry.Threads()),
		Current:   k.Scheduler.Current().Tid,
		Switches:  k.Scheduler.Switches(),
		Locked:    k.Scheduler.Locked(),
		Pending:   k.Scheduler.Pending(),
	}

	k.Registry.mu.Lock()
	st.Heap = k.Arena.Stats()
	k.Registry.mu.Unlock()

	spew.Fdump(w, st)
}
