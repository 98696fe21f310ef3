package kernel

import (
	"github.com/evanphx/synapse/memory"
	"github.com/pkg/errors"
)

// Spawn creates a process and one thread per entry point, all at the
// given priority. The page holding each entry point is mapped into the
// process's directory. On failure everything created so far is torn down.
func (k *Kernel) Spawn(name string, priority Priority, entries ...uintptr) (*Process, []*Thread, error) {
	proc, err := k.NewProcess(name, priority)
	if err != nil {
		return nil, nil, err
	}

	var threads []*Thread

	rollback := func(err error) error {
		for _, t := range threads {
			k.Registry.ExitTask(t)
		}

		k.Registry.DestroyProcess(proc)

		return errors.Wrapf(err, "spawning %q", name)
	}

	for _, entry := range entries {
		if _, err := proc.PageDir.Map(entry&^(memory.PageSize-1), memory.PageSize); err != nil {
			return nil, nil, rollback(err)
		}

		t, err := k.Registry.CreateTask(proc, entry, priority)
		if err != nil {
			return nil, nil, rollback(err)
		}

		threads = append(threads, t)
	}

	return proc, threads, nil
}
