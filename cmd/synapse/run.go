package main

import (
	"context"
	"fmt"

	"github.com/evanphx/synapse/kernel"
	"github.com/evanphx/synapse/trap"
)

// Entry points of the demo threads. Nothing executes at them; they only
// show up in the restored EIP.
const (
	initMain   = 0x00401000
	initWorker = 0x00402000
	mixerMain  = 0x00501000
	watchdog   = 0x00601000
)

// run boots a small workload and drives it with timer ticks: two normal
// threads share the CPU, a soft-time mixer and a hard-time watchdog wake
// up, preempt them, and exit.
func run(ctx context.Context, k *kernel.Kernel, d *trap.Dispatcher, ticks int) error {
	_, _, err := k.Spawn("init", kernel.Normal, initMain, initWorker)
	if err != nil {
		return err
	}

	_, mixer, err := k.Spawn("mixer", kernel.SoftTime, mixerMain)
	if err != nil {
		return err
	}

	_, dog, err := k.Spawn("watchdog", kernel.HardTime, watchdog)
	if err != nil {
		return err
	}

	k.Scheduler.SetSleeping(mixer[0])
	k.Scheduler.SetSleeping(dog[0])

	frame := trap.Frame{EFLAGS: kernel.FlagsInterruptEnable | kernel.FlagsReserved}

	for i := 0; i < ticks; i++ {
		switch i {
		case ticks / 4:
			k.Scheduler.Wake(dog[0])
		case ticks/4 + 1:
			k.Registry.ExitTask(dog[0])
		case ticks / 2:
			k.Scheduler.Wake(mixer[0])
		case ticks/2 + 2:
			k.Registry.ExitTask(mixer[0])
		}

		if err := d.Tick(ctx, &frame); err != nil {
			return err
		}

		cur := k.Scheduler.Current()
		fmt.Printf("tick %3d  tid=%-3d pid=%-3d %-9s eip=%#x\n",
			i, cur.Tid, cur.Process.Pid, cur.Priority, frame.EIP)

		for {
			p, err := k.Registry.ReapAny(ctx, false)
			if err != nil {
				return err
			}

			if p == nil {
				break
			}

			fmt.Printf("          reaped pid=%d (%s)\n", p.Pid, p.Name)
		}
	}

	return nil
}
