package main

import (
	"context"
	"testing"

	"github.com/evanphx/synapse/kernel"
	"github.com/evanphx/synapse/trap"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	cfg := kernel.DefaultConfig()
	cfg.HeapSize = 0x100000

	k, err := kernel.NewKernel(cfg)
	require.NoError(t, err)
	defer k.Close()

	d := &trap.Dispatcher{Scheduler: k.Scheduler}

	require.NoError(t, run(context.Background(), k, d, cfg.Ticks))

	var names []string
	for _, p := range k.Registry.Processes() {
		names = append(names, p.Name)
	}

	require.Equal(t, []string{kernel.GenesisName, "init"}, names)
	require.NoError(t, k.Arena.Check())
	require.Equal(t, kernel.Normal, k.Scheduler.Current().Priority)
}
