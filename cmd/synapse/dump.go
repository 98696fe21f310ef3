package main

import (
	"fmt"
	"io"

	"github.com/evanphx/synapse/kernel"
)

func dump(w io.Writer, k *kernel.Kernel) error {
	fmt.Fprintf(w, "\n[boot %s]\n", k.BootID)

	fmt.Fprintf(w, "\n[processes]\n")
	if err := k.Registry.DumpProcesses(w); err != nil {
		return err
	}

	return k.DumpMemory(w)
}
