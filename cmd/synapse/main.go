package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/evanphx/synapse/kernel"
	clog "github.com/evanphx/synapse/log"
	"github.com/evanphx/synapse/trap"
	"github.com/spf13/pflag"
)

var (
	fConfig   = pflag.StringP("config", "c", "", "YAML boot configuration")
	fHeapBase = pflag.Uint64("heap-base", 0, "heap base address (overrides config)")
	fHeapSize = pflag.Uint64("heap-size", 0, "heap length in bytes (overrides config)")
	fTicks    = pflag.IntP("ticks", "t", 0, "timer ticks to deliver (overrides config)")
	fHardened = pflag.Bool("hardened", false, "enable heap header canaries")
	fMmap     = pflag.Bool("mmap", false, "back the heap with an anonymous mapping")
	fLevel    = pflag.StringP("log-level", "l", "", "log level")
	fDebug    = pflag.Bool("debug", false, "debug logging and a structural state dump at exit")
)

func loadConfig() (kernel.Config, error) {
	cfg := kernel.DefaultConfig()

	if *fConfig != "" {
		var err error
		cfg, err = kernel.LoadConfig(*fConfig)
		if err != nil {
			return cfg, err
		}
	}

	if *fHeapBase != 0 {
		cfg.HeapBase = *fHeapBase
	}

	if *fHeapSize != 0 {
		cfg.HeapSize = *fHeapSize
	}

	if *fTicks != 0 {
		cfg.Ticks = *fTicks
	}

	if *fLevel != "" {
		cfg.LogLevel = *fLevel
	}

	cfg.Hardened = cfg.Hardened || *fHardened
	cfg.Mmap = cfg.Mmap || *fMmap

	return cfg, cfg.Validate()
}

func main() {
	pflag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	clog.SetLevel(cfg.LogLevel)

	if *fDebug {
		clog.EnableDebug()
	}

	k, err := kernel.NewKernel(cfg)
	if err != nil {
		log.Fatal(err)
	}

	defer k.Close()

	d := &trap.Dispatcher{Scheduler: k.Scheduler}

	if err := run(context.Background(), k, d, cfg.Ticks); err != nil {
		log.Fatal(err)
	}

	if err := dump(os.Stdout, k); err != nil {
		log.Fatal(err)
	}

	if *fDebug {
		fmt.Println()
		k.DebugDump(os.Stdout)
	}
}
