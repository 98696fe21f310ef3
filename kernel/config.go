package kernel

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config describes how the core is booted. It is usually read from a YAML
// file and then adjusted by command line flags.
type Config struct {
	HeapBase    uint64 `yaml:"heap_base"`
	HeapSize    uint64 `yaml:"heap_size"`
	StackSize   uint64 `yaml:"stack_size"`
	MaxPids     int    `yaml:"max_pids"`
	MaxTids     int    `yaml:"max_tids"`
	Hardened    bool   `yaml:"hardened"`
	Mmap        bool   `yaml:"mmap"`
	ExitHistory int    `yaml:"exit_history"`
	LogLevel    string `yaml:"log_level"`
	Ticks       int    `yaml:"ticks"`
}

func DefaultConfig() Config {
	return Config{
		HeapBase:    0x100000,
		HeapSize:    0x400000,
		StackSize:   DefaultStackSize,
		MaxPids:     32768,
		MaxTids:     65536,
		ExitHistory: 64,
		LogLevel:    "info",
		Ticks:       16,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing %s", path)
	}

	return cfg, cfg.Validate()
}

// Validate checks the constraints the core relies on. Saved contexts hold
// 32 bit addresses, so the heap must sit below 4GiB.
func (c Config) Validate() error {
	if c.HeapSize == 0 {
		return errors.Wrap(ErrBadConfig, "heap_size is zero")
	}

	if c.HeapBase+c.HeapSize > 1<<32 || c.HeapBase+c.HeapSize < c.HeapBase {
		return errors.Wrapf(ErrBadConfig, "heap %#x+%#x does not fit in 32 bits", c.HeapBase, c.HeapSize)
	}

	if c.StackSize == 0 || c.StackSize%stackAlign != 0 {
		return errors.Wrapf(ErrBadConfig, "stack_size %d must be a non-zero multiple of %d", c.StackSize, stackAlign)
	}

	if c.MaxPids <= 0 || c.MaxTids <= 0 {
		return errors.Wrap(ErrBadConfig, "max_pids and max_tids must be positive")
	}

	return nil
}
