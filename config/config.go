// Package config loads the runtime-tunable knobs a gc.Heap is constructed
// from: heap capacity, bitmap storage, and verbosity. It also reads a
// safepoint poll cadence, which gc.Heap does not consult. Defaults are sane
// for a small embedded heap; an optional YAML file overrides them.
package config

import (
	"fmt"
	"os"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// Config holds every tunable a gc.Heap needs at construction time.
type Config struct {
	// HeapCapacityBytes is the size, in bytes, of the backing region the
	// allocator carves objects from. Populated from HeapCapacity if that
	// field is set in the YAML source.
	HeapCapacityBytes uintptr `yaml:"-"`

	// HeapCapacity is a human-readable size string ("64MiB", "512KB"),
	// parsed with github.com/inhies/go-bytesize into HeapCapacityBytes.
	HeapCapacity string `yaml:"heap_capacity"`

	// AllocationsPerPoll is read from allocations_per_poll. Neither
	// gc.NewHeap nor the allocator consults it: alloc.BumpAllocator always
	// polls every alloc.AllocationsPerPoll allocations.
	AllocationsPerPoll int `yaml:"allocations_per_poll"`

	// UseMmap selects mmap-backed bitmap storage over plain Go slices.
	UseMmap bool `yaml:"use_mmap"`

	// Verbose enables SAFEPOINT_VERBOSE-style timing logs at STW
	// boundaries. Overridden to true if the SAFEPOINT_VERBOSE environment
	// variable is set to a non-empty value.
	Verbose bool `yaml:"verbose"`
}

// DefaultHeapCapacity is used when neither a YAML file nor an explicit
// HeapCapacity string sets one.
const DefaultHeapCapacity = 16 << 20 // 16 MiB

// Default returns a Config with workable defaults and no YAML file
// involved, suitable for tests and for embedders that don't need
// file-based configuration.
func Default() Config {
	return Config{
		HeapCapacityBytes:  DefaultHeapCapacity,
		AllocationsPerPoll: 0,
		UseMmap:            false,
		Verbose:            os.Getenv("SAFEPOINT_VERBOSE") != "",
	}
}

// Load reads a YAML configuration file from path, applying defaults for
// anything unset. An empty path is not an error: Load returns Default()'s
// values, still honoring SAFEPOINT_VERBOSE.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.HeapCapacity != "" {
		size, err := bytesize.Parse(cfg.HeapCapacity)
		if err != nil {
			return Config{}, fmt.Errorf("config: heap_capacity %q: %w", cfg.HeapCapacity, err)
		}
		cfg.HeapCapacityBytes = uintptr(size)
	} else if cfg.HeapCapacityBytes == 0 {
		cfg.HeapCapacityBytes = DefaultHeapCapacity
	}

	if os.Getenv("SAFEPOINT_VERBOSE") != "" {
		cfg.Verbose = true
	}

	return cfg, nil
}
