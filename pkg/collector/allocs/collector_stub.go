//go:build !linux
// +build !linux

package allocs

import (
	"errors"

	"github.com/srodi/pcp-bpf/pkg/store"
)

var errUnsupported = errors.New("allocs collector requires linux")

// Collector is a placeholder on non-Linux platforms.
type Collector struct{}

// NewCollector returns an error because eBPF is only supported on Linux.
func NewCollector() (*Collector, error) {
	return nil, errUnsupported
}

// Store has nothing to expose on unsupported platforms.
func (c *Collector) Store() store.Store {
	return nil
}

// Unmovable returns the upstream default.
func (c *Collector) Unmovable() int32 {
	return defaultUnmovable
}

// Close is a no-op stub.
func (c *Collector) Close() error {
	return nil
}
