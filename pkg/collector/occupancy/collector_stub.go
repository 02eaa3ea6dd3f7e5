//go:build !linux
// +build !linux

package occupancy

import (
	"errors"

	"github.com/srodi/pcp-bpf/pkg/kernel"
	"github.com/srodi/pcp-bpf/pkg/store"
)

var errUnsupported = errors.New("occupancy collector requires linux")

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

// Layout is always empty on unsupported platforms.
func (c *Collector) Layout() kernel.PCPLayout {
	return kernel.PCPLayout{}
}

// Close is a no-op stub.
func (c *Collector) Close() error {
	return nil
}
