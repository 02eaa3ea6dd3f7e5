// Package sampler runs the periodic read of the counter store: sleep one
// interval, read the selected CPUs, drain the store when the mode asks for
// it, render, repeat until cancelled.
package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"github.com/srodi/pcp-bpf/pkg/report"
	"github.com/srodi/pcp-bpf/pkg/selector"
	"github.com/srodi/pcp-bpf/pkg/store"
	"github.com/srodi/pcp-bpf/pkg/types"
)

// State is the loop's position in its cycle.
type State int32

const (
	Idle State = iota
	Sleeping
	Draining
	Rendering
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sleeping:
		return "sleeping"
	case Draining:
		return "draining"
	case Rendering:
		return "rendering"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Observer receives every rendered window, after it was written out.
type Observer interface {
	Observe(win types.Window)
}

// Config describes what one sampler reports.
type Config struct {
	Mode      types.Mode
	Interval  time.Duration
	Selection *selector.Selection
	// AllLists is copied into every window; see types.Window.
	AllLists bool
}

// Sampler is the only reader of a store and the only component that clears it.
type Sampler struct {
	cfg       Config
	store     store.Store
	out       io.Writer
	render    report.RenderFunc
	observers []Observer
	now       func() time.Time

	state      atomic.Int32
	windows    atomic.Uint64
	clearFails atomic.Uint64
}

// Option customizes a Sampler.
type Option func(*Sampler)

// WithRenderer replaces report.Render.
func WithRenderer(fn report.RenderFunc) Option {
	return func(s *Sampler) { s.render = fn }
}

// WithObservers registers observers called after each render.
func WithObservers(obs ...Observer) Option {
	return func(s *Sampler) { s.observers = append(s.observers, obs...) }
}

// New validates cfg and builds a sampler writing to out.
func New(cfg Config, st store.Store, out io.Writer, opts ...Option) (*Sampler, error) {
	if st == nil {
		return nil, errors.New("sampler needs a counter store")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sampling interval must be positive, got %v", cfg.Interval)
	}
	s := &Sampler{
		cfg:    cfg,
		store:  st,
		out:    out,
		render: report.Render,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State reports where the loop currently is.
func (s *Sampler) State() State {
	return State(s.state.Load())
}

// Windows counts rendered windows.
func (s *Sampler) Windows() uint64 {
	return s.windows.Load()
}

// ClearFailures counts windows whose drain failed.
func (s *Sampler) ClearFailures() uint64 {
	return s.clearFails.Load()
}

// Sample reads the selected CPUs and, for draining modes, clears the store
// once after all reads. CPUs without a recorded value report 0.
func (s *Sampler) Sample(elapsed time.Duration) (types.Window, error) {
	win := types.Window{
		Mode:     s.cfg.Mode,
		Interval: s.cfg.Interval,
		Elapsed:  elapsed,
		Taken:    s.now(),
		AllLists: s.cfg.AllLists,
	}

	if s.cfg.Selection.Dynamic() {
		entries, err := s.store.Entries()
		if err != nil {
			return win, fmt.Errorf("reading counters: %w", err)
		}
		values := make(map[uint32]uint64, len(entries))
		for _, e := range entries {
			values[e.CPU] = e.Value
		}
		for _, id := range s.cfg.Selection.Resolve(store.Present(entries)) {
			win.Entries = append(win.Entries, types.CounterEntry{CPU: id, Value: values[id]})
		}
	} else {
		for _, id := range s.cfg.Selection.IDs() {
			v, _, err := s.store.Get(id)
			if err != nil {
				return win, fmt.Errorf("reading cpu %d: %w", id, err)
			}
			win.Entries = append(win.Entries, types.CounterEntry{CPU: id, Value: v})
		}
	}

	if s.cfg.Mode.Drains() {
		if err := s.store.ClearAll(); err != nil {
			s.clearFails.Add(1)
			log.Warn().Err(err).Msg("clearing counters failed, next window may include this one")
		}
	}
	return win, nil
}

// Run loops until ctx is cancelled. Cancellation is not an error. A window
// is written in a single Write, so cancellation never leaves half a snapshot.
func (s *Sampler) Run(ctx context.Context) error {
	defer s.state.Store(int32(Stopped))
	s.state.Store(int32(Idle))

	last := s.now()
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		s.state.Store(int32(Sleeping))
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		s.state.Store(int32(Draining))
		now := s.now()
		win, err := s.Sample(now.Sub(last))
		last = now
		if err != nil {
			log.Warn().Err(err).Msg("snapshot failed")
			timer.Reset(s.cfg.Interval)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		s.state.Store(int32(Rendering))
		var buf bytes.Buffer
		s.render(&buf, win)
		if _, err := s.out.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
		s.windows.Add(1)
		for _, obs := range s.observers {
			obs.Observe(win)
		}
		timer.Reset(s.cfg.Interval)
	}
}
