//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/srodi/pcp-bpf/pkg/collector/allocs"
	"github.com/srodi/pcp-bpf/pkg/collector/occupancy"
	"github.com/srodi/pcp-bpf/pkg/config"
	"github.com/srodi/pcp-bpf/pkg/logger"
	"github.com/srodi/pcp-bpf/pkg/metrics"
	"github.com/srodi/pcp-bpf/pkg/report"
	"github.com/srodi/pcp-bpf/pkg/sampler"
	"github.com/srodi/pcp-bpf/pkg/store"
	"github.com/srodi/pcp-bpf/pkg/types"
	"github.com/srodi/pcp-bpf/pkg/ui"
)

func main() {
	cfg, err := config.Parse(os.Args[1:], afero.NewOsFs(), os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pcpwatch: %v\n", err)
		os.Exit(2)
	}
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "pcpwatch: %v\n", err)
		os.Exit(2)
	}
	// Validate already parsed these once.
	mode, _ := cfg.ModeValue()
	selection, _ := cfg.Selection()

	// Raise rlimit for locked memory to allow eBPF programs to load.
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{
		Cur: unix.RLIM_INFINITY,
		Max: unix.RLIM_INFINITY,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to raise rlimit memlock")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counters, allLists, closer, err := attach(mode)
	if err != nil {
		log.Fatal().Err(err).Str("mode", mode.String()).Msg("attaching instrumentation")
	}
	defer closer.Close()

	var opts []sampler.Option
	if cfg.Metrics.ListenAddress != "" {
		exporter := metrics.NewExporter()
		opts = append(opts, sampler.WithObservers(exporter))
		go func() {
			if err := exporter.Serve(ctx, cfg.Metrics.ListenAddress, cfg.Metrics.Path); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}
	if cfg.SingleView {
		cleanupTerminal := ui.EnableSingleView()
		defer cleanupTerminal()
		opts = append(opts, sampler.WithRenderer(ui.Frame(report.Render)))
	}

	s, err := sampler.New(sampler.Config{
		Mode:      mode,
		Interval:  cfg.Interval(),
		Selection: selection,
		AllLists:  allLists,
	}, counters, os.Stdout, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("creating sampler")
	}

	log.Info().
		Str("mode", mode.String()).
		Str("cpus", selection.String()).
		Dur("interval", cfg.Interval()).
		Msg("counting, Ctrl-C to stop")
	if err := s.Run(ctx); err != nil {
		log.Error().Err(err).Msg("sampling stopped")
	}
	log.Info().Uint64("windows", s.Windows()).Msg("stopped")
}

// attach loads the instrumentation for mode and returns its counter store.
// allLists is set when occupancy can only read the total over every list.
func attach(mode types.Mode) (counters store.Store, allLists bool, closer io.Closer, err error) {
	switch mode {
	case types.ModeOccupancy:
		c, err := occupancy.NewCollector()
		if err != nil {
			return nil, false, nil, err
		}
		layout := c.Layout()
		log.Info().
			Str("strategy", layout.Strategy).
			Bool("per_list", layout.PerList).
			Uint32("count_offset", layout.CountOffset).
			Msg("pcp layout resolved")
		if !layout.PerList {
			log.Warn().Msg("kernel keeps one page count per CPU cache, reporting the total over all lists")
		}
		return c.Store(), !layout.PerList, c, nil
	case types.ModeAllocs:
		c, err := allocs.NewCollector()
		if err != nil {
			return nil, false, nil, err
		}
		log.Info().Int32("migratetype", c.Unmovable()).Msg("counting mm_page_alloc")
		return c.Store(), false, c, nil
	}
	return nil, false, nil, fmt.Errorf("unsupported mode %s", mode)
}
