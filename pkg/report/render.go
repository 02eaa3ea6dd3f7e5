package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/srodi/pcp-bpf/pkg/types"
)

// RenderFunc writes one window to w.
type RenderFunc func(w io.Writer, win types.Window)

// Seconds formats an interval the way it is given on the command line (0.5, 1, 2.25).
func Seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'g', -1, 64)
}

// Header returns the title line for a window.
func Header(win types.Window) string {
	secs := Seconds(win.Interval)
	if win.Mode == types.ModeAllocs {
		return fmt.Sprintf("Δ order-0 UNMOVABLE allocs per CPU (%s s window)", secs)
	}
	if win.AllLists {
		return fmt.Sprintf("PCP occupancy, total pages over all lists (%s s)", secs)
	}
	return fmt.Sprintf("PCP occupancy order-0 UNMOVABLE (%s s)", secs)
}

// NoActivity reports whether the window is rendered as a single notice.
// Only drained windows qualify: an idle cache still has a length worth showing.
func NoActivity(win types.Window) bool {
	return win.Mode.Drains() && win.Total() == 0
}

// Render writes a blank separator, the header and one "cpu <id> <value>"
// line per entry. An event-count window without activity collapses to a
// single notice. Output depends only on win.
func Render(w io.Writer, win types.Window) {
	if NoActivity(win) {
		fmt.Fprintf(w, "\n(no allocations in last %s s)\n", Seconds(win.Interval))
		return
	}
	fmt.Fprintf(w, "\n%s\n", Header(win))
	for _, e := range win.Entries {
		fmt.Fprintf(w, "cpu %-3d %d\n", e.CPU, e.Value)
	}
}
