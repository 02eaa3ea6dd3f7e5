package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/srodi/pcp-bpf/pkg/report"
	"github.com/srodi/pcp-bpf/pkg/types"
)

const clearScreen = "\033[H\033[2J"

// Frame wraps render so each window repaints the whole screen under the banner.
func Frame(render report.RenderFunc) report.RenderFunc {
	return func(w io.Writer, win types.Window) {
		io.WriteString(w, clearScreen)
		io.WriteString(w, Banner())
		fmt.Fprintf(w, "pcpwatch %s (press Ctrl+C to exit)\n", win.Mode)
		fmt.Fprintf(w, "Updated: %s | Interval: %s s\n", win.Taken.Format(time.RFC3339), report.Seconds(win.Interval))
		render(w, win)
	}
}
