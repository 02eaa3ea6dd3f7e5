package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/srodi/pcp-bpf/pkg/types"
)

func render(win types.Window) string {
	var buf bytes.Buffer
	Render(&buf, win)
	return buf.String()
}

func TestRenderAllocsWindow(t *testing.T) {
	win := types.Window{
		Mode:     types.ModeAllocs,
		Interval: time.Second,
		Entries:  []types.CounterEntry{{CPU: 0, Value: 12}, {CPU: 3, Value: 0}, {CPU: 11, Value: 7}},
	}
	want := "\nΔ order-0 UNMOVABLE allocs per CPU (1 s window)\n" +
		"cpu 0   12\n" +
		"cpu 3   0\n" +
		"cpu 11  7\n"
	if got := render(win); got != want {
		t.Fatalf("unexpected output:\n%q\nwant\n%q", got, want)
	}
}

func TestRenderAllocsWithoutActivity(t *testing.T) {
	cases := []struct {
		name    string
		entries []types.CounterEntry
	}{
		{"empty", nil},
		{"allZero", []types.CounterEntry{{CPU: 2, Value: 0}, {CPU: 5, Value: 0}}},
	}
	for _, tc := range cases {
		win := types.Window{Mode: types.ModeAllocs, Interval: 500 * time.Millisecond, Entries: tc.entries}
		if got := render(win); got != "\n(no allocations in last 0.5 s)\n" {
			t.Fatalf("%s: unexpected output %q", tc.name, got)
		}
	}
}

func TestRenderOccupancyKeepsZeros(t *testing.T) {
	win := types.Window{
		Mode:     types.ModeOccupancy,
		Interval: 2250 * time.Millisecond,
		Entries:  []types.CounterEntry{{CPU: 2, Value: 0}, {CPU: 5, Value: 0}},
	}
	out := render(win)
	if !strings.HasPrefix(out, "\nPCP occupancy order-0 UNMOVABLE (2.25 s)\n") {
		t.Fatalf("unexpected header in %q", out)
	}
	if !strings.Contains(out, "cpu 2   0\n") || !strings.Contains(out, "cpu 5   0\n") {
		t.Fatalf("idle occupancy should still list cpus, got %q", out)
	}
}

func TestRenderOccupancyTotalOverAllLists(t *testing.T) {
	win := types.Window{
		Mode:     types.ModeOccupancy,
		Interval: time.Second,
		AllLists: true,
		Entries:  []types.CounterEntry{{CPU: 0, Value: 310}},
	}
	want := "\nPCP occupancy, total pages over all lists (1 s)\ncpu 0   310\n"
	if got := render(win); got != want {
		t.Fatalf("unexpected output:\n%q\nwant\n%q", got, want)
	}
	if strings.Contains(Header(win), "UNMOVABLE") {
		t.Fatalf("total count must not be labelled as the unmovable list: %q", Header(win))
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	win := types.Window{
		Mode:     types.ModeOccupancy,
		Interval: time.Second,
		Taken:    time.Now(),
		Entries:  []types.CounterEntry{{CPU: 0, Value: 31}, {CPU: 1, Value: 4}},
	}
	if a, b := render(win), render(win); a != b {
		t.Fatalf("rendering the same window twice differs:\n%q\n%q", a, b)
	}
}

func TestSeconds(t *testing.T) {
	cases := map[time.Duration]string{
		time.Second:             "1",
		500 * time.Millisecond:  "0.5",
		90 * time.Second:        "90",
		1250 * time.Millisecond: "1.25",
	}
	for d, want := range cases {
		if got := Seconds(d); got != want {
			t.Fatalf("Seconds(%v) = %q, want %q", d, got, want)
		}
	}
}
