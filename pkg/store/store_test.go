package store

import (
	"testing"

	"github.com/srodi/pcp-bpf/pkg/types"
)

func TestPresent(t *testing.T) {
	entries := []types.CounterEntry{{CPU: 0, Value: 1}, {CPU: 3, Value: 0}}
	ids := Present(entries)
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 3 {
		t.Fatalf("unexpected present ids %v", ids)
	}
	if ids := Present(nil); len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}
