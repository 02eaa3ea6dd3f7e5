// Package selector turns the operator's CPU list into the set of CPU ids a
// snapshot reports on.
package selector

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrNoValidCPU is returned when the CPU list has text but no usable id.
var ErrNoValidCPU = errors.New("no valid CPU id found in cpu list")

// Selection is an immutable, sorted set of CPU ids. A nil Selection means
// "every CPU present in the store at render time".
type Selection struct {
	ids []uint32
}

// Parse accepts ids separated by commas and/or whitespace ("1,3 5").
// Tokens that are not non-negative integers are ignored; duplicates collapse.
// Blank text yields the dynamic (nil) selection.
func Parse(text string) (*Selection, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	seen := make(map[uint32]struct{})
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, tok := range fields {
		id, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			continue
		}
		seen[uint32(id)] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, ErrNoValidCPU
	}

	ids := make([]uint32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &Selection{ids: ids}, nil
}

// IDs returns a copy of the selected ids in ascending order.
func (s *Selection) IDs() []uint32 {
	if s == nil {
		return nil
	}
	out := make([]uint32, len(s.ids))
	copy(out, s.ids)
	return out
}

// Dynamic reports whether the selection defers to the ids present in the store.
func (s *Selection) Dynamic() bool {
	return s == nil
}

// Resolve returns the ids to report for one window: the static set when
// configured, otherwise the present ids sorted ascending.
func (s *Selection) Resolve(present []uint32) []uint32 {
	if s != nil {
		return s.IDs()
	}
	out := make([]uint32, len(present))
	copy(out, present)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the selection the way it is accepted on the command line.
func (s *Selection) String() string {
	if s == nil {
		return "all"
	}
	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
