package kernel

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf/btf"
)

// ErrUnsupportedLayout is returned when the kernel's per-CPU page cache does
// not look like any known layout.
var ErrUnsupportedLayout = errors.New("unsupported per-cpu pageset layout")

// TypeSource finds BTF types by name. *btf.Spec satisfies it.
type TypeSource interface {
	TypeByName(name string, typ interface{}) error
}

// EnumValue resolves enumName.valueName, e.g. migratetype.MIGRATE_UNMOVABLE.
func EnumValue(src TypeSource, enumName, valueName string) (uint64, error) {
	var enum *btf.Enum
	if err := src.TypeByName(enumName, &enum); err != nil {
		return 0, fmt.Errorf("enum %s: %w", enumName, err)
	}
	for _, v := range enum.Values {
		if v.Name == valueName {
			return v.Value, nil
		}
	}
	return 0, fmt.Errorf("enum %s value %s: %w", enumName, valueName, ErrFieldNotFound)
}

// PCPLayout locates the order-0 unmovable list length of one CPU's page cache.
//
// The BPF side computes:
//
//	pgdat  = node 0 pglist_data
//	base   = *(pgdat + PagesetPtrOffset)          // __percpu pointer
//	pcp    = base + __per_cpu_offset[cpu]
//	count  = *(pcp + CountOffset), CountSize bytes
type PCPLayout struct {
	Strategy         string
	ZoneNormal       uint64
	PagesetPtrOffset uint32
	CountOffset      uint32
	CountSize        uint32
	// PerList is false when the kernel only tracks the total page count
	// across all lists; the value read is then that total.
	PerList   bool
	ListIndex uint64
}

// PCPStrategy knows how one kernel generation hangs the per-CPU pageset off struct zone.
type PCPStrategy interface {
	Name() string
	// zoneField is the struct zone member holding the __percpu pointer.
	zoneField() string
	// pagesOffset finds struct per_cpu_pages inside the pointed-to type.
	pagesOffset(target btf.Type) (*btf.Struct, uint32, error)
}

type legacyPCP struct{}

func (legacyPCP) Name() string      { return "legacy" }
func (legacyPCP) zoneField() string { return "pageset" }

// Before 5.14 zone->pageset points at struct per_cpu_pageset, which embeds pcp.
func (legacyPCP) pagesOffset(target btf.Type) (*btf.Struct, uint32, error) {
	pageset, ok := skipQualifiers(target).(*btf.Struct)
	if !ok {
		return nil, 0, fmt.Errorf("zone.pageset target is %s: %w", target, ErrUnsupportedLayout)
	}
	m, off, err := findMember(pageset, "pcp")
	if err != nil {
		return nil, 0, err
	}
	pages, ok := skipQualifiers(m.Type).(*btf.Struct)
	if !ok {
		return nil, 0, fmt.Errorf("per_cpu_pageset.pcp is %s: %w", m.Type, ErrUnsupportedLayout)
	}
	return pages, off, nil
}

type modernPCP struct{}

func (modernPCP) Name() string      { return "modern" }
func (modernPCP) zoneField() string { return "per_cpu_pageset" }

func (modernPCP) pagesOffset(target btf.Type) (*btf.Struct, uint32, error) {
	pages, ok := skipQualifiers(target).(*btf.Struct)
	if !ok {
		return nil, 0, fmt.Errorf("zone.per_cpu_pageset target is %s: %w", target, ErrUnsupportedLayout)
	}
	return pages, 0, nil
}

// modernPCPSince is the first release where zone->per_cpu_pageset points
// straight at struct per_cpu_pages. Only consulted when BTF is ambiguous.
var modernPCPSince = Version{Major: 5, Minor: 14}

// SelectPCPStrategy picks the layout strategy from the members of struct
// zone. Vendor kernels backport the change, so the release is only a
// tie-breaker.
func SelectPCPStrategy(src TypeSource, v Version) (PCPStrategy, error) {
	zone, _, _, err := normalZone(src)
	if err != nil {
		return nil, err
	}
	_, _, modernErr := findMember(zone, modernPCP{}.zoneField())
	_, _, legacyErr := findMember(zone, legacyPCP{}.zoneField())
	switch {
	case modernErr == nil && legacyErr == nil:
		if v.Less(modernPCPSince) {
			return legacyPCP{}, nil
		}
		return modernPCP{}, nil
	case modernErr == nil:
		return modernPCP{}, nil
	case legacyErr == nil:
		return legacyPCP{}, nil
	}
	return nil, fmt.Errorf("struct zone has neither per_cpu_pageset nor pageset: %w", ErrUnsupportedLayout)
}

// normalZone returns struct zone, the byte offset of node_zones[ZONE_NORMAL]
// inside pglist_data and the ZONE_NORMAL index.
func normalZone(src TypeSource) (*btf.Struct, uint32, uint64, error) {
	zoneNormal, err := EnumValue(src, "zone_type", "ZONE_NORMAL")
	if err != nil {
		return nil, 0, 0, err
	}
	var pgdat *btf.Struct
	if err := src.TypeByName("pglist_data", &pgdat); err != nil {
		return nil, 0, 0, fmt.Errorf("struct pglist_data: %w", err)
	}
	zonesMember, zonesOff, err := findMember(pgdat, "node_zones")
	if err != nil {
		return nil, 0, 0, err
	}
	zones, ok := skipQualifiers(zonesMember.Type).(*btf.Array)
	if !ok {
		return nil, 0, 0, fmt.Errorf("pglist_data.node_zones is %s: %w", zonesMember.Type, ErrUnsupportedLayout)
	}
	if zoneNormal >= uint64(zones.Nelems) {
		return nil, 0, 0, fmt.Errorf("ZONE_NORMAL=%d outside node_zones[%d]: %w", zoneNormal, zones.Nelems, ErrUnsupportedLayout)
	}
	zone, ok := skipQualifiers(zones.Type).(*btf.Struct)
	if !ok {
		return nil, 0, 0, fmt.Errorf("node_zones element is %s: %w", zones.Type, ErrUnsupportedLayout)
	}
	zoneSize, err := btf.Sizeof(zone)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("sizeof struct zone: %w", err)
	}
	return zone, zonesOff + uint32(zoneNormal)*uint32(zoneSize), zoneNormal, nil
}

// ResolvePCPLayout walks pglist_data -> zone -> per-CPU pageset -> count for
// node 0's ZONE_NORMAL and the list holding order-0 pages of migratetype.
func ResolvePCPLayout(src TypeSource, strategy PCPStrategy, migratetype uint64) (PCPLayout, error) {
	layout := PCPLayout{Strategy: strategy.Name()}

	zone, zoneOff, zoneNormal, err := normalZone(src)
	if err != nil {
		return layout, err
	}
	layout.ZoneNormal = zoneNormal

	ptrMember, ptrOff, err := findMember(zone, strategy.zoneField())
	if err != nil {
		return layout, fmt.Errorf("%s strategy: %w", strategy.Name(), err)
	}
	ptr, ok := skipQualifiers(ptrMember.Type).(*btf.Pointer)
	if !ok {
		return layout, fmt.Errorf("zone.%s is %s: %w", strategy.zoneField(), ptrMember.Type, ErrUnsupportedLayout)
	}
	layout.PagesetPtrOffset = zoneOff + ptrOff

	pages, pagesOff, err := strategy.pagesOffset(ptr.Target)
	if err != nil {
		return layout, err
	}
	countMember, countOff, err := findMember(pages, "count")
	if err != nil {
		return layout, err
	}

	switch count := skipQualifiers(countMember.Type).(type) {
	case *btf.Array:
		if migratetype >= uint64(count.Nelems) {
			return layout, fmt.Errorf("list index %d outside count[%d]: %w", migratetype, count.Nelems, ErrUnsupportedLayout)
		}
		elem, err := btf.Sizeof(count.Type)
		if err != nil {
			return layout, fmt.Errorf("sizeof count element: %w", err)
		}
		layout.PerList = true
		layout.ListIndex = migratetype
		layout.CountOffset = pagesOff + countOff + uint32(migratetype)*uint32(elem)
		layout.CountSize = uint32(elem)
	case *btf.Int:
		layout.CountOffset = pagesOff + countOff
		layout.CountSize = count.Size
	default:
		return layout, fmt.Errorf("per_cpu_pages.count is %s: %w", countMember.Type, ErrUnsupportedLayout)
	}
	if layout.CountSize != 4 && layout.CountSize != 8 {
		return layout, fmt.Errorf("count of %d bytes: %w", layout.CountSize, ErrUnsupportedLayout)
	}
	return layout, nil
}

// findMember looks name up in s, descending into anonymous structs and
// unions. The returned offset is in bytes from the start of s.
func findMember(s *btf.Struct, name string) (btf.Member, uint32, error) {
	if m, off, ok := searchMembers(s.Members, name); ok {
		return m, off, nil
	}
	return btf.Member{}, 0, fmt.Errorf("struct %s member %s: %w", s.Name, name, ErrFieldNotFound)
}

func searchMembers(members []btf.Member, name string) (btf.Member, uint32, bool) {
	for _, m := range members {
		if m.Name == name {
			return m, m.Offset.Bytes(), true
		}
		if m.Name != "" {
			continue
		}
		var nested []btf.Member
		switch t := skipQualifiers(m.Type).(type) {
		case *btf.Struct:
			nested = t.Members
		case *btf.Union:
			nested = t.Members
		default:
			continue
		}
		if found, off, ok := searchMembers(nested, name); ok {
			return found, m.Offset.Bytes() + off, true
		}
	}
	return btf.Member{}, 0, false
}

func skipQualifiers(t btf.Type) btf.Type {
	for i := 0; i < 16; i++ {
		switch v := t.(type) {
		case *btf.Typedef:
			t = v.Type
		case *btf.Const:
			t = v.Type
		case *btf.Volatile:
			t = v.Type
		case *btf.Restrict:
			t = v.Type
		case *btf.TypeTag:
			t = v.Type
		default:
			return t
		}
	}
	return t
}
