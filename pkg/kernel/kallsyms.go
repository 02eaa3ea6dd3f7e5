package kernel

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// KallsymsPath is where the kernel exports its symbol table.
const KallsymsPath = "/proc/kallsyms"

var (
	// ErrSymbolNotFound is returned when a required symbol is not exported.
	ErrSymbolNotFound = errors.New("kernel symbol not found")
	// ErrAddressHidden is returned when kallsyms reports zero addresses
	// (kptr_restrict or missing privileges).
	ErrAddressHidden = errors.New("kernel symbol addresses are hidden")
)

// LookupSymbols scans kallsyms for names and returns the addresses it found.
// Names that are absent are simply missing from the result.
func LookupSymbols(fs afero.Fs, names ...string) (map[string]uint64, error) {
	f, err := fs.Open(KallsymsPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", KallsymsPath, err)
	}
	defer f.Close()

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	found := make(map[string]uint64, len(names))
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(found) < len(wanted) {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		name := fields[2]
		if _, ok := wanted[name]; !ok {
			continue
		}
		// Module symbols carry a trailing [module] column; only vmlinux is wanted.
		if len(fields) > 3 {
			continue
		}
		if _, dup := found[name]; dup {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing address of %s: %w", name, err)
		}
		if addr == 0 {
			return nil, fmt.Errorf("%s: %w", name, ErrAddressHidden)
		}
		found[name] = addr
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", KallsymsPath, err)
	}
	return found, nil
}
