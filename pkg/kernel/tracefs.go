package kernel

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// TracefsRoots lists the mount points probed for tracepoint formats.
var TracefsRoots = []string{"/sys/kernel/tracing", "/sys/kernel/debug/tracing"}

// ErrFieldNotFound is returned when an event or type lacks a required field.
var ErrFieldNotFound = errors.New("field not found")

// Field describes one tracepoint argument as laid out in the raw context.
type Field struct {
	Name   string
	Offset int
	Size   int
	Signed bool
}

// EventFormat is the parsed content of events/<group>/<event>/format.
type EventFormat struct {
	Name   string
	ID     uint32
	Fields map[string]Field
}

// Field returns the named field.
func (e *EventFormat) Field(name string) (Field, error) {
	f, ok := e.Fields[name]
	if !ok {
		return Field{}, fmt.Errorf("%s.%s: %w", e.Name, name, ErrFieldNotFound)
	}
	return f, nil
}

// ReadEventFormat loads the format of group/event from the first tracefs root that has it.
func ReadEventFormat(fs afero.Fs, group, event string) (*EventFormat, error) {
	var lastErr error
	for _, root := range TracefsRoots {
		path := filepath.Join(root, "events", group, event, "format")
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			lastErr = err
			continue
		}
		format, err := ParseEventFormat(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return format, nil
	}
	return nil, fmt.Errorf("reading format of %s/%s: %w", group, event, lastErr)
}

// ParseEventFormat parses a tracefs format file.
func ParseEventFormat(data []byte) (*EventFormat, error) {
	format := &EventFormat{Fields: make(map[string]Field)}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "name:"):
			format.Name = strings.TrimSpace(strings.TrimPrefix(line, "name:"))
		case strings.HasPrefix(line, "ID:"):
			id, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "ID:")), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("event id: %w", err)
			}
			format.ID = uint32(id)
		case strings.HasPrefix(line, "field:"):
			field, err := parseFieldLine(line)
			if err != nil {
				return nil, err
			}
			format.Fields[field.Name] = field
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(format.Fields) == 0 {
		return nil, errors.New("format has no fields")
	}
	return format, nil
}

// parseFieldLine handles "field:unsigned int order;	offset:16;	size:4;	signed:0;".
func parseFieldLine(line string) (Field, error) {
	var field Field
	var haveOffset, haveSize bool
	for _, part := range strings.Split(line, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "field":
			decl := strings.Fields(value)
			if len(decl) == 0 {
				return Field{}, fmt.Errorf("empty field declaration in %q", line)
			}
			name := decl[len(decl)-1]
			if i := strings.IndexByte(name, '['); i >= 0 {
				name = name[:i]
			}
			field.Name = strings.TrimLeft(name, "*")
		case "offset":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Field{}, fmt.Errorf("field offset in %q: %w", line, err)
			}
			field.Offset, haveOffset = n, true
		case "size":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Field{}, fmt.Errorf("field size in %q: %w", line, err)
			}
			field.Size, haveSize = n, true
		case "signed":
			field.Signed = value == "1"
		}
	}
	if field.Name == "" || !haveOffset || !haveSize {
		return Field{}, fmt.Errorf("incomplete field line %q", line)
	}
	return field, nil
}
