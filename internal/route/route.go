// Package route parses request lines and resolves them against a static route table.
package route

import (
	"errors"
	"fmt"
	"strings"
)

// SupportedVersion is the only protocol token accepted in a request line.
const SupportedVersion = "HTTP/1.1"

// ErrMalformed reports a request line that cannot be served.
var ErrMalformed = errors.New("malformed request line")

// Request is the parsed form of a request line.
type Request struct {
	Method  string
	Target  string
	Version string
}

// Key returns the route table lookup key, "METHOD TARGET".
func (r Request) Key() string {
	return r.Method + " " + r.Target
}

// ParseRequestLine tokenizes line on whitespace. It requires at least three
// tokens with SupportedVersion in the third position; further tokens are ignored.
func ParseRequestLine(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Request{}, fmt.Errorf("%w: expected 3 tokens, got %d", ErrMalformed, len(fields))
	}
	if fields[2] != SupportedVersion {
		return Request{}, fmt.Errorf("%w: unsupported version %q", ErrMalformed, fields[2])
	}
	return Request{Method: fields[0], Target: fields[1], Version: fields[2]}, nil
}

// Table maps "METHOD TARGET" keys to resource names.
type Table struct {
	entries map[string]string
}

// NewTable copies entries into a Table.
func NewTable(entries map[string]string) Table {
	cp := make(map[string]string, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	return Table{entries: cp}
}

// DefaultTable is the route table served by poolhttpd.
func DefaultTable() Table {
	return NewTable(map[string]string{
		"GET /": "hello.html",
	})
}

// Lookup resolves req to a resource name.
func (t Table) Lookup(req Request) (string, bool) {
	name, ok := t.entries[req.Key()]
	return name, ok
}

// Len reports the number of routes.
func (t Table) Len() int {
	return len(t.entries)
}
