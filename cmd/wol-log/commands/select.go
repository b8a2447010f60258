package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/lsp-wol/wol-go/pkg/log"
)

// ParseLayerFlag parses a layer flag value (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	l, ok := log.ParseLayer(s)
	if !ok {
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or session)", s)
	}
	return l, nil
}

// ParseDirectionFlag parses a direction flag value (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	d, ok := log.ParseDirection(s)
	if !ok {
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
	return d, nil
}

// ParseCategoryFlag parses a category flag value (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	c, ok := log.ParseCategory(s)
	if !ok {
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, or error)", s)
	}
	return c, nil
}

// SelectOptions holds the flag values shared by view, export and filter.
type SelectOptions struct {
	ConnID    string
	Cmd       string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// BuildFilter converts flag values to a log.Filter.
func BuildFilter(opts SelectOptions) (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		Cmd:          strings.TrimSpace(opts.Cmd),
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if opts.Layer != "" {
		l, err := ParseLayerFlag(opts.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if opts.Direction != "" {
		d, err := ParseDirectionFlag(opts.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// openReader opens path, or stdin when path is "-".
func openReader(path string, filter log.Filter) (*log.Reader, error) {
	if path == "-" {
		return log.NewStreamReader(io.NopCloser(os.Stdin), filter), nil
	}
	return log.NewFilteredReader(path, filter)
}
