// Package commands implements the wol-log CLI commands.
package commands

import (
	"fmt"
	"io"

	"github.com/lsp-wol/wol-go/pkg/log"
)

// timeFormat is used for every rendered timestamp.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// eventType labels an event by its payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "frame"
	case event.Envelope != nil:
		return "envelope"
	case event.StateChange != nil:
		return "state"
	case event.Error != nil:
		return "error"
	default:
		return "unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeFormat)
	connID := shortenConnID(event.ConnectionID)

	label := eventType(event)
	switch {
	case event.Envelope != nil:
		label = event.Envelope.Cmd
	case event.StateChange != nil:
		label = event.StateChange.Entity.String()
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, event.Direction, event.Layer, label)
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Envelope != nil:
		formatEnvelopeDetails(w, event.Envelope)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes", frame.Size)
	if frame.Oversized {
		fmt.Fprint(w, " (oversized, dropped)")
	}
	fmt.Fprintln(w)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %q", string(frame.Data))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatEnvelopeDetails(w io.Writer, env *log.EnvelopeEvent) {
	fmt.Fprintf(w, "  Data: %q\n", env.Data)
	if env.Host != "" {
		fmt.Fprintf(w, "  Host: %s\n", env.Host)
	}
	if env.Type != "" {
		fmt.Fprintf(w, "  Type: %s\n", env.Type)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// RunView prints matching events from path to output.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := openReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
