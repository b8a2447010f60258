package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/lsp-wol/wol-go/pkg/log"
)

// jsonEvent is the JSONL export shape with enums rendered as names.
type jsonEvent struct {
	Timestamp    string           `json:"timestamp"`
	ConnectionID string           `json:"connection_id,omitempty"`
	Direction    string           `json:"direction"`
	Layer        string           `json:"layer"`
	Category     string           `json:"category"`
	RemoteAddr   string           `json:"remote_addr,omitempty"`
	LocalAddr    string           `json:"local_addr,omitempty"`
	Frame        *jsonFrame       `json:"frame,omitempty"`
	Envelope     *jsonEnvelope    `json:"envelope,omitempty"`
	StateChange  *jsonStateChange `json:"state_change,omitempty"`
	Error        *jsonError       `json:"error,omitempty"`
}

type jsonFrame struct {
	Size      int    `json:"size"`
	Data      string `json:"data,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Oversized bool   `json:"oversized,omitempty"`
}

type jsonEnvelope struct {
	Cmd  string `json:"cmd"`
	Data string `json:"data"`
	Host string `json:"host,omitempty"`
	Type string `json:"type,omitempty"`
}

type jsonStateChange struct {
	Entity   string `json:"entity"`
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state"`
	Reason   string `json:"reason,omitempty"`
}

type jsonError struct {
	Layer   string `json:"layer"`
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

func toJSONEvent(e log.Event) jsonEvent {
	je := jsonEvent{
		Timestamp:    e.Timestamp.UTC().Format(timeFormat),
		ConnectionID: e.ConnectionID,
		Direction:    e.Direction.String(),
		Layer:        e.Layer.String(),
		Category:     e.Category.String(),
		RemoteAddr:   e.RemoteAddr,
		LocalAddr:    e.LocalAddr,
	}
	if f := e.Frame; f != nil {
		je.Frame = &jsonFrame{Size: f.Size, Data: string(f.Data), Truncated: f.Truncated, Oversized: f.Oversized}
	}
	if env := e.Envelope; env != nil {
		je.Envelope = &jsonEnvelope{Cmd: env.Cmd, Data: env.Data, Host: env.Host, Type: env.Type}
	}
	if sc := e.StateChange; sc != nil {
		je.StateChange = &jsonStateChange{
			Entity:   sc.Entity.String(),
			OldState: sc.OldState,
			NewState: sc.NewState,
			Reason:   sc.Reason,
		}
	}
	if er := e.Error; er != nil {
		je.Error = &jsonError{Layer: er.Layer.String(), Message: er.Message, Context: er.Context}
	}
	return je
}

// RunExport writes matching events from path in format to output
// (stdout when empty).
func RunExport(path, format, output string, filter log.Filter) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := openReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		return exportCSV(reader, w)
	}
	return exportJSONL(reader, w)
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(toJSONEvent(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

var csvHeader = []string{"timestamp", "connection_id", "direction", "layer", "category", "type", "cmd", "data", "size", "detail"}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var cmd, data, size, detail string
		switch {
		case event.Frame != nil:
			size = strconv.Itoa(event.Frame.Size)
			if event.Frame.Oversized {
				detail = "oversized"
			}
		case event.Envelope != nil:
			cmd, data = event.Envelope.Cmd, event.Envelope.Data
		case event.StateChange != nil:
			detail = event.StateChange.OldState + "->" + event.StateChange.NewState
		case event.Error != nil:
			detail = event.Error.Message
		}

		row := []string{
			event.Timestamp.UTC().Format(timeFormat),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			eventType(event),
			cmd,
			data,
			size,
			detail,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
