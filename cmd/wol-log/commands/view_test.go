package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lsp-wol/wol-go/pkg/log"
)

func TestFormatEnvelopeEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[1])
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:33.123456Z",
		"[conn:abc12345]",
		"OUT",
		"WIRE",
		"wol",
		`Data: "AA:BB:CC:DD:EE:FF"`,
		"Host: 10.0.0.5",
		"Type: app",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestFormatFrameEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, log.Event{
		Timestamp: baseTime,
		Direction: log.DirectionIn,
		Layer:     log.LayerTransport,
		Frame:     log.NewFrameEvent(20, []byte(`{"cmd":"heartbeat"}`)),
	})
	output := buf.String()

	if !strings.Contains(output, "Size: 20 bytes") {
		t.Errorf("expected frame size, got: %s", output)
	}
	if !strings.Contains(output, `heartbeat`) {
		t.Errorf("expected frame data, got: %s", output)
	}
	if !strings.Contains(output, "[conn:-]") {
		t.Errorf("expected placeholder connection ID, got: %s", output)
	}
}

func TestFormatOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[3])
	if !strings.Contains(buf.String(), "oversized, dropped") {
		t.Errorf("expected oversized marker, got: %s", buf.String())
	}
}

func TestFormatStateAndError(t *testing.T) {
	var buf bytes.Buffer
	events := sampleEvents()
	formatEvent(&buf, events[0])
	formatEvent(&buf, events[4])
	output := buf.String()

	for _, want := range []string{"CONNECTION", "CONNECTING -> CONNECTED", "Remote: 1.2.3.4:8080", "connection reset", "Context: read"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestRunViewWithFilter(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	filter, err := BuildFilter(SelectOptions{Direction: "in", Layer: "wire"})
	if err != nil {
		t.Fatalf("BuildFilter: %v", err)
	}

	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "heartbeat") {
		t.Errorf("expected heartbeat event, got: %s", output)
	}
	if strings.Contains(output, "AA:BB:CC:DD:EE:FF") {
		t.Errorf("outbound wake should be filtered out, got: %s", output)
	}
}

func TestRunViewMissingFile(t *testing.T) {
	if err := RunView("/nonexistent/x.wlog", log.Filter{}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name    string
		opts    SelectOptions
		wantErr bool
	}{
		{"empty", SelectOptions{}, false},
		{"all fields", SelectOptions{ConnID: "abc", Cmd: "wol", Layer: "SESSION", Direction: "OUT", Category: "state",
			TimeStart: "2026-01-28T10:00:00Z", TimeEnd: "2026-01-28T11:00:00Z"}, false},
		{"bad layer", SelectOptions{Layer: "service"}, true},
		{"bad direction", SelectOptions{Direction: "sideways"}, true},
		{"bad category", SelectOptions{Category: "snapshot"}, true},
		{"bad time", SelectOptions{TimeStart: "yesterday"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildFilter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("BuildFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
