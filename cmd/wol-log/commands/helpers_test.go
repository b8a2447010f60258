package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lsp-wol/wol-go/pkg/log"
)

var baseTime = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test"+log.FileExt)

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

// sampleEvents is a short session: connect, wake out, heartbeat in, an
// oversized frame and a teardown.
func sampleEvents() []log.Event {
	conn := "abc12345-6789-0123-4567-890abcdef012"
	return []log.Event{
		{
			Timestamp: baseTime, ConnectionID: conn, Layer: log.LayerSession, Category: log.CategoryState,
			RemoteAddr:  "1.2.3.4:8080",
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "CONNECTING", NewState: "CONNECTED"},
		},
		{
			Timestamp: baseTime.Add(time.Second), ConnectionID: conn, Direction: log.DirectionOut,
			Layer: log.LayerWire, Category: log.CategoryMessage,
			Envelope: &log.EnvelopeEvent{Cmd: "wol", Data: "AA:BB:CC:DD:EE:FF", Host: "10.0.0.5", Type: "app"},
		},
		{
			Timestamp: baseTime.Add(2 * time.Second), ConnectionID: conn, Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryControl,
			Envelope: &log.EnvelopeEvent{Cmd: "heartbeat", Data: "1706436934000"},
		},
		{
			Timestamp: baseTime.Add(3 * time.Second), ConnectionID: conn, Direction: log.DirectionIn,
			Layer: log.LayerTransport, Category: log.CategoryError,
			Frame: &log.FrameEvent{Size: 2048, Oversized: true},
		},
		{
			Timestamp: baseTime.Add(4 * time.Second), ConnectionID: conn, Layer: log.LayerSession, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "connection reset", Context: "read"},
		},
		{
			Timestamp: baseTime.Add(5 * time.Second), Layer: log.LayerSession, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntitySupervisor, OldState: "CONNECTED", NewState: "DISCONNECTED"},
		},
	}
}
