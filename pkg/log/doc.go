// Package log captures a machine-readable trace of the relay protocol.
//
// It is separate from operational logging (slog). Operational logs say what
// the client is doing; the protocol trace records every frame, envelope,
// session state change and protocol error so a connection can be replayed
// and analysed after the fact with the wol-log tool.
//
// # Basic Usage
//
//	// Console, for development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary file
//	fl, _ := log.NewFileLogger("/var/log/wol/client.wlog")
//	cfg.ProtocolLogger = fl
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Layers
//
//   - Transport: raw frames as written to / read from the socket
//   - Wire: decoded envelopes
//   - Session: connection and supervisor state changes
//
// # File Format
//
// Files hold a stream of CBOR-encoded events with integer keys and use the
// .wlog extension.
package log
