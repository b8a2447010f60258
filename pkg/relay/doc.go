// Package relay implements a development relay server.
//
// The relay accepts two kinds of clients on one TCP port: apps, which ask
// for devices to be woken, and LAN agents, which emit the magic packets. A
// client announces its kind in the envelope "type" field of every message.
//
//	app                    relay                   agent
//	 │── wol AA:BB:.. ──────►│                        │
//	 │                       │── wol AA:BB:.. ───────►│
//	 │◄─ wol_rec_dev_size 1 ─│                        │
//	 │                       │◄─ wol_rec_dev_recp ────│
//	 │◄─ wol_rec_dev_recp ───│                        │
//
// On connect the relay tells the client its public address (net_ip), and it
// answers every heartbeat with one carrying the current Unix time in
// milliseconds. A client that sends an undecodable message or an unknown
// type is disconnected.
package relay
