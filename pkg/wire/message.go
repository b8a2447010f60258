package wire

// Command tags. The set is open: the relay may send tags not listed here.
const (
	// CmdHeartbeat is the liveness message, sent by both sides.
	CmdHeartbeat = "heartbeat"

	// CmdForward asks the relay to forward data to the wake agents.
	CmdForward = "forward"

	// CmdWake asks the relay to wake the MAC address in data.
	CmdWake = "wol"

	// CmdWakeDeviceSize reports how many agents received a wake command.
	CmdWakeDeviceSize = "wol_rec_dev_size"

	// CmdWakeDeviceReceipt is an agent's receipt for a wake command.
	CmdWakeDeviceReceipt = "wol_rec_dev_recp"

	// CmdNetworkAddress carries the client's public address as seen by the relay.
	CmdNetworkAddress = "net_ip"
)

// Client types announced in the envelope "type" field.
const (
	// ClientTypeApp identifies an interactive client to the relay.
	ClientTypeApp = "app"

	// ClientTypeAgent identifies a LAN wake agent (an ESP8266 board).
	ClientTypeAgent = "esp8266"
)

// Envelope is one message on the relay channel.
type Envelope struct {
	Cmd  string `json:"cmd"`
	Data string `json:"data"`
	Host string `json:"host"`
	Type string `json:"type,omitempty"`
}

// IsHeartbeat reports whether e is a liveness message.
func (e Envelope) IsHeartbeat() bool {
	return e.Cmd == CmdHeartbeat
}
