// Package interactive provides the readline shell of wol-client.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/lsp-wol/wol-go/pkg/connection"
	"github.com/lsp-wol/wol-go/pkg/device"
	"github.com/lsp-wol/wol-go/pkg/mac"
	"github.com/lsp-wol/wol-go/pkg/session"
)

// Relay is the part of the session the shell drives.
type Relay interface {
	SendTCPMessage(cmd, data string) error
	Stats() session.Stats
}

// Supervisor is the part of the connection supervisor the shell drives.
type Supervisor interface {
	State() connection.State
	Cycles() uint64
	Reconnect()
}

// Broadcaster sends a magic packet on the local network.
type Broadcaster interface {
	Wake(macAddr string) error
}

// Deps wires the shell to the running client.
type Deps struct {
	Registry   device.Registry
	Relay      Relay
	Supervisor Supervisor
	Broadcast  Broadcaster

	// Intents receives device list changes and wake requests.
	Intents chan<- device.Intent
}

// NewReadline creates the terminal line editor. Its Stdout and Stderr
// writers keep log output from corrupting the prompt.
func NewReadline() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "wol> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("list"),
			readline.PcItem("add"),
			readline.PcItem("edit"),
			readline.PcItem("delete"),
			readline.PcItem("wake"),
			readline.PcItem("broadcast"),
			readline.PcItem("send"),
			readline.PcItem("status"),
			readline.PcItem("reconnect"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// Shell handles interactive mode for wol-client.
type Shell struct {
	deps Deps
	rl   *readline.Instance
	out  io.Writer
}

// New creates a shell reading from rl.
func New(deps Deps, rl *readline.Instance) *Shell {
	return &Shell{deps: deps, rl: rl, out: rl.Stdout()}
}

// Stdout returns the writer shell output goes to.
func (s *Shell) Stdout() io.Writer { return s.out }

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if s.Execute(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "list", "ls":
		s.cmdList()
	case "add":
		s.cmdAdd(ctx, args)
	case "edit":
		s.cmdEdit(ctx, args)
	case "delete", "del", "rm":
		s.cmdDelete(ctx, args)
	case "wake", "w":
		s.cmdWake(ctx, args)
	case "broadcast", "bc":
		s.cmdBroadcast(args)
	case "send":
		s.cmdSend(args)
	case "status":
		s.cmdStatus()
	case "reconnect":
		s.cmdReconnect()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Wake-on-LAN Client Commands:
  Devices:
    list                          - List saved devices
    add <name> <mac>              - Save a device (name may contain spaces)
    edit <name|mac> <name> <mac>  - Replace a saved device
    delete <name|mac>             - Remove a saved device

  Wake:
    wake <name|mac>               - Wake via relay, broadcast if offline
    broadcast <name|mac>          - Send the magic packet locally only

  Relay:
    send <cmd> [data]             - Send a raw relay command
    status                        - Show connection status
    reconnect                     - Drop the link and reconnect now

  General:
    help                          - Show this help
    quit                          - Exit`)
}

func (s *Shell) cmdList() {
	devs, err := s.deps.Registry.List()
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if len(devs) == 0 {
		fmt.Fprintln(s.out, "No devices saved")
		return
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tMAC")
	for i, d := range devs {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, d.Name, d.MACAddress)
	}
	tw.Flush()
}

// splitNameMAC treats the last argument as the MAC and the rest as the name.
func splitNameMAC(args []string) (string, string, bool) {
	if len(args) < 2 {
		return "", "", false
	}
	return strings.Join(args[:len(args)-1], " "), args[len(args)-1], true
}

func (s *Shell) cmdAdd(ctx context.Context, args []string) {
	name, rawMAC, ok := splitNameMAC(args)
	if !ok {
		fmt.Fprintln(s.out, "Usage: add <name> <mac>")
		return
	}
	d, err := device.New(name, rawMAC)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid device: %v\n", err)
		return
	}
	if err := s.deps.Registry.Add(d); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Added %s\n", d)
	s.emit(ctx, device.Changed(d))
}

func (s *Shell) cmdEdit(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(s.out, "Usage: edit <name|mac> <name> <mac>")
		return
	}
	old, ok := s.lookup(args[0])
	if !ok {
		return
	}
	name, rawMAC, _ := splitNameMAC(args[1:])
	updated, err := device.New(name, rawMAC)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid device: %v\n", err)
		return
	}
	if old.Equal(updated) {
		fmt.Fprintln(s.out, "No changes")
		return
	}
	if err := device.Replace(s.deps.Registry, old, updated); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Updated %s -> %s\n", old, updated)
	s.emit(ctx, device.Changed(updated))
}

func (s *Shell) cmdDelete(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: delete <name|mac>")
		return
	}
	d, ok := s.lookup(strings.Join(args, " "))
	if !ok {
		return
	}
	if err := s.deps.Registry.Delete(d); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Deleted %s\n", d)
	s.emit(ctx, device.Changed(d))
}

func (s *Shell) cmdWake(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: wake <name|mac>")
		return
	}
	d, ok := s.target(strings.Join(args, " "))
	if !ok {
		return
	}
	fmt.Fprintf(s.out, "Waking %s...\n", d)
	s.emit(ctx, device.WakeRequested(d))
}

func (s *Shell) cmdBroadcast(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: broadcast <name|mac>")
		return
	}
	d, ok := s.target(strings.Join(args, " "))
	if !ok {
		return
	}
	if err := s.deps.Broadcast.Wake(d.MACAddress); err != nil {
		fmt.Fprintf(s.out, "Broadcast failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Magic packet queued for %s\n", d.MACAddress)
}

func (s *Shell) cmdSend(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: send <cmd> [data]")
		return
	}
	data := strings.Join(args[1:], " ")
	err := s.deps.Relay.SendTCPMessage(args[0], data)
	switch {
	case err == nil:
		fmt.Fprintf(s.out, "Queued %s\n", args[0])
	case errors.Is(err, session.ErrNotConnected):
		fmt.Fprintln(s.out, "Not connected to relay")
	case errors.Is(err, session.ErrQueueFull):
		fmt.Fprintln(s.out, "Relay queue full, try again")
	default:
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
}

func (s *Shell) cmdStatus() {
	st := s.deps.Relay.Stats()

	fmt.Fprintln(s.out, "\nRelay Status:")
	fmt.Fprintf(s.out, "  Supervisor:  %s (cycle %d)\n", s.deps.Supervisor.State(), s.deps.Supervisor.Cycles())
	if st.Connected {
		fmt.Fprintf(s.out, "  Connected:   %s (local %s)\n", st.Remote, st.Host)
		fmt.Fprintf(s.out, "  Connection:  %s\n", st.ConnectionID)
	} else {
		fmt.Fprintln(s.out, "  Connected:   no")
	}
	fmt.Fprintf(s.out, "  Connects:    %d\n", st.Connects)
	fmt.Fprintf(s.out, "  Sent:        %d (queued %d)\n", st.Sent, st.QueueLen)
	fmt.Fprintf(s.out, "  Received:    %d\n", st.Received)
	fmt.Fprintf(s.out, "  Heartbeats:  %d\n", st.Heartbeats)
	fmt.Fprintf(s.out, "  Dropped:     %d  Malformed: %d\n", st.Dropped, st.Malformed)
	if !st.LastHeartbeat.IsZero() {
		fmt.Fprintf(s.out, "  Last beat:   %s ago\n", time.Since(st.LastHeartbeat).Truncate(time.Second))
	}
}

func (s *Shell) cmdReconnect() {
	s.deps.Supervisor.Reconnect()
	fmt.Fprintln(s.out, "Reconnecting...")
}

// lookup finds a saved device by name or MAC.
func (s *Shell) lookup(query string) (device.Device, bool) {
	devs, err := s.deps.Registry.List()
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return device.Device{}, false
	}
	d, ok := device.Find(devs, query)
	if !ok {
		fmt.Fprintf(s.out, "No device matches %q\n", query)
	}
	return d, ok
}

// target resolves a saved device, or an unsaved MAC address.
func (s *Shell) target(query string) (device.Device, bool) {
	devs, err := s.deps.Registry.List()
	if err == nil {
		if d, ok := device.Find(devs, query); ok {
			return d, true
		}
	}
	norm, err := mac.Normalize(query)
	if err != nil {
		fmt.Fprintf(s.out, "No device matches %q\n", query)
		return device.Device{}, false
	}
	return device.Device{Name: norm, MACAddress: norm}, true
}

func (s *Shell) emit(ctx context.Context, in device.Intent) {
	if s.deps.Intents == nil {
		return
	}
	select {
	case s.deps.Intents <- in:
	case <-ctx.Done():
	}
}
