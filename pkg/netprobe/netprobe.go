// Package netprobe decides whether the host has usable internet access
// before the supervisor spends a connect attempt.
//
// A network counts as validated when at least one interface is up with a
// routable unicast address and the validation host resolves in time.
package netprobe

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Defaults.
const (
	DefaultValidationHost = "espsock.devtask.cn"
	DefaultTimeout        = 3 * time.Second
)

// Iface is the subset of an interface the probe looks at.
type Iface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// Config configures a Prober.
type Config struct {
	// ValidationHost is resolved to prove DNS works. Empty skips the check.
	ValidationHost string

	// Timeout bounds the DNS lookup (default: 3s).
	Timeout time.Duration

	// Interfaces lists interfaces. Nil uses the system list.
	Interfaces func() ([]Iface, error)

	// LookupHost resolves names. Nil uses net.DefaultResolver.
	LookupHost func(ctx context.Context, host string) ([]string, error)

	// Logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// Prober implements connection.Prober.
type Prober struct {
	config Config
	logger *slog.Logger
}

// New returns a Prober with defaults filled in.
func New(config Config) *Prober {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Interfaces == nil {
		config.Interfaces = SystemInterfaces
	}
	if config.LookupHost == nil {
		config.LookupHost = net.DefaultResolver.LookupHost
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Prober{config: config, logger: config.Logger.With("component", "netprobe")}
}

// HasValidatedInternet reports whether a routable interface is up and the
// validation host resolves.
func (p *Prober) HasValidatedInternet() bool {
	ifaces, err := p.config.Interfaces()
	if err != nil {
		p.logger.Warn("list interfaces", "error", err)
		return false
	}
	if !hasRoutableInterface(ifaces) {
		p.logger.Debug("no routable interface")
		return false
	}
	if p.config.ValidationHost == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()
	addrs, err := p.config.LookupHost(ctx, p.config.ValidationHost)
	if err != nil || len(addrs) == 0 {
		p.logger.Debug("validation lookup failed", "host", p.config.ValidationHost, "error", err)
		return false
	}
	return true
}

func hasRoutableInterface(ifaces []Iface) bool {
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, a := range ifc.Addrs {
			if ip := ipOf(a); ip != nil && ip.IsGlobalUnicast() {
				return true
			}
		}
	}
	return false
}

func ipOf(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}

// SystemInterfaces lists the host's interfaces and their addresses.
func SystemInterfaces() ([]Iface, error) {
	list, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Iface, 0, len(list))
	for _, ifc := range list {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Iface{Name: ifc.Name, Flags: ifc.Flags, Addrs: addrs})
	}
	return out, nil
}
