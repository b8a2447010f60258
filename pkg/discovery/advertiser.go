package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// ErrAlreadyAdvertising is returned by Advertise while a registration is live.
var ErrAlreadyAdvertising = errors.New("already advertising")

// AdvertiserConfig configures relay advertisement.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty string means all interfaces.
	Interface string

	// TTL for the DNS records. Zero uses the zeroconf default.
	TTL time.Duration

	// Logger for operational logging (default: slog.Default()).
	Logger *slog.Logger
}

// RelayInfo describes the relay being advertised.
type RelayInfo struct {
	InstanceName string
	Port         uint16
	Version      string
	Priority     int
}

// TXT returns the TXT records for info.
func (info RelayInfo) TXT() []string {
	txt := []string{TXTKeyPriority + "=" + strconv.Itoa(info.Priority)}
	if info.Version != "" {
		txt = append(txt, TXTKeyVersion+"="+info.Version)
	}
	return txt
}

type registration interface {
	Shutdown()
}

type registerFunc func(instance string, port int, txt []string, ifaces []net.Interface) (registration, error)

// Advertiser publishes a relay over mDNS.
type Advertiser struct {
	config   AdvertiserConfig
	logger   *slog.Logger
	register registerFunc

	mu     sync.Mutex
	server registration
	info   RelayInfo
}

// NewAdvertiser creates an mDNS advertiser backed by zeroconf.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Advertiser{config: config, logger: logger.With("component", "advertiser")}
	a.register = func(instance string, port int, txt []string, ifaces []net.Interface) (registration, error) {
		var opts []zeroconf.ServerOption
		if a.config.TTL > 0 {
			opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
		}
		return zeroconf.Register(instance, ServiceType, Domain, port, txt, ifaces, opts...)
	}
	return a
}

// Advertise registers info. Call Stop before advertising again.
func (a *Advertiser) Advertise(info RelayInfo) error {
	if info.InstanceName == "" {
		return fmt.Errorf("advertise: empty instance name")
	}
	if info.Port == 0 {
		return fmt.Errorf("advertise %s: %w", info.InstanceName, ErrNoAddress)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return ErrAlreadyAdvertising
	}

	server, err := a.register(info.InstanceName, int(info.Port), info.TXT(), a.interfaces())
	if err != nil {
		return fmt.Errorf("register %s: %w", info.InstanceName, err)
	}
	a.server = server
	a.info = info
	a.logger.Info("advertising relay", "instance", info.InstanceName, "port", info.Port, "priority", info.Priority)
	return nil
}

// Advertising reports whether a registration is live.
func (a *Advertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Stop withdraws the registration. It is safe to call when not advertising.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("stopped advertising", "instance", a.info.InstanceName)
}

// interfaces returns nil to mean all interfaces.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("unknown interface, advertising on all", "interface", a.config.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}
