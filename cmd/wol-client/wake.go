package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lsp-wol/wol-go/pkg/device"
	"github.com/lsp-wol/wol-go/pkg/notify"
	"github.com/lsp-wol/wol-go/pkg/session"
)

// relaySender is the session side of a wake.
type relaySender interface {
	SendTCPMessage(cmd, data string) error
}

// localWaker is the broadcast side of a wake.
type localWaker interface {
	Wake(macAddr string) error
}

// intentHandler reacts to shell intents. Wakes go to the relay first and
// fall back to a local broadcast when the relay cannot take them.
type intentHandler struct {
	relay     relaySender
	broadcast localWaker
	command   string
	sink      notify.Sink
	logger    *slog.Logger
}

func (h *intentHandler) OnChanged(d device.Device) {
	h.logger.Info("device list changed", "device", d.String())
}

func (h *intentHandler) OnWakeRequested(d device.Device) {
	err := h.relay.SendTCPMessage(h.command, d.MACAddress)
	if err == nil {
		h.logger.Info("wake sent via relay", "device", d.Name, "mac", d.MACAddress)
		h.sink.Notify(fmt.Sprintf("wake sent via relay: %s", d))
		return
	}

	if !errors.Is(err, session.ErrNotConnected) && !errors.Is(err, session.ErrQueueFull) {
		h.logger.Warn("relay wake failed", "device", d.Name, "error", err)
		h.sink.Notify(fmt.Sprintf("wake failed: %v", err))
		return
	}

	h.logger.Info("relay unavailable, broadcasting", "device", d.Name, "reason", err)
	if berr := h.broadcast.Wake(d.MACAddress); berr != nil {
		h.logger.Warn("broadcast wake failed", "device", d.Name, "error", berr)
		h.sink.Notify(fmt.Sprintf("wake failed: %v", berr))
		return
	}
	h.sink.Notify(fmt.Sprintf("relay unavailable, magic packet broadcast for %s", d))
}

var _ device.Handler = (*intentHandler)(nil)
