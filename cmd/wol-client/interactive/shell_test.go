package interactive

import (
	"bytes"
	"context"
	"testing"

	"github.com/lsp-wol/wol-go/pkg/connection"
	"github.com/lsp-wol/wol-go/pkg/device"
	"github.com/lsp-wol/wol-go/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRegistry struct{ devs []device.Device }

func (m *memRegistry) List() ([]device.Device, error) { return m.devs, nil }
func (m *memRegistry) Add(d device.Device) error {
	for _, x := range m.devs {
		if x.Equal(d) {
			return device.ErrDuplicate
		}
	}
	m.devs = append(m.devs, d)
	return nil
}
func (m *memRegistry) Delete(d device.Device) error {
	for i, x := range m.devs {
		if x.Equal(d) {
			m.devs = append(m.devs[:i], m.devs[i+1:]...)
			return nil
		}
	}
	return device.ErrNotFound
}

type fakeRelay struct {
	sent  [][2]string
	err   error
	stats session.Stats
}

func (f *fakeRelay) SendTCPMessage(cmd, data string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, [2]string{cmd, data})
	return nil
}
func (f *fakeRelay) Stats() session.Stats { return f.stats }

type fakeSupervisor struct{ reconnects int }

func (f *fakeSupervisor) State() connection.State { return connection.StateConnected }
func (f *fakeSupervisor) Cycles() uint64          { return 3 }
func (f *fakeSupervisor) Reconnect()              { f.reconnects++ }

type fakeBroadcaster struct {
	woken []string
	err   error
}

func (f *fakeBroadcaster) Wake(m string) error {
	f.woken = append(f.woken, m)
	return f.err
}

type harness struct {
	shell   *Shell
	out     *bytes.Buffer
	reg     *memRegistry
	relay   *fakeRelay
	sup     *fakeSupervisor
	bc      *fakeBroadcaster
	intents chan device.Intent
}

func newHarness() *harness {
	h := &harness{
		out:     &bytes.Buffer{},
		reg:     &memRegistry{},
		relay:   &fakeRelay{},
		sup:     &fakeSupervisor{},
		bc:      &fakeBroadcaster{},
		intents: make(chan device.Intent, 8),
	}
	h.shell = &Shell{
		deps: Deps{
			Registry:   h.reg,
			Relay:      h.relay,
			Supervisor: h.sup,
			Broadcast:  h.bc,
			Intents:    h.intents,
		},
		out: h.out,
	}
	return h
}

func (h *harness) run(line string) string {
	h.out.Reset()
	h.shell.Execute(context.Background(), line)
	return h.out.String()
}

func TestAddListDelete(t *testing.T) {
	h := newHarness()

	out := h.run("add Living Room PC aa-bb-cc-dd-ee-ff")
	assert.Contains(t, out, "Added")
	require.Len(t, h.reg.devs, 1)
	assert.Equal(t, "Living Room PC", h.reg.devs[0].Name)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", h.reg.devs[0].MACAddress)

	in := <-h.intents
	assert.Equal(t, device.IntentChanged, in.Kind)

	out = h.run("list")
	assert.Contains(t, out, "Living Room PC")
	assert.Contains(t, out, "AA:BB:CC:DD:EE:FF")

	h.run("delete living room pc")
	assert.Empty(t, h.reg.devs)
	assert.Equal(t, device.IntentChanged, (<-h.intents).Kind)

	assert.Contains(t, h.run("list"), "No devices saved")
}

func TestAddRejectsInvalid(t *testing.T) {
	h := newHarness()

	assert.Contains(t, h.run("add Desk nope"), "Invalid device")
	assert.Contains(t, h.run("add Desk"), "Usage")
	assert.Empty(t, h.reg.devs)
	assert.Empty(t, h.intents)
}

func TestEdit(t *testing.T) {
	h := newHarness()
	h.reg.devs = []device.Device{{Name: "Desk", MACAddress: "AA:BB:CC:DD:EE:FF"}}

	assert.Contains(t, h.run("edit Desk Desk AA:BB:CC:DD:EE:FF"), "No changes")
	assert.Empty(t, h.intents)

	out := h.run("edit AA:BB:CC:DD:EE:FF Office 11:22:33:44:55:66")
	assert.Contains(t, out, "Updated")
	require.Len(t, h.reg.devs, 1)
	assert.Equal(t, device.Device{Name: "Office", MACAddress: "11:22:33:44:55:66"}, h.reg.devs[0])
	assert.Equal(t, "Office", (<-h.intents).Device.Name)

	assert.Contains(t, h.run("edit Missing X 11:22:33:44:55:66"), "No device matches")
}

func TestWakeEmitsIntent(t *testing.T) {
	h := newHarness()
	h.reg.devs = []device.Device{{Name: "NAS", MACAddress: "10:20:30:40:50:60"}}

	h.run("wake nas")
	in := <-h.intents
	assert.Equal(t, device.IntentWakeRequested, in.Kind)
	assert.Equal(t, "NAS", in.Device.Name)

	// unsaved MAC addresses are accepted
	h.run("wake 00:11:22:33:44:55")
	assert.Equal(t, "00:11:22:33:44:55", (<-h.intents).Device.MACAddress)

	assert.Contains(t, h.run("wake printer"), "No device matches")
}

func TestBroadcast(t *testing.T) {
	h := newHarness()
	h.reg.devs = []device.Device{{Name: "NAS", MACAddress: "10:20:30:40:50:60"}}

	assert.Contains(t, h.run("broadcast NAS"), "queued")
	assert.Equal(t, []string{"10:20:30:40:50:60"}, h.bc.woken)
	assert.Empty(t, h.relay.sent)
}

func TestSend(t *testing.T) {
	h := newHarness()

	assert.Contains(t, h.run("send net_ip 192.168.1.0 24"), "Queued")
	assert.Equal(t, [][2]string{{"net_ip", "192.168.1.0 24"}}, h.relay.sent)

	h.relay.err = session.ErrNotConnected
	assert.Contains(t, h.run("send forward x"), "Not connected")

	h.relay.err = session.ErrQueueFull
	assert.Contains(t, h.run("send forward x"), "queue full")
}

func TestStatusAndReconnect(t *testing.T) {
	h := newHarness()
	h.relay.stats = session.Stats{Connected: true, Remote: "1.2.3.4:8080", Host: "10.0.0.5", Sent: 7}

	out := h.run("status")
	assert.Contains(t, out, "1.2.3.4:8080")
	assert.Contains(t, out, "Sent:        7")

	t.Run("reconnect goes through the supervisor", func(t *testing.T) {
		assert.Contains(t, h.run("reconnect"), "Reconnecting...")
		assert.Equal(t, 1, h.sup.reconnects)
	})
}

func TestQuitAndUnknown(t *testing.T) {
	h := newHarness()
	assert.True(t, h.shell.Execute(context.Background(), "quit"))
	assert.False(t, h.shell.Execute(context.Background(), "   "))
	assert.Contains(t, h.run("frobnicate"), "Unknown command")
}
