package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Envelope{Cmd: "x", Data: "y", Host: "z"}

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeAlwaysCarriesAllFields(t *testing.T) {
	data, err := Encode(Envelope{Cmd: CmdHeartbeat})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, map[string]any{"cmd": "heartbeat", "data": "", "host": ""}, fields)
}

func TestEncodeType(t *testing.T) {
	data, err := Encode(Envelope{Cmd: CmdForward, Data: "AA:BB:CC:DD:EE:FF", Host: "10.0.0.2", Type: ClientTypeApp})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"cmd":"forward","data":"AA:BB:CC:DD:EE:FF","host":"10.0.0.2","type":"app"}`,
		string(data))
}

func TestEncodeMissingCommand(t *testing.T) {
	_, err := Encode(Envelope{Data: "y"})
	assert.ErrorIs(t, err, ErrMissingCommand)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "hello"},
		{"truncated", `{"cmd":"heart`},
		{"coalesced", `{"cmd":"a","data":"","host":""}{"cmd":"b","data":"","host":""}`},
		{"array", `[1,2,3]`},
		{"no cmd", `{"data":"1"}`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeServerMessage(t *testing.T) {
	e, err := Decode([]byte(`{"cmd":"wol_rec_dev_size","data":"2"}`))
	require.NoError(t, err)
	assert.Equal(t, CmdWakeDeviceSize, e.Cmd)
	assert.Equal(t, "2", e.Data)
	assert.Empty(t, e.Host)
	assert.False(t, e.IsHeartbeat())
}
