package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nohuiam/synapse-relay/types"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payload := map[string]any{"x": float64(1)}
	datagram := Encode(types.SignalRelayRequest, "relay-east", payload)

	decoded := Decode(datagram)
	require.NotNil(t, decoded)
	assert.Equal(t, types.SignalRelayRequest, decoded.SignalType)
	assert.Equal(t, "relay-east", decoded.Payload["sender"])
	assert.Equal(t, float64(1), decoded.Payload["x"])
}

func TestDecode_RejectsOutOfRangeSignalType(t *testing.T) {
	datagram := Encode(0x50, "s", map[string]any{})
	datagram[0] = 0
	datagram[1] = 0

	assert.Nil(t, decodeBinary(datagram))
}

func TestDecode_RejectsOversizePayloadLength(t *testing.T) {
	datagram := Encode(0x50, "s", map[string]any{})
	// corrupt payload_length field to claim more bytes than present
	datagram[4] = 0xFF
	datagram[5] = 0xFF
	datagram[6] = 0xFF
	datagram[7] = 0xFF

	assert.Nil(t, Decode(datagram))
}

func TestDecode_LegacyTSD(t *testing.T) {
	raw := []byte(`{"t":"HEARTBEAT","s":"relay-west","d":{"load":0.5},"ts":1000000}`)

	decoded := Decode(raw)
	require.NotNil(t, decoded)
	assert.Equal(t, types.SignalHeartbeat, decoded.SignalType)
	assert.Equal(t, "relay-west", decoded.Payload["sender"])
	assert.Equal(t, float64(0.5), decoded.Payload["load"])
	assert.Equal(t, int64(1000), decoded.Timestamp)
}

func TestDecode_LegacyTypeSource(t *testing.T) {
	raw := []byte(`{"type":"PING","source":"relay-west","payload":{"seq":1},"timestamp":2000000}`)

	decoded := Decode(raw)
	require.NotNil(t, decoded)
	assert.Equal(t, types.SignalPing, decoded.SignalType)
	assert.Equal(t, "relay-west", decoded.Payload["sender"])
	assert.Equal(t, int64(2000), decoded.Timestamp)
}

func TestDecode_LegacyColon(t *testing.T) {
	raw := []byte(`PING:relay-west:{"seq":1}:3000000`)

	decoded := Decode(raw)
	require.NotNil(t, decoded)
	assert.Equal(t, types.SignalPing, decoded.SignalType)
	assert.Equal(t, "relay-west", decoded.Payload["sender"])
	assert.Equal(t, float64(1), decoded.Payload["seq"])
	assert.Equal(t, int64(3000), decoded.Timestamp)
}

func TestDecode_UnrecognizedFormatReturnsNil(t *testing.T) {
	assert.Nil(t, Decode([]byte("not a valid datagram at all")))
}

func TestDecode_UnknownLegacyNameMapsToZero(t *testing.T) {
	raw := []byte(`UNKNOWN_TYPE:relay-west:{}:1000`)
	assert.Nil(t, Decode(raw)) // zero signal type is rejected by decodeLegacyColon
}
