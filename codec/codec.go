// Package codec encodes and decodes relay node datagrams. The primary wire
// format is a 12-byte binary header followed by a JSON payload; three
// legacy text formats are accepted on decode for backward compatibility,
// never emitted.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nohuiam/synapse-relay/types"
)

const headerSize = 12

// DecodedMessage is the normalized result of decoding any accepted wire
// format.
type DecodedMessage struct {
	SignalType uint16
	Payload    map[string]any
	Timestamp  int64 // unix seconds
}

// Encode serializes signalType/sender/payload into the primary binary
// format. sender is injected into the payload object before serialization.
func Encode(signalType uint16, sender string, payload map[string]any) []byte {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["sender"] = sender

	jsonBody, err := json.Marshal(body)
	if err != nil {
		jsonBody = []byte("{}")
	}

	buf := make([]byte, headerSize+len(jsonBody))
	binary.BigEndian.PutUint16(buf[0:2], signalType)
	binary.BigEndian.PutUint16(buf[2:4], types.ProtocolVersion)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(jsonBody)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(time.Now().Unix()))
	copy(buf[headerSize:], jsonBody)
	return buf
}

// Decode tries the primary binary format first, then the three legacy text
// formats in order, returning the first that parses. Returns nil on total
// failure; decode never panics or returns an error to the caller — a
// malformed datagram is simply dropped by the tumbler.
func Decode(datagram []byte) *DecodedMessage {
	if msg := decodeBinary(datagram); msg != nil {
		return msg
	}
	if msg := decodeLegacyTSD(datagram); msg != nil {
		return msg
	}
	if msg := decodeLegacyTypeSource(datagram); msg != nil {
		return msg
	}
	if msg := decodeLegacyColon(datagram); msg != nil {
		return msg
	}
	return nil
}

func decodeBinary(datagram []byte) *DecodedMessage {
	if len(datagram) < headerSize {
		return nil
	}

	signalType := binary.BigEndian.Uint16(datagram[0:2])
	if signalType == 0 || signalType > 255 {
		return nil
	}

	payloadLength := binary.BigEndian.Uint32(datagram[4:8])
	timestamp := binary.BigEndian.Uint32(datagram[8:12])

	maxPayload := uint32(len(datagram) - headerSize)
	if payloadLength > maxPayload {
		return nil
	}

	body := datagram[headerSize : headerSize+payloadLength]
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}

	return &DecodedMessage{
		SignalType: signalType,
		Payload:    payload,
		Timestamp:  int64(timestamp),
	}
}

// legacyTypeTable maps symbolic legacy signal names to numeric codes.
// Unknown names map to 0x00, which the tumbler always rejects.
var legacyTypeTable = map[string]uint16{
	"PING":           types.SignalPing,
	"PONG":           types.SignalPong,
	"HEARTBEAT":      types.SignalHeartbeat,
	"RELAY_REQUEST":  types.SignalRelayRequest,
	"RELAY_RESPONSE": types.SignalRelayResponse,
	"RELAY_FAILED":   types.SignalRelayFailed,
	"DOCK_REQUEST":   types.SignalDockRequest,
	"DOCK_APPROVED":  types.SignalDockApproved,
	"DOCK_REJECTED":  types.SignalDockRejected,
	"UNDOCK":         types.SignalUndock,
}

func resolveLegacyType(raw any) uint16 {
	switch v := raw.(type) {
	case float64:
		return uint16(v)
	case string:
		if n, err := strconv.ParseUint(v, 0, 16); err == nil {
			return uint16(n)
		}
		if code, ok := legacyTypeTable[strings.ToUpper(v)]; ok {
			return code
		}
	}
	return 0
}

// decodeLegacyTSD decodes {t, s, d, ts} shaped legacy messages.
func decodeLegacyTSD(datagram []byte) *DecodedMessage {
	var raw map[string]any
	if err := json.Unmarshal(datagram, &raw); err != nil {
		return nil
	}
	tRaw, hasT := raw["t"]
	dRaw, hasD := raw["d"]
	if !hasT || !hasD {
		return nil
	}

	signalType := resolveLegacyType(tRaw)
	payload := map[string]any{}
	if d, ok := dRaw.(map[string]any); ok {
		for k, v := range d {
			payload[k] = v
		}
	}
	if s, ok := raw["s"]; ok {
		payload["sender"] = s
	}

	var timestamp int64
	if ts, ok := raw["ts"].(float64); ok {
		timestamp = int64(ts) / 1000
	}

	return &DecodedMessage{SignalType: signalType, Payload: payload, Timestamp: timestamp}
}

// decodeLegacyTypeSource decodes {type, source, payload, timestamp} shaped
// legacy messages.
func decodeLegacyTypeSource(datagram []byte) *DecodedMessage {
	var raw map[string]any
	if err := json.Unmarshal(datagram, &raw); err != nil {
		return nil
	}
	typeRaw, hasType := raw["type"]
	payloadRaw, hasPayload := raw["payload"]
	if !hasType || !hasPayload {
		return nil
	}

	signalType := resolveLegacyType(typeRaw)
	payload := map[string]any{}
	if p, ok := payloadRaw.(map[string]any); ok {
		for k, v := range p {
			payload[k] = v
		}
	}
	if source, ok := raw["source"]; ok {
		payload["sender"] = source
	}

	var timestamp int64
	if ts, ok := raw["timestamp"].(float64); ok {
		timestamp = int64(ts) / 1000
	}

	return &DecodedMessage{SignalType: signalType, Payload: payload, Timestamp: timestamp}
}

// decodeLegacyColon decodes TYPE:SENDER:PAYLOAD_JSON:TIMESTAMP_MS.
func decodeLegacyColon(datagram []byte) *DecodedMessage {
	// The payload JSON may itself contain ':', so only the first two
	// separators and the last one delimit fields.
	parts := strings.SplitN(string(datagram), ":", 3)
	if len(parts) != 3 {
		return nil
	}
	idx := strings.LastIndex(parts[2], ":")
	if idx < 0 {
		return nil
	}
	payloadJSON, timestampStr := parts[2][:idx], parts[2][idx+1:]

	signalType := resolveLegacyType(parts[0])
	if signalType == 0 {
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["sender"] = parts[1]

	timestampMs, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return nil
	}

	return &DecodedMessage{SignalType: signalType, Payload: payload, Timestamp: timestampMs / 1000}
}
