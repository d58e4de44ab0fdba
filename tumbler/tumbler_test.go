package tumbler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nohuiam/synapse-relay/codec"
)

func TestAdmit_WhitelistEmptyAcceptsAny(t *testing.T) {
	tm := New(Config{}, nil)
	msg := &codec.DecodedMessage{SignalType: 0x77, Timestamp: time.Now().Unix()}
	assert.True(t, tm.Admit(msg))
}

func TestAdmit_WhitelistRejectsUnlisted(t *testing.T) {
	tm := New(Config{IncomingSignalTypes: map[uint16]struct{}{0x50: {}}}, nil)
	msg := &codec.DecodedMessage{SignalType: 0x51, Timestamp: time.Now().Unix()}
	assert.False(t, tm.Admit(msg))
}

func TestAdmit_WhitelistAcceptsListed(t *testing.T) {
	tm := New(Config{IncomingSignalTypes: map[uint16]struct{}{0x50: {}}}, nil)
	msg := &codec.DecodedMessage{SignalType: 0x50, Timestamp: time.Now().Unix()}
	assert.True(t, tm.Admit(msg))
}

func TestAdmit_RejectsStaleMessage(t *testing.T) {
	tm := New(Config{}, nil)
	msg := &codec.DecodedMessage{SignalType: 0x50, Timestamp: time.Now().Add(-10 * time.Minute).Unix()}
	assert.False(t, tm.Admit(msg))
}

func TestAdmit_RejectsFarFutureMessage(t *testing.T) {
	tm := New(Config{}, nil)
	msg := &codec.DecodedMessage{SignalType: 0x50, Timestamp: time.Now().Add(5 * time.Minute).Unix()}
	assert.False(t, tm.Admit(msg))
}

func TestAdmit_UnknownSenderStillAccepted(t *testing.T) {
	tm := New(Config{Peers: map[string]struct{}{"relay-east": {}}}, nil)
	msg := &codec.DecodedMessage{SignalType: 0x50, Timestamp: time.Now().Unix()}
	assert.True(t, tm.Admit(msg), "peer whitelist is advisory and must never reject admission")
	assert.False(t, tm.KnownPeer("relay-unknown"))
}

func TestAdmit_RateLimitDropsExcess(t *testing.T) {
	tm := New(Config{RateLimit: 1, RateBurst: 1}, nil)
	msg := &codec.DecodedMessage{SignalType: 0x50, Timestamp: time.Now().Unix()}

	assert.True(t, tm.Admit(msg))
	assert.False(t, tm.Admit(msg), "second message within the same instant should be throttled")
}
