package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasia-im/kasiad/internal/models"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := &models.HandshakePayload{
		Type:             "handshake",
		Alias:            "a1b2c3d4e5f6",
		Timestamp:        1714000000000,
		ConversationID:   "11111111-2222-3333-4444-555555555555",
		Version:          Version,
		RecipientAddress: "kaspa:qz0k4p7xglplu2zkyn8r0cnqg20m0hzmxz",
		SendToRecipient:  true,
	}

	raw, err := EncodeHandshake(payload)
	require.NoError(t, err)
	assert.True(t, IsHandshake(raw))

	decoded, err := DecodeHandshake(raw)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodeBodyWithColons(t *testing.T) {
	// The JSON body carries colons of its own; everything past the third
	// delimiter belongs to the body.
	raw := `ciph_msg:1:handshake:{"type":"handshake","alias":"a1b2c3d4e5f6","timestamp":1,"conversationId":"c-1","version":1,"recipientAddress":"kaspa:qz0k4p7xglplu2zkyn8r0cnqg20m0hzmxz"}`

	decoded, err := DecodeHandshake(raw)
	require.NoError(t, err)
	assert.Equal(t, "kaspa:qz0k4p7xglplu2zkyn8r0cnqg20m0hzmxz", decoded.RecipientAddress)
	assert.Equal(t, "c-1", decoded.ConversationID)
}

func TestIsHandshake(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"handshake envelope", `ciph_msg:1:handshake:{}`, true},
		{"chat message", `ciph_msg:1:comm:deadbeef`, false},
		{"wrong prefix", `other_msg:1:handshake:{}`, false},
		{"plain text", "hello world", false},
		{"empty", "", false},
		{"prefix only", "ciph_msg", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHandshake(tt.raw))
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing body", "ciph_msg:1:handshake"},
		{"wrong prefix", `nope:1:handshake:{}`},
		{"wrong kind", `ciph_msg:1:payment:{}`},
		{"invalid json", "ciph_msg:1:handshake:not-json"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHandshake(tt.raw)
			assert.True(t, errors.Is(err, ErrMalformedPayload))
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *models.HandshakePayload {
		return &models.HandshakePayload{
			Type:           "handshake",
			Alias:          "a1b2c3d4e5f6",
			Timestamp:      1,
			ConversationID: "c-1",
			Version:        Version,
		}
	}

	t.Run("valid payload", func(t *testing.T) {
		assert.NoError(t, Validate(valid(), 6))
	})

	t.Run("bad alias", func(t *testing.T) {
		p := valid()
		p.Alias = "zzzz"
		assert.True(t, errors.Is(Validate(p, 6), ErrMalformedPayload))
	})

	t.Run("missing conversation id", func(t *testing.T) {
		p := valid()
		p.ConversationID = ""
		assert.True(t, errors.Is(Validate(p, 6), ErrMalformedPayload))
	})

	t.Run("newer version", func(t *testing.T) {
		p := valid()
		p.Version = Version + 1
		assert.True(t, errors.Is(Validate(p, 6), ErrUnsupportedVersion))
	})

	t.Run("older version accepted", func(t *testing.T) {
		p := valid()
		p.Version = 0
		assert.NoError(t, Validate(p, 6))
	})
}

func TestIsAlias(t *testing.T) {
	assert.True(t, IsAlias("a1b2c3d4e5f6", 6))
	assert.True(t, IsAlias("A1B2C3D4E5F6", 6))
	assert.False(t, IsAlias("a1b2c3d4e5f", 6))
	assert.False(t, IsAlias("a1b2c3d4e5f6a7", 6))
	assert.False(t, IsAlias("g1b2c3d4e5f6", 6))
	assert.False(t, IsAlias("", 6))
	assert.True(t, IsAlias("ab12", 2))
}
