// Package protocol implements the wire envelope of the ciph_msg messaging
// protocol: "ciph_msg:<version>:handshake:<json>". Encoding, decoding and
// validation are pure functions; every failure is a distinct, locally
// recoverable error the ingestion loop can log and drop.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kasia-im/kasiad/internal/models"
)

const (
	// Prefix is the fixed protocol marker, segment 0 of every envelope.
	Prefix = "ciph_msg"
	// Version is the highest protocol version this build speaks.
	Version = 1
	// Delim separates envelope segments.
	Delim = ":"

	kindHandshake = "handshake"
)

var (
	// ErrMalformedPayload is returned for envelopes that do not parse or
	// whose fields fail validation.
	ErrMalformedPayload = errors.New("malformed handshake payload")
	// ErrUnsupportedVersion is returned when the payload declares a newer
	// protocol version than this build speaks.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// IsHandshake reports whether raw looks like a handshake envelope. It is the
// cheap prefix probe the ingestion loop applies before decoding.
func IsHandshake(raw string) bool {
	if !strings.HasPrefix(raw, Prefix+Delim) {
		return false
	}
	parts := strings.SplitN(raw, Delim, 4)
	return len(parts) >= 3 && parts[2] == kindHandshake
}

// EncodeHandshake serializes a payload into its wire envelope.
func EncodeHandshake(payload *models.HandshakePayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal handshake payload: %w", err)
	}
	return fmt.Sprintf("%s%s%d%s%s%s%s", Prefix, Delim, Version, Delim, kindHandshake, Delim, body), nil
}

// DecodeHandshake parses a wire envelope into a payload. The JSON body may
// itself contain colons, so everything past the third delimiter is rejoined
// before parsing.
func DecodeHandshake(raw string) (*models.HandshakePayload, error) {
	parts := strings.Split(raw, Delim)
	if len(parts) < 4 || parts[0] != Prefix || parts[2] != kindHandshake {
		return nil, fmt.Errorf("%w: bad envelope", ErrMalformedPayload)
	}

	body := strings.Join(parts[3:], Delim)
	payload := new(models.HandshakePayload)
	if err := json.Unmarshal([]byte(body), payload); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body", ErrMalformedPayload)
	}

	return payload, nil
}

// Validate checks the decoded payload's shape. aliasLength is the configured
// alias size in bytes; aliases are its hex encoding, twice as many
// characters.
func Validate(payload *models.HandshakePayload, aliasLength int) error {
	if !IsAlias(payload.Alias, aliasLength) {
		return fmt.Errorf("%w: alias %q is not %d hex characters", ErrMalformedPayload, payload.Alias, aliasLength*2)
	}

	if payload.ConversationID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrMalformedPayload)
	}

	if payload.Version > Version {
		return fmt.Errorf("%w: got %d, supported up to %d", ErrUnsupportedVersion, payload.Version, Version)
	}

	return nil
}

// IsAlias reports whether s is a syntactically valid alias for the given
// alias byte length: exactly 2*aliasLength hex characters, case-insensitive.
func IsAlias(s string, aliasLength int) bool {
	if len(s) != aliasLength*2 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
