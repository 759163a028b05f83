package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress is returned for strings that are not syntactically
// valid Kaspa addresses.
var ErrInvalidAddress = errors.New("invalid kaspa address")

// MinAddressLength is the minimum total length of an address including its
// network prefix. Anything shorter cannot hold a valid payload.
const MinAddressLength = 11

// addressPrefixes are the bech32 network prefixes accepted by the protocol.
var addressPrefixes = []string{"kaspa:", "kaspatest:"}

// ValidateAddress checks that addr carries a known network prefix and is
// long enough to be a real address. It is a syntax check only; it does not
// verify the bech32 checksum.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: address is empty", ErrInvalidAddress)
	}

	if !hasKnownPrefix(addr) {
		return fmt.Errorf("%w: unknown network prefix in %q", ErrInvalidAddress, addr)
	}

	if len(addr) < MinAddressLength {
		return fmt.Errorf("%w: address too short (%d characters)", ErrInvalidAddress, len(addr))
	}

	return nil
}

func hasKnownPrefix(addr string) bool {
	for _, prefix := range addressPrefixes {
		if strings.HasPrefix(addr, prefix) {
			return true
		}
	}
	return false
}
