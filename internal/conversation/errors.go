package conversation

import "errors"

var (
	// ErrAlreadyActive is returned when initiating a handshake to an address
	// that already has an active conversation.
	ErrAlreadyActive = errors.New("active conversation already exists with this address")

	// ErrAliasSpaceExhausted is returned when a unique alias could not be
	// minted within the configured attempt bound.
	ErrAliasSpaceExhausted = errors.New("failed to generate unique alias")

	// ErrConversationNotFound is returned when the referenced conversation
	// does not exist for this tenant.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidState is returned when an operation is requested on a
	// conversation whose state does not allow it, such as responding before
	// the peer alias is known.
	ErrInvalidState = errors.New("invalid conversation state for this operation")
)
