package models

// TxEnvelope is one observed transaction carrying an opaque payload,
// delivered by the node listener.
type TxEnvelope struct {
	// TransactionID is the on-chain transaction id.
	TransactionID string `json:"transaction_id"`
	// SenderAddress is the resolved author address, or UnknownSender when it
	// could not be determined at observation time.
	SenderAddress string `json:"sender_address"`
	// Payload is the decoded transaction payload.
	Payload string `json:"payload"`
	// Amount is the sompi value of the transaction output to the tenant.
	Amount uint64 `json:"amount"`
	// Fee is the transaction fee, when the node reports it.
	Fee uint64 `json:"fee"`
	// Timestamp is the Unix millisecond block time.
	Timestamp int64 `json:"timestamp"`
}

// PayloadSource represents the transport that delivers observed payloads.
// It offers no ordering and no delivery-once guarantee.
type PayloadSource interface {
	// Subscribe starts delivery and returns the envelope channel. The
	// channel is closed when the underlying connection is lost; callers
	// resubscribe.
	Subscribe() (<-chan *TxEnvelope, error)
	Close() error
}

// APIServer is the HTTP control surface of the daemon.
type APIServer interface {
	Start()
	Shutdown() error
}
