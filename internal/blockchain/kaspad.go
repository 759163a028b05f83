// Package blockchain connects to a kaspad node over its websocket RPC
// endpoint and turns accepted transactions addressed to the tenant wallet
// into payload envelopes for the ingestion loop.
package blockchain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kasia-im/kasiad/internal/models"
	"github.com/kasia-im/kasiad/pkg/logger"
)

const (
	// EnvelopeChannelBuffer is the buffer size for the envelope channel.
	// Sized to ride out short bursts of blocks without dropping payloads.
	EnvelopeChannelBuffer = 64

	// reconnectDelay is how long to wait before re-dialing a lost node
	// connection.
	reconnectDelay = 5 * time.Second
)

// Kaspad subscribes to a kaspad node for transactions paying the given
// wallet address and delivers their payloads as TxEnvelopes.
type Kaspad struct {
	logger  *logger.Logger
	nodeURL string
	address string

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	nextID    uint64
	envelopes chan *models.TxEnvelope
}

var _ models.PayloadSource = (*Kaspad)(nil)

// NewKaspad creates a new Kaspad listener for the given node URL and wallet
// address.
func NewKaspad(nodeURL, walletAddress string, logger *logger.Logger) *Kaspad {
	return &Kaspad{
		logger:  logger,
		nodeURL: nodeURL,
		address: walletAddress,
	}
}

// rpcRequest is one outgoing RPC message.
type rpcRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
	ID     uint64      `json:"id"`
}

// rpcMessage is one incoming RPC message, either a call result or a
// notification.
type rpcMessage struct {
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	ID     *uint64         `json:"id,omitempty"`
}

type rpcError struct {
	Message string `json:"message"`
}

// transactionAdded is the notification body for a transaction paying a
// watched address.
type transactionAdded struct {
	TransactionID string `json:"transactionId"`
	SenderAddress string `json:"senderAddress"`
	Payload       string `json:"payload"`
	Amount        uint64 `json:"amount"`
	Fee           uint64 `json:"fee"`
	BlockTime     int64  `json:"blockTime"`
}

// Subscribe dials the node, registers for transaction notifications on the
// wallet address and returns the envelope channel. The channel is closed
// when the connection is lost and cannot be re-established; the read loop
// retries the connection internally before giving up on a Close.
func (k *Kaspad) Subscribe() (<-chan *models.TxEnvelope, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, fmt.Errorf("listener is closed")
	}

	if err := k.connectLocked(); err != nil {
		return nil, err
	}

	k.envelopes = make(chan *models.TxEnvelope, EnvelopeChannelBuffer)
	go k.readLoop()

	return k.envelopes, nil
}

// connectLocked dials the node and sends the subscribe request.
func (k *Kaspad) connectLocked() error {
	conn, _, err := websocket.DefaultDialer.Dial(k.nodeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to kaspad at %s: %w", k.nodeURL, err)
	}

	k.nextID++
	req := rpcRequest{
		Method: "subscribeTransactions",
		Params: map[string]interface{}{"addresses": []string{k.address}},
		ID:     k.nextID,
	}
	if err := conn.WriteJSON(&req); err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe to transactions: %w", err)
	}

	k.conn = conn
	k.logger.Info("Connected to kaspad ", "url ", k.nodeURL, "address ", k.address)
	return nil
}

// readLoop reads notifications until the connection dies, then reconnects
// with a delay. It exits, closing the envelope channel, only after Close.
func (k *Kaspad) readLoop() {
	for {
		k.mu.Lock()
		conn, closed := k.conn, k.closed
		k.mu.Unlock()

		if closed {
			close(k.envelopes)
			return
		}

		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			k.logger.Error("Lost kaspad connection ", "error ", err)
			k.reconnect()
			continue
		}

		if msg.Error != nil {
			k.logger.Error("kaspad RPC error ", "message ", msg.Error.Message)
			continue
		}
		if msg.Method != "transactionAdded" {
			continue
		}

		k.handleNotification(msg.Params)
	}
}

func (k *Kaspad) reconnect() {
	for {
		k.mu.Lock()
		if k.closed {
			k.mu.Unlock()
			return
		}
		if k.conn != nil {
			k.conn.Close()
			k.conn = nil
		}
		err := k.connectLocked()
		k.mu.Unlock()

		if err == nil {
			return
		}
		k.logger.Error("Failed to reconnect to kaspad ", "error ", err)
		time.Sleep(reconnectDelay)
	}
}

func (k *Kaspad) handleNotification(params json.RawMessage) {
	var tx transactionAdded
	if err := json.Unmarshal(params, &tx); err != nil {
		k.logger.Error("Failed to parse transaction notification ", "error ", err)
		return
	}

	payload, err := decodePayload(tx.Payload)
	if err != nil {
		k.logger.Debug("Skipping transaction with undecodable payload ", "tx ", tx.TransactionID, "error ", err)
		return
	}
	if payload == "" {
		return
	}

	sender := tx.SenderAddress
	if sender == "" {
		sender = models.UnknownSender
	}

	envelope := &models.TxEnvelope{
		TransactionID: tx.TransactionID,
		SenderAddress: sender,
		Payload:       payload,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		Timestamp:     tx.BlockTime,
	}

	select {
	case k.envelopes <- envelope:
	default:
		k.logger.Warn("Envelope channel full, dropping transaction ", "tx ", tx.TransactionID)
	}
}

// decodePayload converts the hex-encoded transaction payload into a string.
func decodePayload(payloadHex string) (string, error) {
	if payloadHex == "" {
		return "", nil
	}
	raw, err := hex.DecodeString(payloadHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode payload hex: %w", err)
	}
	return string(raw), nil
}

// Close tears the connection down and stops the read loop.
func (k *Kaspad) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.closed = true
	if k.conn != nil {
		if err := k.conn.Close(); err != nil {
			return fmt.Errorf("failed to close kaspad connection: %w", err)
		}
		k.conn = nil
	}
	return nil
}
