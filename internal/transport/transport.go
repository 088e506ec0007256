// Package transport defines the link layer a node engine talks through and
// provides the CAN implementation of it.
package transport

import (
	"context"
	"errors"
)

// Values returned by drivers that cannot measure a radio characteristic.
const (
	InvalidRSSI int16 = -256
	InvalidSNR  int16 = -256
)

var (
	ErrNotInitialized = errors.New("transport: not initialized")
	ErrSendFailed     = errors.New("transport: send failed")
)

// Transport moves whole messages between nodes. Everything except Init is
// non-blocking.
type Transport interface {
	Init(ctx context.Context) error
	Send(ctx context.Context, to uint8, data []byte, noAck bool) error
	DataAvailable() bool
	Receive(buf []byte) int

	SetAddress(addr uint8)
	Address() uint8
	SanityCheck() bool

	PowerDown()
	PowerUp()
	Sleep()
	StandBy()

	SendingRSSI() int16
	ReceivingRSSI() int16
	SendingSNR() int16
	ReceivingSNR() int16
	TxPowerPercent() int16
	TxPowerLevel() int16
	SetTxPowerPercent(percent uint8) bool

	Close() error
}

// Notifier is implemented by transports that can signal inbound traffic, so
// an idle engine can block instead of polling.
type Notifier interface {
	Ready() <-chan struct{}
}
