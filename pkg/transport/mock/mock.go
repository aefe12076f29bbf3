// Package mock provides a test double for the transport.Broadcaster
// interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/transport"
)

// SendCall records a delivery to a connection.
type SendCall struct {
	ConnectionID string
	Data         []byte
}

// ControlCall records a control message delivery.
type ControlCall struct {
	ConnectionID string
	Msg          transport.ControlMessage
}

// Broadcaster is a mock implementation of transport.Broadcaster.
type Broadcaster struct {
	mu sync.Mutex

	// Gone holds connection IDs that report the gone signal on Send.
	Gone map[string]bool

	// SendErr, if non-nil, is returned from every Send (takes precedence
	// over Gone).
	SendErr error

	// BlockCh, when non-nil, makes Send wait until the channel is closed or
	// the context is cancelled — used to simulate a stalled transport.
	BlockCh chan struct{}

	// Sends and Controls record deliveries. Disconnects records closed IDs.
	Sends       []SendCall
	Controls    []ControlCall
	Disconnects []string
}

// Ensure Broadcaster implements transport.Broadcaster at compile time.
var _ transport.Broadcaster = (*Broadcaster)(nil)

// Send records the call, honouring Gone, SendErr and BlockCh.
func (b *Broadcaster) Send(ctx context.Context, connectionID string, data []byte) error {
	b.mu.Lock()
	block := b.BlockCh
	gone := b.Gone != nil && b.Gone[connectionID]
	err := b.SendErr
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	if gone {
		return fmt.Errorf("mock: %q: %w", connectionID, transport.ErrConnectionGone)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	b.mu.Lock()
	b.Sends = append(b.Sends, SendCall{ConnectionID: connectionID, Data: cp})
	b.mu.Unlock()
	return nil
}

// SendControl records the control message.
func (b *Broadcaster) SendControl(ctx context.Context, connectionID string, msg transport.ControlMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Gone != nil && b.Gone[connectionID] {
		return fmt.Errorf("mock: %q: %w", connectionID, transport.ErrConnectionGone)
	}
	b.Controls = append(b.Controls, ControlCall{ConnectionID: connectionID, Msg: msg})
	return nil
}

// Disconnect records the closed connection ID.
func (b *Broadcaster) Disconnect(connectionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Disconnects = append(b.Disconnects, connectionID)
	return nil
}

// MarkGone makes future Sends to connectionID report the gone signal.
func (b *Broadcaster) MarkGone(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Gone == nil {
		b.Gone = make(map[string]bool)
	}
	b.Gone[connectionID] = true
}

// SendsTo returns the recorded audio deliveries for one connection.
func (b *Broadcaster) SendsTo(connectionID string) []SendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []SendCall
	for _, s := range b.Sends {
		if s.ConnectionID == connectionID {
			out = append(out, s)
		}
	}
	return out
}
