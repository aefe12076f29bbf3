// Package transport defines the byte-delivery contract between the pipeline
// and listener connections, plus a WebSocket hub implementation.
//
// The pipeline does not care about wire framing: it hands the transport raw
// audio bytes and JSON control messages keyed by connection ID, and the
// transport reports a gone signal when a connection is dead. The gone signal
// is how listener removal propagates back into the session registry.
package transport

import (
	"context"
	"errors"
)

// ErrConnectionGone is returned (possibly wrapped) by Send and SendControl
// when the target connection is dead. Callers must treat it as a removal
// signal, not a retryable failure.
var ErrConnectionGone = errors.New("transport: connection gone")

// IsGone reports whether err indicates a dead connection.
func IsGone(err error) bool {
	return errors.Is(err, ErrConnectionGone)
}

// Control message types sent to listeners.
const (
	ControlSessionEnded      = "sessionEnded"
	ControlRefreshRequired   = "connectionRefreshRequired"
	ControlBroadcastPaused   = "broadcastPaused"
	ControlBroadcastResumed  = "broadcastResumed"
	ControlBroadcastMuted    = "broadcastMuted"
	ControlBroadcastUnmuted  = "broadcastUnmuted"
	ControlVolumeChanged     = "volumeChanged"
)

// ControlMessage is a JSON control frame delivered to a listener.
type ControlMessage struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
}

// Broadcaster delivers bytes and control messages to listener connections.
//
// Implementations must be safe for concurrent use: the fan-out stage sends to
// many connections in parallel.
type Broadcaster interface {
	// Send delivers an audio payload to the connection. A dead connection is
	// reported via an error matching [IsGone].
	Send(ctx context.Context, connectionID string, data []byte) error

	// SendControl delivers a control message to the connection. Dead
	// connections are reported via [IsGone] errors.
	SendControl(ctx context.Context, connectionID string, msg ControlMessage) error

	// Disconnect closes the connection. Unknown connection IDs are a no-op.
	Disconnect(connectionID string) error
}
