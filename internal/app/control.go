package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/pkg/transport"
)

// Speaker-side command types accepted by HandleCommand.
const (
	CmdPause        = "pause"
	CmdResume       = "resume"
	CmdMute         = "mute"
	CmdUnmute       = "unmute"
	CmdSetVolume    = "setVolume"
	CmdSessionEnded = "sessionEnded"
)

// Command is an inbound speaker control frame.
type Command struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	Volume    *float64 `json:"volume,omitempty"`
}

// HandleCommand applies a speaker command to the session's broadcast state
// and notifies listeners of the change. Unknown command types are an error;
// redundant commands (pausing a paused session) are applied idempotently and
// still notified.
func (a *App) HandleCommand(ctx context.Context, cmd Command) error {
	if cmd.Type == CmdSessionEnded {
		return a.EndSession(ctx, cmd.SessionID)
	}

	sess, err := a.registry.Get(cmd.SessionID)
	if err != nil {
		return err
	}

	var notify transport.ControlMessage
	switch cmd.Type {
	case CmdPause:
		sess.UpdateBroadcastState(func(b *registry.BroadcastState) { b.Paused = true })
		notify = transport.ControlMessage{Type: transport.ControlBroadcastPaused}
	case CmdResume:
		sess.UpdateBroadcastState(func(b *registry.BroadcastState) { b.Paused = false })
		notify = transport.ControlMessage{Type: transport.ControlBroadcastResumed}
	case CmdMute:
		sess.UpdateBroadcastState(func(b *registry.BroadcastState) { b.Muted = true })
		notify = transport.ControlMessage{Type: transport.ControlBroadcastMuted}
	case CmdUnmute:
		sess.UpdateBroadcastState(func(b *registry.BroadcastState) { b.Muted = false })
		notify = transport.ControlMessage{Type: transport.ControlBroadcastUnmuted}
	case CmdSetVolume:
		if cmd.Volume == nil {
			return fmt.Errorf("app: setVolume without volume for session %q", cmd.SessionID)
		}
		st := sess.UpdateBroadcastState(func(b *registry.BroadcastState) { b.Volume = *cmd.Volume })
		v := st.Volume
		notify = transport.ControlMessage{Type: transport.ControlVolumeChanged, Volume: &v}
	default:
		return fmt.Errorf("app: unknown command %q for session %q", cmd.Type, cmd.SessionID)
	}

	notify.SessionID = cmd.SessionID
	sess.Touch(a.cfg.RegistryConfig().SessionTTL)
	a.notifyListeners(ctx, sess, notify)
	slog.Info("command applied", "session_id", cmd.SessionID, "command", cmd.Type)
	return nil
}

// notifyListeners fans a control message out to every listener. Gone
// connections are dropped from the session.
func (a *App) notifyListeners(ctx context.Context, sess *registry.Session, msg transport.ControlMessage) {
	for _, l := range sess.ListListeners("") {
		if err := a.providers.Broadcaster.SendControl(ctx, l.ConnectionID, msg); err != nil {
			if transport.IsGone(err) {
				_ = a.RemoveListener(ctx, sess.ID, l.ConnectionID)
				continue
			}
			slog.Warn("control notify failed",
				"session_id", sess.ID, "connection_id", l.ConnectionID, "err", err)
		}
	}
}
