package app

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/dynamics"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/clock"
	symock "github.com/voxrelay/voxrelay/pkg/provider/synthesize/mock"
	"github.com/voxrelay/voxrelay/pkg/provider/transcribe"
	tsmock "github.com/voxrelay/voxrelay/pkg/provider/transcribe/mock"
	trmock "github.com/voxrelay/voxrelay/pkg/provider/translate/mock"
	"github.com/voxrelay/voxrelay/pkg/transport"
	bmock "github.com/voxrelay/voxrelay/pkg/transport/mock"
)

type fixture struct {
	app        *App
	stream     *tsmock.Session
	transcribe *tsmock.Provider
	translator *trmock.Provider
	synth      *symock.Provider
	caster     *bmock.Broadcaster
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fx := &fixture{
		stream:     tsmock.NewSession(32),
		transcribe: &tsmock.Provider{},
		translator: &trmock.Provider{},
		synth:      &symock.Provider{},
		caster:     &bmock.Broadcaster{},
	}
	fx.transcribe.Session = fx.stream

	providers := &Providers{
		Transcriber: fx.transcribe,
		Translator:  fx.translator,
		Synthesizer: fx.synth,
		Broadcaster: fx.caster,
	}
	a, err := New(context.Background(), config.Default(), providers, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	fx.app = a
	return fx
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func fptr(v float64) *float64 { return &v }

func TestStartSessionOpensStream(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	r, err := fx.app.StartSession(ctx, "talk", "de", "speaker-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if r == nil || fx.app.Runner("talk") != r {
		t.Fatal("runner not registered")
	}

	if n := len(fx.transcribe.StartStreamCalls); n != 1 {
		t.Fatalf("StartStream calls = %d, want 1", n)
	}
	cfg := fx.transcribe.StartStreamCalls[0].Cfg
	if cfg.SampleRate != audio.SampleRate || cfg.Channels != 1 || cfg.Language != "de" {
		t.Errorf("StreamConfig = %+v", cfg)
	}

	if _, err := fx.app.StartSession(ctx, "talk", "de", "speaker-1"); err == nil {
		t.Error("duplicate StartSession succeeded")
	}
}

func TestEndToEndFinalResultReachesListener(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := fx.app.AddListener(ctx, "talk", "l1", "es"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	fx.stream.EventsCh <- transcribe.Event{
		ResultID:     "r1",
		IsPartial:    false,
		StartTime:    0,
		EndTime:      fptr(1.5),
		Alternatives: []transcribe.Alternative{{Transcript: "hello everyone."}},
	}

	waitFor(t, func() bool { return len(fx.caster.SendsTo("l1")) >= 1 })

	payload := string(fx.caster.SendsTo("l1")[0].Data)
	if !strings.Contains(payload, "[es] hello everyone.") {
		t.Errorf("payload %q does not carry the translation", payload)
	}
}

func TestEndSessionNotifiesAndDisconnectsListeners(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := fx.app.AddListener(ctx, "talk", "l1", "es"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	if err := fx.app.EndSession(ctx, "talk"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if fx.app.Registry().Len() != 0 {
		t.Error("session survived EndSession")
	}
	var ended bool
	for _, c := range fx.caster.Controls {
		if c.ConnectionID == "l1" && c.Msg.Type == transport.ControlSessionEnded {
			ended = true
		}
	}
	if !ended {
		t.Error("listener did not receive sessionEnded")
	}
	if len(fx.caster.Disconnects) != 1 || fx.caster.Disconnects[0] != "l1" {
		t.Errorf("Disconnects = %v, want [l1]", fx.caster.Disconnects)
	}
	if fx.app.Runner("talk") != nil {
		t.Error("runner survived EndSession")
	}
}

func TestHandleCommandPauseResume(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := fx.app.AddListener(ctx, "talk", "l1", "es"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	if err := fx.app.HandleCommand(ctx, Command{Type: CmdPause, SessionID: "talk"}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	sess, _ := fx.app.Registry().Get("talk")
	if !sess.BroadcastState().Paused {
		t.Error("session not paused")
	}
	if len(fx.caster.Controls) != 1 || fx.caster.Controls[0].Msg.Type != transport.ControlBroadcastPaused {
		t.Fatalf("controls = %+v", fx.caster.Controls)
	}

	if err := fx.app.HandleCommand(ctx, Command{Type: CmdResume, SessionID: "talk"}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sess.BroadcastState().Paused {
		t.Error("session still paused")
	}
	if got := fx.caster.Controls[1].Msg.Type; got != transport.ControlBroadcastResumed {
		t.Errorf("second control = %q, want %q", got, transport.ControlBroadcastResumed)
	}
}

func TestHandleCommandSetVolumeClamped(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := fx.app.AddListener(ctx, "talk", "l1", "es"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	if err := fx.app.HandleCommand(ctx, Command{Type: CmdSetVolume, SessionID: "talk", Volume: fptr(1.7)}); err != nil {
		t.Fatalf("setVolume: %v", err)
	}
	sess, _ := fx.app.Registry().Get("talk")
	if v := sess.BroadcastState().Volume; v != 1.0 {
		t.Errorf("Volume = %v, want clamped 1.0", v)
	}
	msg := fx.caster.Controls[0].Msg
	if msg.Type != transport.ControlVolumeChanged || msg.Volume == nil || *msg.Volume != 1.0 {
		t.Errorf("control = %+v", msg)
	}

	if err := fx.app.HandleCommand(ctx, Command{Type: CmdSetVolume, SessionID: "talk"}); err == nil {
		t.Error("setVolume without volume succeeded")
	}
}

func TestHandleCommandUnknownType(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := fx.app.HandleCommand(ctx, Command{Type: "rewind", SessionID: "talk"}); err == nil {
		t.Error("unknown command succeeded")
	}
}

func TestHandleCommandSessionEnded(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := fx.app.HandleCommand(ctx, Command{Type: CmdSessionEnded, SessionID: "talk"}); err != nil {
		t.Fatalf("sessionEnded: %v", err)
	}
	if fx.app.Registry().Len() != 0 {
		t.Error("session survived sessionEnded command")
	}
}

func TestMaintenanceEvictsExpiredSessions(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fx := newFixture(t, WithClock(clk))
	ctx := context.Background()

	if _, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	clk.Advance(5 * time.Hour)
	fx.app.maintain(ctx)

	if fx.app.Registry().Len() != 0 {
		t.Error("expired session not evicted")
	}
	r := fx.app.Runner("talk")
	if r != nil {
		t.Error("runner survived eviction")
	}
}

func TestMaintenanceRequestsListenerRefresh(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	fx := newFixture(t, WithClock(clk))
	ctx := context.Background()

	if _, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := fx.app.AddListener(ctx, "talk", "l1", "es"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	clk.Advance(101 * time.Minute)
	fx.app.maintain(ctx)

	var refreshed bool
	for _, c := range fx.caster.Controls {
		if c.ConnectionID == "l1" && c.Msg.Type == transport.ControlRefreshRequired {
			refreshed = true
		}
	}
	if !refreshed {
		t.Errorf("no refresh control sent; controls = %+v", fx.caster.Controls)
	}
}

func TestSendAudioForwardsToRecognizer(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	r, err := fx.app.StartSession(ctx, "talk", "en", "speaker-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	chunk := make([]byte, audio.BytesPerSecond/10)
	if err := r.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if len(fx.stream.AudioChunks) != 1 || len(fx.stream.AudioChunks[0]) != len(chunk) {
		t.Errorf("AudioChunks = %d entries", len(fx.stream.AudioChunks))
	}
}

// ─── audioTap ───────────────────────────────────────────────────────────────

// sinePCM renders seconds of a 440 Hz tone as 16 kHz mono s16le bytes.
func sinePCM(seconds float64) []byte {
	n := int(seconds * audio.SampleRate)
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(0.5 * math.MaxInt16 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

func TestAudioTapWindowAndTrim(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	tap := newAudioTap(clk, nil)

	tap.ingest(sinePCM(2))

	w := tap.window(0.5, 1.5)
	if len(w) != audio.SampleRate {
		t.Fatalf("window len = %d, want %d", len(w), audio.SampleRate)
	}
	if tap.window(5, 6) != nil {
		t.Error("window beyond buffered audio should be nil")
	}

	// Push past retention; the head offset must advance.
	for i := 0; i < 31; i++ {
		tap.ingest(sinePCM(1))
	}
	if tap.offsetSec <= 0 {
		t.Errorf("offsetSec = %v, want > 0 after trim", tap.offsetSec)
	}
	if len(tap.samples) > tap.maxSamples {
		t.Errorf("samples = %d exceeds retention %d", len(tap.samples), tap.maxSamples)
	}
}

func TestAudioTapEmitsDynamicsPerSecond(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	var got []dynamics.Dynamics
	tap := newAudioTap(clk, func(d dynamics.Dynamics) { got = append(got, d) })

	// Ten 100 ms chunks cross the one-second threshold exactly once.
	for i := 0; i < 10; i++ {
		tap.ingest(sinePCM(0.1))
	}
	if len(got) != 1 {
		t.Fatalf("dynamics emissions = %d, want 1", len(got))
	}
	if got[0].Volume == "" || got[0].Rate == "" {
		t.Errorf("empty classification: %+v", got[0])
	}
}
