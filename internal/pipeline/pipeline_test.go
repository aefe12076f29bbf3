package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxrelay/voxrelay/internal/cache"
	"github.com/voxrelay/voxrelay/internal/dynamics"
	"github.com/voxrelay/voxrelay/internal/gate"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/clock"
	smock "github.com/voxrelay/voxrelay/pkg/provider/synthesize/mock"
	tmock "github.com/voxrelay/voxrelay/pkg/provider/translate/mock"
	bmock "github.com/voxrelay/voxrelay/pkg/transport/mock"
)

type fixture struct {
	sess   *registry.Session
	cache  *cache.Cache
	trans  *tmock.Provider
	synth  *smock.Provider
	caster *bmock.Broadcaster
	p      *Pipeline
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clock.System()
	reg := registry.New(registry.Config{}, clk)
	sess, err := reg.Create("talk", "en", "speaker-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	f := &fixture{
		sess:   sess,
		cache:  cache.New(cache.Config{}, clk),
		trans:  &tmock.Provider{},
		synth:  &smock.Provider{},
		caster: &bmock.Broadcaster{},
	}
	f.p = New(cfg, sess, f.cache, f.trans, f.synth, f.caster, clk)
	return f
}

func utterance(id, text string) gate.Utterance {
	return gate.Utterance{
		ID:             id,
		SessionID:      "talk",
		SourceLanguage: "en",
		Text:           text,
		StartTime:      1.0,
		ProducedAt:     time.Now(),
		CorrelationID:  "corr-" + id,
	}
}

func TestHappyPathSingleListener(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sess.AddListener("conn-1", "es")

	f.p.Process(context.Background(), utterance("u1", "hello everyone"))

	sends := f.caster.SendsTo("conn-1")
	if len(sends) != 1 {
		t.Fatalf("listener received %d sends, want 1", len(sends))
	}
	// The synth mock echoes its input document, which must carry the
	// translated text.
	if !strings.Contains(string(sends[0].Data), "[es] hello everyone") {
		t.Errorf("delivered audio = %q, missing translation", sends[0].Data)
	}
	if f.trans.CallCount() != 1 {
		t.Errorf("translator called %d times, want 1", f.trans.CallCount())
	}

	// The translation is now cached: a repeat utterance skips the
	// translator entirely.
	f.p.Process(context.Background(), utterance("u2", "hello everyone"))
	if f.trans.CallCount() != 1 {
		t.Errorf("translator called %d times after repeat, want 1 (cache hit)", f.trans.CallCount())
	}
	if len(f.caster.SendsTo("conn-1")) != 2 {
		t.Errorf("repeat utterance not delivered")
	}
}

func TestSameLanguagePassthrough(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sess.AddListener("conn-1", "en")

	f.p.Process(context.Background(), utterance("u1", "hello everyone"))

	if f.trans.CallCount() != 0 {
		t.Errorf("translator called %d times for same-language listener, want 0", f.trans.CallCount())
	}
	sends := f.caster.SendsTo("conn-1")
	if len(sends) != 1 || !strings.Contains(string(sends[0].Data), "hello everyone") {
		t.Fatalf("passthrough delivery = %v", sends)
	}
}

func TestPartialFailureFanOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{TranslateDeadline: 500 * time.Millisecond})
	f.sess.AddListener("conn-es", "es")
	f.sess.AddListener("conn-fr", "fr")
	f.sess.AddListener("conn-de", "de")
	f.trans.Errs = map[string]error{"fr": errors.New("throttled")}

	f.p.Process(context.Background(), utterance("u1", "welcome to the keynote"))

	if n := len(f.caster.SendsTo("conn-es")); n != 1 {
		t.Errorf("es listener got %d sends, want 1", n)
	}
	if n := len(f.caster.SendsTo("conn-de")); n != 1 {
		t.Errorf("de listener got %d sends, want 1", n)
	}
	if n := len(f.caster.SendsTo("conn-fr")); n != 0 {
		t.Errorf("fr listener got %d sends despite translate failure, want 0", n)
	}
}

func TestListenerGoneMidBroadcast(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	conns := []string{"l1", "l2", "l3", "l4", "l5"}
	for _, c := range conns {
		f.sess.AddListener(c, "es")
	}
	f.caster.MarkGone("l3")

	f.p.Process(context.Background(), utterance("u1", "big announcement"))

	for _, c := range conns {
		want := 1
		if c == "l3" {
			want = 0
		}
		if n := len(f.caster.SendsTo(c)); n != want {
			t.Errorf("%s received %d sends, want %d", c, n, want)
		}
	}
	if n := f.sess.ListenerCount(); n != 4 {
		t.Errorf("ListenerCount = %d after gone signal, want 4", n)
	}
	if f.sess.Listener("l3") != nil {
		t.Error("gone listener still in session")
	}
	if len(f.caster.Disconnects) != 1 || f.caster.Disconnects[0] != "l3" {
		t.Errorf("Disconnects = %v, want [l3]", f.caster.Disconnects)
	}
}

func TestInvalidSSMLPlainTextFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sess.AddListener("conn-1", "es")
	f.synth.InvalidSSMLOnce = true

	f.p.Process(context.Background(), utterance("u1", "hello everyone"))

	sends := f.caster.SendsTo("conn-1")
	if len(sends) != 1 {
		t.Fatalf("listener received %d sends, want 1 (plain-text fallback)", len(sends))
	}
	got := string(sends[0].Data)
	if strings.Contains(got, "<speak>") {
		t.Errorf("fallback delivery still carries markup: %q", got)
	}
	if !strings.Contains(got, "[es] hello everyone") {
		t.Errorf("fallback delivery = %q, missing text", got)
	}

	calls := f.synth.Calls
	if len(calls) != 2 || calls[0].Req.PlainText || !calls[1].Req.PlainText {
		t.Errorf("synthesizer calls = %+v, want SSML then plain", calls)
	}
}

func TestNoListenersDropsUtterance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})

	f.p.Process(context.Background(), utterance("u1", "anyone there"))

	if f.trans.CallCount() != 0 || f.synth.CallCount() != 0 {
		t.Error("work performed for an utterance with no listeners")
	}
}

func TestPausedSessionDropsUtterance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sess.AddListener("conn-1", "es")
	f.sess.UpdateBroadcastState(func(b *registry.BroadcastState) { b.Paused = true })

	f.p.Process(context.Background(), utterance("u1", "should not go out"))

	if n := len(f.caster.Sends); n != 0 {
		t.Errorf("paused session delivered %d sends, want 0", n)
	}
}

func TestCancelledContextDeliversNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sess.AddListener("conn-1", "es")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.p.Process(ctx, utterance("u1", "late arrival"))

	if n := len(f.caster.Sends); n != 0 {
		t.Errorf("cancelled utterance delivered %d sends, want 0", n)
	}
}

func TestDrainDeliversBacklogInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	l := f.sess.AddListener("conn-1", "es")

	// A chunk left over from a previously failed drain must go out before
	// this round's audio.
	l.Buffer.Append(audio.Chunk{Data: []byte("backlog"), UtteranceID: "u0", TargetLanguage: "es"})

	f.p.Process(context.Background(), utterance("u1", "fresh text"))

	sends := f.caster.SendsTo("conn-1")
	if len(sends) != 2 {
		t.Fatalf("listener received %d sends, want backlog + fresh", len(sends))
	}
	if string(sends[0].Data) != "backlog" {
		t.Errorf("first send = %q, want backlog first", sends[0].Data)
	}
	if !strings.Contains(string(sends[1].Data), "fresh text") {
		t.Errorf("second send = %q, want fresh audio", sends[1].Data)
	}
}

func TestObservedDynamicsShapeProsody(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sess.AddListener("conn-1", "es")

	f.p.ObserveDynamics(dynamics.Dynamics{
		Volume:     dynamics.VolumeLoud,
		DBValue:    -5,
		Rate:       dynamics.RateFast,
		WPM:        170,
		DetectedAt: time.Now(),
	})
	f.p.Process(context.Background(), utterance("u1", "hello everyone"))

	sends := f.caster.SendsTo("conn-1")
	if len(sends) != 1 {
		t.Fatalf("listener received %d sends, want 1", len(sends))
	}
	doc := string(sends[0].Data)
	if !strings.Contains(doc, `volume="x-loud"`) || !strings.Contains(doc, `rate="fast"`) {
		t.Errorf("document = %q, want loud/fast prosody", doc)
	}
}

func TestFallbackDynamicsWhenNoneObserved(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sess.AddListener("conn-1", "es")

	f.p.Process(context.Background(), utterance("u1", "hello everyone"))

	sends := f.caster.SendsTo("conn-1")
	if len(sends) != 1 {
		t.Fatalf("listener received %d sends, want 1", len(sends))
	}
	doc := string(sends[0].Data)
	if !strings.Contains(doc, `volume="medium"`) || !strings.Contains(doc, `rate="medium"`) {
		t.Errorf("document = %q, want neutral prosody fallback", doc)
	}
}

func TestTranslateRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.sess.AddListener("conn-1", "es")

	var attempts int
	f.trans.Fn = func(ctx context.Context, src, tgt, text string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("throttled")
		}
		return "hola a todos", nil
	}

	f.p.Process(context.Background(), utterance("u1", "hello everyone"))

	if attempts != 3 {
		t.Errorf("translator attempts = %d, want 3", attempts)
	}
	sends := f.caster.SendsTo("conn-1")
	if len(sends) != 1 || !strings.Contains(string(sends[0].Data), "hola a todos") {
		t.Fatalf("retried translation not delivered: %v", sends)
	}
}
