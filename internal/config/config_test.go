package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty): %v", err)
	}

	if cfg.RateLimit.WindowMs != 200 || cfg.RateLimit.MaxPerSecond != 5 {
		t.Errorf("rateLimit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Stability.Threshold != 0.7 || cfg.Stability.BlindTimeoutSec != 3 {
		t.Errorf("stability defaults = %+v", cfg.Stability)
	}
	if cfg.Buffer.MaxSeconds != 10 || cfg.Buffer.OrphanTimeoutSec != 15 {
		t.Errorf("buffer defaults = %+v", cfg.Buffer)
	}
	if cfg.Cache.TTLSec != 3600 || cfg.Cache.MaxEntries != 10000 {
		t.Errorf("cache defaults = %+v", cfg.Cache)
	}
	if cfg.Session.MaxConcurrentBroadcasts != 100 {
		t.Errorf("session defaults = %+v", cfg.Session)
	}
	if cfg.Translate.DeadlineMs != 2000 || cfg.Synthesize.DeadlineMs != 5000 {
		t.Errorf("deadline defaults = %+v / %+v", cfg.Translate, cfg.Synthesize)
	}
	if cfg.Providers.Translator != TranslatorAWS {
		t.Errorf("translator default = %q, want aws", cfg.Providers.Translator)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	const doc = `
server:
  listenAddr: ":9999"
  logLevel: debug
rateLimit:
  windowMs: 250
stability:
  threshold: 0.8
cache:
  maxEntries: 500
providers:
  region: eu-central-1
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9999" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.RateLimit.WindowMs != 250 {
		t.Errorf("rateLimit.windowMs = %d, want 250", cfg.RateLimit.WindowMs)
	}
	if cfg.Stability.Threshold != 0.8 {
		t.Errorf("stability.threshold = %v, want 0.8", cfg.Stability.Threshold)
	}
	if cfg.Cache.MaxEntries != 500 {
		t.Errorf("cache.maxEntries = %d, want 500", cfg.Cache.MaxEntries)
	}
	if cfg.Providers.Region != "eu-central-1" {
		t.Errorf("providers.region = %q", cfg.Providers.Region)
	}
	// Untouched keys keep their defaults.
	if cfg.RateLimit.MaxPerSecond != 5 || cfg.Dedup.TTLSec != 10 {
		t.Error("defaults lost when overriding other keys")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("rateLimiit:\n  windowMs: 200\n"))
	if err == nil {
		t.Fatal("misspelled key accepted")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "bad log level",
			doc:  "server:\n  logLevel: verbose\n",
			want: "server.logLevel",
		},
		{
			name: "threshold out of range",
			doc:  "stability:\n  threshold: 1.5\n",
			want: "stability.threshold",
		},
		{
			name: "window too wide",
			doc:  "rateLimit:\n  windowMs: 5000\n",
			want: "rateLimit.windowMs",
		},
		{
			name: "unknown translator",
			doc:  "providers:\n  translator: acme\n",
			want: "providers.translator",
		},
		{
			name: "openai without key",
			doc:  "providers:\n  translator: openai\n",
			want: "providers.openai.apiKey",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromReader(strings.NewReader(tc.doc))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestComponentProjections(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	g := cfg.GateConfig()
	if g.Window != 200*time.Millisecond || g.MaxBufferedWords != 300 {
		t.Errorf("gate projection = %+v", g)
	}
	if g.OrphanTimeout != 15*time.Second || g.DedupTTL != 10*time.Second {
		t.Errorf("gate timeouts = %+v", g)
	}

	cc := cfg.CacheSettings()
	if cc.TTL != time.Hour || cc.MaxEntries != 10000 {
		t.Errorf("cache projection = %+v", cc)
	}

	p := cfg.PipelineConfig()
	if p.TranslateDeadline != 2*time.Second || p.SynthesizeDeadline != 5*time.Second {
		t.Errorf("pipeline projection = %+v", p)
	}
	if p.MaxConcurrentBroadcasts != 100 {
		t.Errorf("pipeline fan-out cap = %d", p.MaxConcurrentBroadcasts)
	}

	r := cfg.RegistryConfig()
	if r.ListenerBufferBytes != 320_000 {
		t.Errorf("listener buffer bytes = %d, want 320000", r.ListenerBufferBytes)
	}
	if r.RefreshAge != 100*time.Minute {
		t.Errorf("refresh age = %v, want 100m", r.RefreshAge)
	}
}
