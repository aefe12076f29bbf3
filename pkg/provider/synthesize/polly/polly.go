// Package polly provides an Amazon Polly-backed speech synthesis provider.
// It implements the synthesize.Provider interface, requesting 16-bit PCM and
// mapping the service's invalid-SSML rejection onto synthesize.ErrInvalidSSML
// so the pipeline can apply its plain-text fallback.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awspolly "github.com/aws/aws-sdk-go-v2/service/polly"
	ptypes "github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/voxrelay/voxrelay/pkg/provider/synthesize"
)

// defaultVoices maps ISO 639-1 codes to neural voices. Overridable per
// provider via WithVoices.
var defaultVoices = map[string]string{
	"en": "Joanna",
	"es": "Lupe",
	"fr": "Lea",
	"de": "Vicki",
	"it": "Bianca",
	"pt": "Camila",
	"ja": "Takumi",
	"ko": "Seoyeon",
	"zh": "Zhiyu",
}

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithVoices replaces the language-to-voice mapping.
func WithVoices(voices map[string]string) Option {
	return func(p *Provider) { p.voices = voices }
}

// WithEngine sets the synthesis engine ("neural", "standard").
func WithEngine(engine string) Option {
	return func(p *Provider) { p.engine = ptypes.Engine(engine) }
}

// Provider implements synthesize.Provider backed by Amazon Polly.
type Provider struct {
	client *awspolly.Client
	voices map[string]string
	engine ptypes.Engine
}

// Ensure Provider implements synthesize.Provider at compile time.
var _ synthesize.Provider = (*Provider)(nil)

// New creates a Provider from an AWS SDK config.
func New(cfg aws.Config, opts ...Option) *Provider {
	p := &Provider{
		client: awspolly.NewFromConfig(cfg),
		voices: defaultVoices,
		engine: ptypes.EngineNeural,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// VoiceForLanguage returns the configured voice for an ISO 639-1 code.
func (p *Provider) VoiceForLanguage(lang string) string {
	return p.voices[lang]
}

// Synthesize renders the request to raw PCM bytes.
func (p *Provider) Synthesize(ctx context.Context, req synthesize.Request) ([]byte, error) {
	textType := ptypes.TextTypeSsml
	if req.PlainText {
		textType = ptypes.TextTypeText
	}
	sr := req.SampleRate
	if sr == 0 {
		sr = 16000
	}

	out, err := p.client.SynthesizeSpeech(ctx, &awspolly.SynthesizeSpeechInput{
		OutputFormat: ptypes.OutputFormatPcm,
		SampleRate:   aws.String(strconv.Itoa(sr)),
		Text:         aws.String(req.SSML),
		TextType:     textType,
		VoiceId:      ptypes.VoiceId(req.Voice),
		Engine:       p.engine,
	})
	if err != nil {
		var invalid *ptypes.InvalidSsmlException
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("polly: %w: %s", synthesize.ErrInvalidSSML, invalid.ErrorMessage())
		}
		return nil, fmt.Errorf("polly: synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("polly: read audio stream: %w", err)
	}
	return audio, nil
}
