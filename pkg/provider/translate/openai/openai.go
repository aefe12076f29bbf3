// Package openai provides an OpenAI chat-completion-backed translation
// provider. It implements the translate.Provider interface and is intended
// as a fallback for language pairs the primary machine translation service
// does not cover.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/voxrelay/voxrelay/pkg/provider/translate"
)

const defaultModel = "gpt-4o-mini"

// systemPromptFmt instructs the model to return only the translation.
// Verbatim output matters: any extra commentary would be spoken aloud.
const systemPromptFmt = "You are a translation engine. Translate the user's text from %s to %s. Reply with only the translated text, no explanations, preserving punctuation and tone."

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the chat model used for translation.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API endpoint (e.g., for a compatible proxy).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// Provider implements translate.Provider backed by OpenAI chat completions.
type Provider struct {
	client  oai.Client
	model   string
	baseURL string
}

// Ensure Provider implements translate.Provider at compile time.
var _ translate.Provider = (*Provider)(nil)

// New creates a new Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai translate: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Translate converts text between ISO 639-1 language codes via a single
// chat completion.
func (p *Provider) Translate(ctx context.Context, src, tgt, text string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(fmt.Sprintf(systemPromptFmt, src, tgt)),
			oai.UserMessage(text),
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai translate: %s->%s: %w", src, tgt, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai translate: %s->%s: empty response", src, tgt)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
