// Package aws provides an Amazon Translate-backed translation provider.
// It implements the translate.Provider interface.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranslate "github.com/aws/aws-sdk-go-v2/service/translate"

	"github.com/voxrelay/voxrelay/pkg/provider/translate"
)

// Provider implements translate.Provider backed by Amazon Translate.
type Provider struct {
	client *awstranslate.Client
}

// Ensure Provider implements translate.Provider at compile time.
var _ translate.Provider = (*Provider)(nil)

// New creates a Provider from an AWS SDK config.
func New(cfg aws.Config) *Provider {
	return &Provider{client: awstranslate.NewFromConfig(cfg)}
}

// Translate converts text between ISO 639-1 language codes.
func (p *Provider) Translate(ctx context.Context, src, tgt, text string) (string, error) {
	out, err := p.client.TranslateText(ctx, &awstranslate.TranslateTextInput{
		SourceLanguageCode: aws.String(src),
		TargetLanguageCode: aws.String(tgt),
		Text:               aws.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("translate: %s->%s: %w", src, tgt, err)
	}
	return aws.ToString(out.TranslatedText), nil
}
