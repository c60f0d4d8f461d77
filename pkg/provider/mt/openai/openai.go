// Package openai provides a translation provider backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vocero-ai/vocero/pkg/provider/mt"
)

// Compile-time check that *Provider satisfies [mt.Provider].
var _ mt.Provider = (*Provider)(nil)

const defaultModel = "gpt-4o-mini"

// systemPrompt instructs the model to behave as a bare translation engine.
// Bracketed prefixes are preserved verbatim so the speech client's context
// stripping works on the response.
const systemPrompt = "You are a translation engine for live speech. " +
	"Translate the user's text from %s to %s. " +
	"Reply with the translation only, no explanations. " +
	"If the text begins with a bracketed passage, translate it too and keep it " +
	"bracketed at the start of your reply."

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the chat model used for translation. Default: "gpt-4o-mini".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements mt.Provider using the OpenAI chat completions API.
// Safe for concurrent use.
type Provider struct {
	client oai.Client
	model  string
}

// New constructs a new OpenAI translation Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai mt: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Translate implements mt.Provider.
func (p *Provider) Translate(ctx context.Context, req mt.Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}

	resp, err := p.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(fmt.Sprintf(systemPrompt, req.SourceLang, req.TargetLang)),
			oai.UserMessage(req.Text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai mt: translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai mt: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
