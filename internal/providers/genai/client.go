package genai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	sdk "google.golang.org/genai"

	"lightwork/internal/domain"
	"lightwork/internal/imagegen"
	"lightwork/internal/infra"
	"lightwork/internal/ratelimit"
)

const (
	DefaultModel    = "gemini-2.5-flash-image"
	DefaultProModel = "gemini-3-pro-image-preview"
)

// ErrMissingAPIKey is reported by Ready and by every call of an unconfigured client.
var ErrMissingAPIKey = errors.New("gemini api key not configured")

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	ProModel   string
	HTTPClient *http.Client
	Limiter    ratelimit.Limiter
	Logger     *infra.Logger
}

// Client implements imagegen.Transformer on the Gemini image models. It
// makes exactly one provider call per Transform and leaves retries to the
// engine.
type Client struct {
	sdk      *sdk.Client
	model    string
	proModel string
	limiter  ratelimit.Limiter
	logger   *infra.Logger
}

// NewClient constructs a Gemini client. Without an API key the client is
// still returned, but Ready reports ErrMissingAPIKey and every call fails
// with an auth error.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	c := &Client{
		model:    firstNonEmpty(opts.Model, DefaultModel),
		proModel: firstNonEmpty(opts.ProModel, DefaultProModel),
		limiter:  opts.Limiter,
		logger:   logger,
	}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return c, nil
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	cfg := &sdk.ClientConfig{
		APIKey:     apiKey,
		Backend:    sdk.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = sdk.HTTPOptions{BaseURL: base}
	}

	client, err := sdk.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.sdk = client
	return c, nil
}

// Ready reports whether the client can reach the provider at all.
func (c *Client) Ready() error {
	if c.sdk == nil {
		return ErrMissingAPIKey
	}
	return nil
}

// Model returns the provider model used for the tier.
func (c *Client) Model(tier domain.ModelTier) string {
	if tier == domain.ModelPro {
		return c.proModel
	}
	return c.model
}

func (c *Client) Transform(ctx context.Context, req imagegen.Request) (*imagegen.Result, error) {
	if err := imagegen.Validate(req); err != nil {
		return nil, err
	}
	if c.sdk == nil {
		return nil, imagegen.NewError(imagegen.CauseAuth, "", ErrMissingAPIKey)
	}
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx)
		switch {
		case err != nil:
			c.logger.Warn().Err(err).Msg("genai: rate limiter unavailable, calling provider anyway")
		case !allowed:
			return nil, imagegen.NewError(imagegen.CauseRateLimited, "", ratelimit.ErrBudgetExhausted)
		}
	}

	model := c.Model(req.Model)
	parts := []*sdk.Part{
		sdk.NewPartFromText(req.Instruction),
		sdk.NewPartFromBytes(req.Image, imagegen.NormalizeMIME(req.MIMEType)),
	}
	contents := []*sdk.Content{sdk.NewContentFromParts(parts, sdk.RoleUser)}

	started := time.Now()
	resp, err := c.sdk.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		classified := classifyError(err)
		c.logger.Warn().Err(err).Str("model", model).Str("cause", string(classified.Cause)).Msg("genai: generate failed")
		return nil, classified
	}

	result, err := extractImage(resp)
	if err != nil {
		c.logger.Warn().Err(err).Str("model", model).Msg("genai: unusable response")
		return nil, err
	}
	c.logger.Debug().Str("model", model).Dur("took", time.Since(started)).Int("bytes", len(result.Data)).Msg("genai: image generated")
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var _ imagegen.Transformer = (*Client)(nil)
var _ imagegen.Checker = (*Client)(nil)
