// Package openai provides an STT provider backed by the OpenAI audio
// transcription API. It is the cloud alternative to the local whisper.cpp
// provider for deployments without a GPU.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jorgevx/escriba/pkg/provider"
	"github.com/jorgevx/escriba/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API. All methods are safe
// for concurrent use.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider. model is the transcription model
// name (e.g. "whisper-1").
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Transcribe implements [stt.Provider.Transcribe]. It uploads the audio file
// and requests the verbose JSON response format, which carries per-segment
// timestamps and the detected language.
func (p *Provider) Transcribe(ctx context.Context, path string, opts stt.Options) (stt.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return stt.Result{}, provider.NewModelError(provider.KindFileMissing, "transcribe", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:           f,
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if opts.Language != "" && opts.Language != stt.LanguageAuto {
		params.Language = oai.String(opts.Language)
	}
	if opts.Temperature > 0 {
		params.Temperature = oai.Float(opts.Temperature)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return stt.Result{}, provider.NewModelError(provider.KindRuntimeError, "transcribe", err)
		}
		return stt.Result{}, classifyAPIError(err)
	}

	// The typed response only carries the plain text; the verbose fields are
	// recovered from the raw body.
	var verbose oai.TranscriptionVerbose
	if err := json.Unmarshal([]byte(resp.RawJSON()), &verbose); err != nil {
		return stt.Result{}, provider.NewModelError(provider.KindRuntimeError, "transcribe", fmt.Errorf("parse verbose response: %w", err))
	}

	segments := make([]stt.Segment, 0, len(verbose.Segments))
	for _, seg := range verbose.Segments {
		segments = append(segments, stt.Segment{
			Start:      seg.Start,
			End:        seg.End,
			Text:       seg.Text,
			Confidence: logprobToConfidence(seg.AvgLogprob),
		})
	}

	return stt.Result{
		Segments: segments,
		Language: verbose.Language,
		Model:    p.model,
	}, nil
}

// classifyAPIError maps OpenAI API errors to the engine's error kinds.
// 4xx responses about the uploaded file are treated as unsupported-format;
// everything else is a transient runtime error.
func classifyAPIError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
		return provider.NewModelError(provider.KindUnsupportedFormat, "transcribe", err)
	}
	return provider.NewModelError(provider.KindRuntimeError, "transcribe", err)
}

// logprobToConfidence converts the API's average log-probability to a
// [0,1] confidence. exp(logprob) is the mean per-token probability.
func logprobToConfidence(logprob float64) float64 {
	if logprob >= 0 {
		return 1
	}
	return math.Exp(logprob)
}
