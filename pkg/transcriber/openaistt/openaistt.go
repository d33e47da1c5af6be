// Package openaistt provides an OpenAI-API-backed Transcriber.
//
// It submits each utterance to the audio transcriptions endpoint as a WAV
// upload. Any server implementing the OpenAI audio API works, including
// self-hosted gateways, via WithBaseURL.
package openaistt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxd-io/voxd/pkg/audio"
	"github.com/voxd-io/voxd/pkg/transcriber"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.AudioModelWhisper1

// Compile-time assertion that Client implements transcriber.Transcriber.
var _ transcriber.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*config)

type config struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL overrides the API base URL, e.g. for a self-hosted gateway
// that implements the OpenAI audio API.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets the HTTP client timeout for transcription requests.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Client implements transcriber.Transcriber against the OpenAI audio API.
// It is safe for concurrent use.
type Client struct {
	client oai.Client
	model  string
}

// New constructs an OpenAI transcriber. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openaistt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe uploads the utterance as a WAV file and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
	if len(req.PCM) == 0 {
		return transcriber.Result{}, errors.New("openaistt: empty audio")
	}

	wav := audio.EncodeWAV(req.PCM, req.SampleRate, 1)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: c.model,
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}

	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("openaistt: transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if req.OnPartial != nil && text != "" {
		req.OnPartial(text)
	}
	return transcriber.Result{Text: text, Language: req.Language}, nil
}

// Close is a no-op; the Client holds no persistent resources.
func (c *Client) Close() error { return nil }
