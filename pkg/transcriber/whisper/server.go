// Package whisper provides whisper.cpp-backed Transcriber implementations.
//
// Two variants exist: Server talks to a running whisper-server binary over
// its REST API (POST /inference), and Native links whisper.cpp directly via
// CGO (build with -tags whisper). Both accept 16-bit signed little-endian
// mono PCM and return the batch transcription result.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxd-io/voxd/pkg/audio"
	"github.com/voxd-io/voxd/pkg/transcriber"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Server implements transcriber.Transcriber.
var _ transcriber.Transcriber = (*Server)(nil)

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithModel sets the model identifier forwarded to the whisper-server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) ServerOption {
	return func(s *Server) { s.model = model }
}

// WithLanguage sets the default BCP-47 language code sent to the server
// (e.g., "en", "de", "fr"). Defaults to "en". A non-empty Request.Language
// overrides it per call.
func WithLanguage(lang string) ServerOption {
	return func(s *Server) { s.language = lang }
}

// WithHTTPClient replaces the HTTP client used for inference requests.
// The default client has a 30 s timeout.
func WithHTTPClient(client *http.Client) ServerOption {
	return func(s *Server) { s.httpClient = client }
}

// Server implements transcriber.Transcriber against a whisper-server REST
// endpoint. It is safe for concurrent use; each Transcribe call is an
// independent HTTP request.
type Server struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// NewServer creates a Server transcriber for the whisper-server reachable at
// serverURL (e.g., "http://localhost:8080").
func NewServer(serverURL string, opts ...ServerOption) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Transcribe encodes the utterance as a WAV file and POSTs it to the
// /inference endpoint as multipart/form-data.
func (s *Server) Transcribe(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
	if len(req.PCM) == 0 {
		return transcriber.Result{}, errors.New("whisper: empty audio")
	}

	lang := req.Language
	if lang == "" {
		lang = s.language
	}
	wav := audio.EncodeWAV(req.PCM, req.SampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return transcriber.Result{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return transcriber.Result{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := s.serverURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transcriber.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	text := strings.TrimSpace(parsed.Text)
	if req.OnPartial != nil && text != "" {
		req.OnPartial(text)
	}
	return transcriber.Result{Text: text, Language: lang}, nil
}

// Close is a no-op; the Server holds no persistent resources.
func (s *Server) Close() error { return nil }
