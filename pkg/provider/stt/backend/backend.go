// Package backend provides an STT provider that forwards recordings to the
// shop backend's own transcription endpoint (POST /api/transcribe).
//
// The backend accepts a multipart upload with a single "audio" field and
// replies with {"success": bool, "transcript": string}.
package backend

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

	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/stt"
)

const transcribePath = "/api/transcribe"

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(p *Provider) { p.token = token }
}

// Provider implements stt.Provider against the shop backend.
type Provider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Provider for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("backend stt: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type transcribeResponse struct {
	Success    bool   `json:"success"`
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

// Transcribe uploads req as recording.wav. A response with success=false is
// reported as an error carrying the backend's message.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.PCM) == 0 {
		return stt.Transcript{}, fmt.Errorf("backend stt: %w", stt.ErrEmptyAudio)
	}
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("backend stt: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(req.PCM, req.Format)); err != nil {
		return stt.Transcript{}, fmt.Errorf("backend stt: write wav data: %w", err)
	}
	if req.Language != "" {
		if err := mw.WriteField("language", req.Language); err != nil {
			return stt.Transcript{}, fmt.Errorf("backend stt: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("backend stt: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+transcribePath, &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("backend stt: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("backend stt: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("backend stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("backend stt: server returned HTTP %d", resp.StatusCode)
	}

	var result transcribeResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("backend stt: parse JSON response: %w", err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "transcription unsuccessful"
		}
		return stt.Transcript{}, fmt.Errorf("backend stt: %s", msg)
	}

	return stt.Transcript{
		Text:    strings.TrimSpace(result.Transcript),
		Latency: time.Since(start),
	}, nil
}
