package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/jamborta/readaloud/internal/logging"
)

// StatusError is an unexpected HTTP status from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Client is an HTTP client for the reading backend. It implements
// Synthesizer, ChunkStore, AudioFetcher and VoiceLister.
type Client struct {
	base  *url.URL
	http  *http.Client
	log   logrus.FieldLogger
	token string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient returns a client for the backend at baseURL authenticating with
// a bearer token.
func NewClient(baseURL, token string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q: scheme and host required", baseURL)
	}
	c := &Client{base: u, http: http.DefaultClient, token: token}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.Or(c.log)
	return c, nil
}

// Do sends a JSON request to path and decodes a JSON response into out.
// A literal null response leaves out untouched.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if err := statusErr(resp.StatusCode, data); err != nil {
		c.log.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Debug("backend request failed")
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func statusErr(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	}
	msg := strings.TrimSpace(string(body))
	if utf8.RuneCountInString(msg) > 200 {
		msg = string([]rune(msg)[:200])
	}
	return &StatusError{Code: code, Body: msg}
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil || ref.IsAbs() {
		return path
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String()
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

type synthesizeRequest struct {
	Text string `json:"text"`
	Params
}

type synthesizeResponse struct {
	AudioContent   string `json:"audioContent"`
	CharacterCount int    `json:"characterCount"`
}

// Synthesize requests on-demand audio for text.
func (c *Client) Synthesize(ctx context.Context, text string, p Params) (*Audio, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}
	var resp synthesizeResponse
	if err := c.Do(ctx, http.MethodPost, "/api/synthesize", synthesizeRequest{Text: text, Params: p.Clamped()}, &resp); err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("synthesize: decode audio: %w", err)
	}
	return &Audio{Content: audio, CharacterCount: resp.CharacterCount}, nil
}

func chunkPath(ref ChunkRef) string {
	return fmt.Sprintf("/api/books/%s/chapters/%d/chunks/%d/audio", url.PathEscape(ref.BookID), ref.Chapter, ref.Chunk)
}

type chunkAudioResponse struct {
	AudioURL string `json:"audioUrl"`
}

// ChunkAudio returns the URL of pre-generated audio for ref.
func (c *Client) ChunkAudio(ctx context.Context, ref ChunkRef) (string, error) {
	var resp chunkAudioResponse
	if err := c.Do(ctx, http.MethodGet, chunkPath(ref), nil, &resp); err != nil {
		return "", fmt.Errorf("chunk audio %s: %w", ref, err)
	}
	if resp.AudioURL == "" {
		return "", fmt.Errorf("chunk audio %s: %w", ref, ErrNotFound)
	}
	return c.resolve(resp.AudioURL), nil
}

// GenerateChunkAudio asks the backend to synthesize and store audio for ref.
func (c *Client) GenerateChunkAudio(ctx context.Context, ref ChunkRef, text string, p Params) (string, error) {
	if err := ValidateText(text); err != nil {
		return "", err
	}
	var resp chunkAudioResponse
	if err := c.Do(ctx, http.MethodPost, chunkPath(ref), synthesizeRequest{Text: text, Params: p.Clamped()}, &resp); err != nil {
		return "", fmt.Errorf("generate chunk audio %s: %w", ref, err)
	}
	return c.resolve(resp.AudioURL), nil
}

// FetchAudio downloads audio bytes from url.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(audioURL), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	if err := statusErr(resp.StatusCode, data); err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	return data, nil
}

// Voices lists the voices offered by the backend.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	var resp struct {
		Voices []Voice `json:"voices"`
	}
	if err := c.Do(ctx, http.MethodGet, "/api/voices", nil, &resp); err != nil {
		return nil, fmt.Errorf("voices: %w", err)
	}
	return resp.Voices, nil
}
