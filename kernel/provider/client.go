package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultTranscribeModel = "whisper-1"

	defaultStreamTimeout     = 120 * time.Second
	defaultDescribeTimeout   = 60 * time.Second
	defaultValidateTimeout   = 20 * time.Second
	defaultTranscribeTimeout = 120 * time.Second

	attemptLimit = 2
	retryDelay   = 600 * time.Millisecond
)

var errStopStream = errors.New("provider: consumer stopped")

// Config describes one remote model endpoint.
type Config struct {
	BaseURL         string
	Model           string
	TranscribeModel string
	APIKey          string

	StreamTimeout     time.Duration
	DescribeTimeout   time.Duration
	ValidateTimeout   time.Duration
	TranscribeTimeout time.Duration

	// Debug, when set, receives request/stream trace lines.
	Debug func(string)
}

// Client performs model invocations against the hosted endpoint.
type Client struct {
	baseURL         string
	model           string
	transcribeModel string
	key             string
	debug           func(string)

	stream     *http.Client
	describe   *http.Client
	validate   *http.Client
	transcribe *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("provider: model is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("provider: api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	transcribeModel := strings.TrimSpace(cfg.TranscribeModel)
	if transcribeModel == "" {
		transcribeModel = defaultTranscribeModel
	}
	return &Client{
		baseURL:         baseURL,
		model:           cfg.Model,
		transcribeModel: transcribeModel,
		key:             cfg.APIKey,
		debug:           cfg.Debug,
		stream:          &http.Client{Timeout: timeoutOr(cfg.StreamTimeout, defaultStreamTimeout)},
		describe:        &http.Client{Timeout: timeoutOr(cfg.DescribeTimeout, defaultDescribeTimeout)},
		validate:        &http.Client{Timeout: timeoutOr(cfg.ValidateTimeout, defaultValidateTimeout)},
		transcribe:      &http.Client{Timeout: timeoutOr(cfg.TranscribeTimeout, defaultTranscribeTimeout)},
	}, nil
}

func timeoutOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// Request is one logical model invocation.
type Request struct {
	Text string
	// ImagePNG attaches encoded image bytes as a multimodal turn.
	ImagePNG []byte
	// ContinuationToken chains this turn into an earlier remote context.
	ContinuationToken string
}

// Response is a streamed chunk: deltas while the answer accrues, then one
// terminal response carrying the full text and any disclosed token.
type Response struct {
	Delta             string
	Text              string
	ContinuationToken string
	TurnComplete      bool
}

// Result is the outcome of a completed invocation.
type Result struct {
	Text              string
	ContinuationToken string
}

// Respond streams one model invocation. Transient failures before the
// first delta are retried once after a fixed backoff; once any delta has
// been delivered the partial output stands and later failures surface
// as-is.
func (c *Client) Respond(ctx context.Context, req *Request) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("provider: request is nil"))
			return
		}
		raw, err := json.Marshal(c.buildBody(req, true))
		if err != nil {
			yield(nil, err)
			return
		}
		var (
			final     *Response
			delivered bool
		)
		err = retry.Do(
			func() error {
				res, attemptErr := c.streamAttempt(ctx, raw, func(delta string) bool {
					delivered = true
					return yield(&Response{Delta: delta}, nil)
				})
				if attemptErr != nil {
					return attemptErr
				}
				final = res
				return nil
			},
			retry.Attempts(attemptLimit),
			retry.Delay(retryDelay),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
			retry.RetryIf(func(err error) bool {
				return !delivered && isRetryable(err)
			}),
			retry.OnRetry(func(n uint, err error) {
				c.debugf("respond: attempt %d failed, retrying: %v", n+1, err)
			}),
		)
		if errors.Is(err, errStopStream) {
			return
		}
		if err != nil {
			yield(nil, err)
			return
		}
		yield(final, nil)
	}
}

func (c *Client) streamAttempt(ctx context.Context, body []byte, onDelta func(string) bool) (*Response, error) {
	resp, err := c.post(ctx, c.stream, "/responses", "application/json", body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp)
	}

	var (
		deltas    strings.Builder
		fallback  string
		token     string
		events    int
		lastEvent []byte
	)
	err = readSSE(resp.Body, func(data []byte) error {
		events++
		lastEvent = append(lastEvent[:0], data...)
		delta, extractErr := extractDeltaText(data)
		if extractErr != nil {
			return extractErr
		}
		if delta != "" {
			deltas.WriteString(delta)
			if !onDelta(delta) {
				return errStopStream
			}
		} else if deltas.Len() == 0 {
			// A full-output event counts only before any delta has flowed,
			// so text is never double-counted once deltas arrive.
			if text, textErr := extractOutputText(data); textErr == nil {
				fallback = text
			}
		}
		if token == "" {
			token = extractContinuationToken(data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	text := deltas.String()
	if text == "" {
		text = fallback
	}
	if text == "" && len(lastEvent) > 0 {
		if recovered, recoverErr := extractOutputText(lastEvent); recoverErr == nil {
			text = recovered
		}
	}
	if events == 0 {
		return nil, ErrNoEventsReceived
	}
	if text == "" {
		return nil, ErrNoTextProduced
	}
	c.debugf("respond: %d events, %d bytes of text", events, len(text))
	return &Response{Text: text, ContinuationToken: token, TurnComplete: true}, nil
}

// Describe performs a non-streaming invocation under the same build and
// retry contract.
func (c *Client) Describe(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, fmt.Errorf("provider: request is nil")
	}
	raw, err := json.Marshal(c.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	var result *Result
	err = retry.Do(
		func() error {
			resp, attemptErr := c.post(ctx, c.describe, "/responses", "application/json", raw, "application/json")
			if attemptErr != nil {
				return attemptErr
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return statusError(resp)
			}
			body, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				return readErr
			}
			text, textErr := extractOutputText(body)
			if textErr != nil {
				return textErr
			}
			result = &Result{Text: text, ContinuationToken: extractContinuationToken(body)}
			return nil
		},
		retry.Attempts(attemptLimit),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.debugf("describe: attempt %d failed, retrying: %v", n+1, err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TranscribeAudio uploads recorded audio and returns its transcription.
// Single attempt; accepts a {text} JSON body or raw UTF-8 text.
func (c *Client) TranscribeAudio(ctx context.Context, audio []byte) (string, error) {
	body, contentType, err := buildMultipartBody(
		[]field{
			{Name: "model", Value: c.transcribeModel},
			{Name: "response_format", Value: "json"},
		},
		filePart{Field: "file", Filename: "audio.m4a", ContentType: "audio/m4a", Data: audio},
	)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, c.transcribe, "/audio/transcriptions", contentType, body, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Text string `json:"text"`
	}
	text := ""
	if jsonErr := json.Unmarshal(raw, &parsed); jsonErr == nil {
		text = strings.TrimSpace(parsed.Text)
	}
	if text == "" {
		text = strings.TrimSpace(string(raw))
	}
	if text == "" {
		return "", fmt.Errorf("provider: transcription: %w", ErrNoTextProduced)
	}
	return text, nil
}

// ValidateCredentials probes the key with a lightweight authenticated GET.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	target := c.baseURL + "/models"
	if err := secureURL(target); err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.key)
	resp, err := c.validate.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

func (c *Client) post(ctx context.Context, client *http.Client, path, contentType string, body []byte, accept string) (*http.Response, error) {
	target := c.baseURL + path
	if err := secureURL(target); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Authorization", "Bearer "+c.key)
	return client.Do(httpReq)
}

type responsesRequest struct {
	Model              string `json:"model"`
	Input              any    `json:"input"`
	Stream             bool   `json:"stream,omitempty"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

type inputMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

func (c *Client) buildBody(req *Request, stream bool) responsesRequest {
	out := responsesRequest{
		Model:              c.model,
		Stream:             stream,
		PreviousResponseID: req.ContinuationToken,
	}
	if len(req.ImagePNG) == 0 {
		out.Input = req.Text
		return out
	}
	parts := []contentPart{}
	if strings.TrimSpace(req.Text) != "" {
		parts = append(parts, contentPart{Type: "input_text", Text: req.Text})
	}
	parts = append(parts, contentPart{
		Type:     "input_image",
		ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.ImagePNG),
	})
	out.Input = []inputMessage{{Role: "user", Content: parts}}
	return out
}

func (c *Client) debugf(format string, args ...any) {
	if c.debug == nil {
		return
	}
	c.debug(fmt.Sprintf(format, args...))
}
