package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/soyeahso/querydesk/internal/logging"
)

// ProviderConfig configures one chat-completions endpoint.
type ProviderConfig struct {
	Name       string
	Kind       string // "openai" | "azure" | "ollama"
	BaseURL    string
	APIKey     string
	Model      string
	Deployment string // azure only
	APIVersion string // azure only
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration // initial backoff interval
}

// HTTPClient is a chat-completions client. Provider adapters differ only in
// endpoint and auth headers; request encoding and response parsing are shared.
type HTTPClient struct {
	name       string
	model      string
	endpoint   string
	headers    map[string]string
	client     *http.Client
	maxRetries int
	retryWait  time.Duration
	log        *logging.Logger
}

// NewProviderClient builds the adapter selected by cfg.Kind.
func NewProviderClient(cfg ProviderConfig, log *logging.Logger) (*HTTPClient, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", "openai":
		return NewOpenAIClient(cfg, log), nil
	case "azure":
		return NewAzureClient(cfg, log)
	case "ollama":
		return NewOllamaClient(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider kind %q", cfg.Kind)
	}
}

// NewOpenAIClient creates a client for the OpenAI API or any server that
// speaks the same protocol with bearer auth.
func NewOpenAIClient(cfg ProviderConfig, log *logging.Logger) *HTTPClient {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return newHTTPClient(cfg, "openai", base+"/chat/completions", headers, log)
}

// NewAzureClient creates a client for an Azure OpenAI deployment.
func NewAzureClient(cfg ProviderConfig, log *logging.Logger) (*HTTPClient, error) {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" || cfg.Deployment == "" {
		return nil, &ProviderError{Provider: "azure", Message: "baseUrl and deployment are required"}
	}
	version := cfg.APIVersion
	if version == "" {
		version = "2024-10-21"
	}
	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		base, url.PathEscape(cfg.Deployment), url.QueryEscape(version))
	headers := map[string]string{"api-key": cfg.APIKey}
	return newHTTPClient(cfg, "azure", endpoint, headers, log), nil
}

// NewOllamaClient creates a client for Ollama's OpenAI-compatible endpoint.
// baseURL should be like "http://localhost:11434".
func NewOllamaClient(cfg ProviderConfig, log *logging.Logger) *HTTPClient {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	base = strings.TrimSuffix(base, "/v1")
	return newHTTPClient(cfg, "ollama", base+"/v1/chat/completions", map[string]string{}, log)
}

func newHTTPClient(cfg ProviderConfig, kind, endpoint string, headers map[string]string, log *logging.Logger) *HTTPClient {
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	name := cfg.Name
	if name == "" {
		name = kind
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	wait := cfg.RetryWait
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	return &HTTPClient{
		name:       name,
		model:      cfg.Model,
		endpoint:   endpoint,
		headers:    headers,
		client:     &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		retryWait:  wait,
		log:        log.Sub("llm." + name),
	}
}

// Name returns the provider name.
func (c *HTTPClient) Name() string { return c.name }

// Chat sends a non-streaming completion request.
func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) ChatResponse {
	start := time.Now()

	payload, err := buildRequestBody(req, c.model, false)
	if err != nil {
		return Failure("failed to marshal request: %v", err)
	}

	status, body, err := c.post(ctx, payload)
	if err != nil {
		resp := Failure("%s", describeTransportError(err))
		var provErr *ProviderError
		if errors.As(err, &provErr) {
			resp.StatusCode = provErr.Code
		}
		c.log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("chat request failed")
		return resp
	}

	resp := parseChatResponse(status, body)
	resp.Duration = time.Since(start)
	if resp.Model == "" {
		resp.Model = c.model
	}
	c.log.Debug().
		Bool("success", resp.Success).
		Int("toolCalls", len(resp.ToolCalls)).
		Str("finishReason", resp.FinishReason).
		Dur("duration", resp.Duration).
		Msg("chat completed")
	return resp
}

// post sends the payload, retrying transport failures and retryable
// statuses with exponential backoff. A non-retryable status is returned
// as (status, body, nil) so the caller can parse the error body.
func (c *HTTPClient) post(ctx context.Context, payload []byte) (int, []byte, error) {
	var (
		status int
		body   []byte
	)

	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		c.setHeaders(httpReq)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		status, body = resp.StatusCode, data

		if retryableStatus(resp.StatusCode) {
			return &ProviderError{Provider: c.name, Message: truncate(string(data), 200), Code: resp.StatusCode}
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryWait
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(c.maxRetries, 0))), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Dur("wait", wait).Msg("retrying chat request")
	})
	if err != nil {
		var provErr *ProviderError
		if errors.As(err, &provErr) && body != nil {
			// retries exhausted on a status code; let the parser report it
			return status, body, nil
		}
		return 0, nil, err
	}
	return status, body, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
}

// Stream sends a streaming completion request. Text arrives as delta
// events; tool calls and usage are assembled into the done event.
func (c *HTTPClient) Stream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	payload, err := buildRequestBody(req, c.model, true)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	eventChan := make(chan StreamEvent)
	go c.streamRequest(ctx, eventChan, payload)
	return eventChan, nil
}

func (c *HTTPClient) streamRequest(ctx context.Context, eventChan chan<- StreamEvent, payload []byte) {
	defer close(eventChan)
	start := time.Now()

	send := func(evt StreamEvent) bool {
		select {
		case eventChan <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(format string, args ...any) {
		if ctx.Err() != nil {
			return
		}
		send(StreamEvent{Type: "error", Error: fmt.Sprintf(format, args...)})
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		fail("request creation failed: %v", err)
		return
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	// streaming responses may run longer than the unary timeout
	streamClient := &http.Client{Transport: c.client.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		fail("%s", describeTransportError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fail("API error (%d): %s", resp.StatusCode, truncate(string(body), 500))
		return
	}

	scanner := newServerSentEventScanner(resp.Body)
	var acc streamAccumulator

	for scanner.Scan() {
		fragment, done, err := acc.add(scanner.Text())
		if err != nil {
			fail("%v", err)
			return
		}
		if done {
			break
		}
		if fragment == "" {
			continue
		}
		if !send(StreamEvent{Type: "delta", Content: fragment}) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		fail("stream read failed: %v", err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	final := acc.response()
	if final.Model == "" {
		final.Model = c.model
	}
	final.Duration = time.Since(start)
	send(StreamEvent{Type: "done", Response: &final})
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func describeTransportError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "request timed out: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return err.Error()
	}
}

