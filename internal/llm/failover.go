package llm

import (
	"context"
	"strings"

	"github.com/soyeahso/querydesk/internal/logging"
)

// FailoverClient tries the primary provider first, then the fallbacks, when
// a call fails in a way another provider might not (rate limits, 5xx,
// timeouts). It satisfies Client.
type FailoverClient struct {
	registry  *Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a failover wrapper over the registry.
func NewFailoverClient(registry *Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("llm.failover"),
	}
}

// Name returns the primary provider name.
func (f *FailoverClient) Name() string { return f.primary }

func (f *FailoverClient) chain() []string {
	return append([]string{f.primary}, f.fallbacks...)
}

// Chat tries each provider in order until one succeeds or a failure is
// not worth retrying elsewhere.
func (f *FailoverClient) Chat(ctx context.Context, req ChatRequest) ChatResponse {
	last := Failure("no LLM provider configured")
	for _, name := range f.chain() {
		client, err := f.registry.Resolve(name)
		if err != nil {
			f.log.Debug().Str("provider", name).Err(err).Msg("no provider, skipping")
			continue
		}

		resp := client.Chat(ctx, req)
		if resp.Success {
			return resp
		}
		last = resp

		if ctx.Err() != nil || !isRetryable(resp) {
			return resp
		}
		f.log.Warn().
			Str("provider", name).
			Str("error", resp.Error).
			Msg("retryable error, trying next provider")
	}
	return last
}

// Stream opens a stream on the first provider that accepts the request.
func (f *FailoverClient) Stream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	var lastErr error
	for _, name := range f.chain() {
		client, err := f.registry.Resolve(name)
		if err != nil {
			lastErr = err
			continue
		}
		ch, err := client.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		f.log.Warn().Str("provider", name).Err(err).Msg("stream open failed, trying next provider")
	}
	return nil, lastErr
}

// isRetryable checks if the failure suggests trying another provider.
func isRetryable(resp ChatResponse) bool {
	if resp.Success {
		return false
	}
	switch resp.StatusCode {
	case 401, 403, 429, 500, 502, 503, 504, 529:
		return true
	}
	msg := strings.ToLower(resp.Error)
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "request failed")
}
