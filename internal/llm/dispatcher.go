package llm

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Dispatcher issues generation requests against a primary provider and falls
// back to a secondary one, with bounded retries and exponential backoff per
// provider. Exhausting every provider is not an error: the caller marks the
// unit of work failed and the pipeline moves on.
type Dispatcher struct {
	primary    Client
	fallback   Client
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger

	// Injectable for tests.
	sleep  func(time.Duration)
	jitter func() float64
}

// DispatcherOptions configures retry behavior.
type DispatcherOptions struct {
	// MaxRetries is the number of attempts per provider. Defaults to 3.
	MaxRetries int
	// BaseDelay is the first backoff interval. Defaults to 2s.
	BaseDelay time.Duration
}

// NewDispatcher creates a dispatcher. fallback may be nil.
func NewDispatcher(primary, fallback Client, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	return &Dispatcher{
		primary:    primary,
		fallback:   fallback,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		logger:     logger,
		sleep:      time.Sleep,
		jitter:     rand.Float64,
	}
}

// Generate produces a result for req, trying the primary provider first and
// then the fallback. Returns nil when every configured provider exhausted its
// retries; the failure details have already been logged.
func (d *Dispatcher) Generate(ctx context.Context, req GenerationRequest) *GenerationResult {
	result := d.generateWithProvider(ctx, d.primary, req)

	if result == nil && d.fallback != nil {
		d.logger.Warn("primary provider failed, trying fallback",
			zap.String("primary", d.primary.Provider()),
			zap.String("fallback", d.fallback.Provider()))
		result = d.generateWithProvider(ctx, d.fallback, req)
	}

	if result != nil && req.JSONMode {
		d.validateJSON(result)
	}
	return result
}

// generateWithProvider runs the per-provider retry loop. Backoff before
// attempt k (k >= 2) is base*2^(k-2) plus 0-10% jitter.
func (d *Dispatcher) generateWithProvider(ctx context.Context, client Client, req GenerationRequest) *GenerationResult {
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		result, err := client.Generate(ctx, req)
		if err == nil {
			return result
		}

		d.logger.Warn("generation attempt failed",
			zap.String("provider", client.Provider()),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", d.maxRetries),
			zap.Error(err))

		if attempt == d.maxRetries {
			d.logger.Error("all attempts with provider failed",
				zap.String("provider", client.Provider()),
				zap.Int("attempts", d.maxRetries))
			return nil
		}
		if ctx.Err() != nil {
			d.logger.Warn("generation cancelled", zap.Error(ctx.Err()))
			return nil
		}

		delay := d.baseDelay * (1 << uint(attempt-1))
		wait := delay + time.Duration(0.1*d.jitter()*float64(delay))
		d.logger.Info("retrying after backoff",
			zap.String("provider", client.Provider()),
			zap.Duration("wait", wait))
		d.sleep(wait)
	}
	return nil
}

// validateJSON opportunistically checks that a JSON-mode response parses.
// Advisory only: providers may wrap structured output in surrounding prose.
func (d *Dispatcher) validateJSON(result *GenerationResult) {
	text := strings.TrimSpace(result.Text)
	looksStructured := (strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")) ||
		(strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"))
	if !looksStructured {
		return
	}
	if !json.Valid([]byte(text)) {
		d.logger.Warn("requested JSON output but received invalid JSON",
			zap.String("provider", result.Provider))
	}
}
