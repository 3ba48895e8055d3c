// Package completion invokes the generative completion service with bounded
// retry and translates every failure into a safe, user-presentable result.
package completion

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aditya/relaychat/pkg/history"
)

const (
	// DefaultMaxRetries caps retries after the first attempt.
	DefaultMaxRetries = 2

	// DefaultBackoffBase is the first retry delay; it doubles per attempt.
	DefaultBackoffBase = time.Second
)

// Result is the outcome of a completion cycle. A degraded result is a
// successfully completed cycle whose content is a fixed fallback message
// rather than generated text.
type Result struct {
	Text     string
	Degraded bool
	Blocked  bool
	Kind     FailureKind
	Attempts int
}

// Config holds gateway configuration.
type Config struct {
	Model         string
	FallbackModel string // optional cheaper model tried once when retries exhaust on rate limits
	MaxRetries    int
	BackoffBase   time.Duration
	Caller        Caller // nil means the capability is not configured
	Logger        zerolog.Logger
}

// Gateway calls the completion capability. Complete never returns an error;
// all failure paths yield a degraded Result.
type Gateway struct {
	model         string
	fallbackModel string
	maxRetries    int
	backoffBase   time.Duration
	caller        Caller
	logger        zerolog.Logger
}

// New creates a completion gateway.
func New(cfg Config) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}

	return &Gateway{
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		maxRetries:    cfg.MaxRetries,
		backoffBase:   cfg.BackoffBase,
		caller:        cfg.Caller,
		logger:        cfg.Logger,
	}
}

// Configured reports whether the completion capability is usable.
func (g *Gateway) Configured() bool {
	return g.caller != nil
}

// Model returns the primary model name.
func (g *Gateway) Model() string {
	return g.model
}

// Complete executes the completion call over the reconciled history and the
// current input.
func (g *Gateway) Complete(ctx context.Context, turns []history.Turn, input string) Result {
	if g.caller == nil {
		g.logger.Error().Msg("Completion capability not configured, cannot process message")
		return g.degrade(FailureNotConfigured, 0)
	}

	attempts := 0
	var kind FailureKind

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base, base*2, base*4, ...
			delay := g.backoffBase << (attempt - 1)
			g.logger.Info().
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Str("kind", kind.String()).
				Msg("Retrying completion call")

			select {
			case <-ctx.Done():
				return g.degrade(FailureTransient, attempts)
			case <-time.After(delay):
			}
		}

		reply, err := g.caller.Generate(ctx, g.model, turns, input)
		attempts++

		if err != nil {
			kind = Classify(err)
			g.logger.Warn().
				Err(err).
				Str("model", g.model).
				Str("kind", kind.String()).
				Int("attempt", attempts).
				Msg("Completion call failed")

			if !kind.Retryable() {
				return g.degrade(kind, attempts)
			}
			continue
		}

		if res, ok := g.resolve(reply, attempts); ok {
			return res
		}
		// Safety blocks and empty replies are never retried.
		if reply != nil && reply.Blocked {
			return g.degrade(FailureBlocked, attempts)
		}
		return g.degrade(FailureMalformed, attempts)
	}

	// Retry cap reached. Rate limits get one shot on the cheaper model
	// before giving up.
	if kind == FailureRateLimited && g.fallbackModel != "" {
		g.logger.Info().
			Str("model", g.fallbackModel).
			Msg("Retries exhausted, downgrading model")

		reply, err := g.caller.Generate(ctx, g.fallbackModel, turns, input)
		attempts++
		if err == nil {
			if res, ok := g.resolve(reply, attempts); ok {
				return res
			}
			if reply != nil && reply.Blocked {
				return g.degrade(FailureBlocked, attempts)
			}
			return g.degrade(FailureMalformed, attempts)
		}
		kind = Classify(err)
	}

	return g.degrade(kind, attempts)
}

// resolve turns a successful reply into a Result; ok is false when the reply
// was blocked or empty.
func (g *Gateway) resolve(reply *Reply, attempts int) (Result, bool) {
	if reply == nil || reply.Blocked || reply.Text == "" {
		if reply != nil && reply.Blocked {
			g.logger.Warn().
				Str("block_reason", reply.BlockReason).
				Msg("Completion response withheld by safety filtering")
		}
		return Result{}, false
	}
	return Result{Text: reply.Text, Attempts: attempts}, true
}

func (g *Gateway) degrade(kind FailureKind, attempts int) Result {
	return Result{
		Text:     kind.UserMessage(),
		Degraded: true,
		Blocked:  kind == FailureBlocked,
		Kind:     kind,
		Attempts: attempts,
	}
}
