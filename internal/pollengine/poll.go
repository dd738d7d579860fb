// Package pollengine repeatedly executes a read operation until a terminal
// signature matches, the attempt budget runs out, or the context is
// canceled. It is the only component that sleeps, and every sleep is
// context-cancelable so an abort takes effect before the next attempt.
package pollengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/freedeaths/tidbcloud-skills/internal/condition"
	"github.com/freedeaths/tidbcloud-skills/internal/execadapter"
	"github.com/freedeaths/tidbcloud-skills/internal/telemetry"
)

// Signature is one terminal condition of a polling run. Conditions see the
// latest outcome as `body` and `status`, e.g. `body.state == "ACTIVE"` or
// `status == 404`.
type Signature struct {
	Name      string `yaml:"name" json:"name"`
	Condition string `yaml:"condition" json:"condition"`
	// Success marks the signature as the desired terminal; a matched
	// non-success signature ends the poll conclusively but unfavorably.
	Success bool `yaml:"success" json:"success"`
}

// Config bounds one polling run.
type Config struct {
	Interval        time.Duration
	MaxAttempts     int
	TransientBudget int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	if c.TransientBudget <= 0 {
		c.TransientBudget = 3
	}
	return c
}

// Result is the conclusive end of a polling run.
type Result struct {
	Attempts  int
	Outcome   execadapter.Outcome
	Signature string
	Success   bool
}

// Engine drives polling runs against one SUT.
type Engine struct {
	sut     string
	adapter execadapter.Adapter
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New builds a polling engine. metrics may be nil.
func New(sut string, adapter execadapter.Adapter, logger *slog.Logger, metrics *telemetry.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{sut: sut, adapter: adapter, logger: logger, metrics: metrics}
}

type compiledSignature struct {
	Signature
	program *condition.Compiled
}

// Poll executes req until a signature matches. Signatures are evaluated in
// order; the first match wins. A matched signature returns a nil error even
// when it is a failure signature: the poll itself concluded. Exhausting
// MaxAttempts or the transient budget returns an error, as does context
// cancellation.
func (e *Engine) Poll(ctx context.Context, operationID string, req execadapter.Request, signatures []Signature, cfg Config) (Result, error) {
	if len(signatures) == 0 {
		return Result{}, fmt.Errorf("poll %s: no terminal signatures", operationID)
	}
	compiled := make([]compiledSignature, len(signatures))
	for i, sig := range signatures {
		program, err := condition.Compile(sig.Condition)
		if err != nil {
			return Result{}, fmt.Errorf("poll %s: signature %q: %w", operationID, sig.Name, err)
		}
		compiled[i] = compiledSignature{Signature: sig, program: program}
	}
	cfg = cfg.withDefaults()

	var last execadapter.Outcome
	transientFailures := 0
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, cfg.Interval); err != nil {
				e.recordAttempts(operationID, attempt-1)
				return Result{Attempts: attempt - 1, Outcome: last}, err
			}
		}

		outcome, err := e.adapter.Execute(ctx, operationID, req)
		if err != nil {
			e.recordAttempts(operationID, attempt)
			return Result{Attempts: attempt, Outcome: last}, fmt.Errorf("poll %s: %w", operationID, err)
		}
		last = outcome

		if outcome.Class == execadapter.FailureTransient {
			transientFailures++
			e.logger.Warn("poll attempt hit transient failure",
				"operation", operationID, "attempt", attempt,
				"transient_failures", transientFailures, "error", outcome.Error)
			if transientFailures > cfg.TransientBudget {
				e.recordAttempts(operationID, attempt)
				return Result{Attempts: attempt, Outcome: outcome},
					fmt.Errorf("poll %s: transient failure budget exhausted after %d attempts: %s", operationID, attempt, outcome.Error)
			}
			continue
		}

		cctx := &condition.Context{Body: outcome.Body, Status: outcome.StatusCode}
		for _, sig := range compiled {
			matched, evalErr := condition.EvalBool(sig.program, cctx)
			if evalErr != nil {
				// Bodies change shape across lifecycle phases; a signature
				// that cannot evaluate yet simply has not matched.
				e.logger.Debug("signature not evaluable", "operation", operationID, "signature", sig.Name, "error", evalErr)
				continue
			}
			if !matched {
				continue
			}
			e.recordAttempts(operationID, attempt)
			e.logger.Info("poll concluded",
				"operation", operationID, "signature", sig.Name,
				"attempts", attempt, "success", sig.Success)
			return Result{Attempts: attempt, Outcome: outcome, Signature: sig.Name, Success: sig.Success}, nil
		}
	}

	e.recordAttempts(operationID, cfg.MaxAttempts)
	return Result{Attempts: cfg.MaxAttempts, Outcome: last},
		fmt.Errorf("poll %s: max retries exceeded after %d attempts", operationID, cfg.MaxAttempts)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) recordAttempts(operationID string, attempts int) {
	if e.metrics != nil {
		e.metrics.RecordPoll(e.sut, operationID, attempts)
	}
}
