package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
)

// RetryPolicy decides how often and how patiently a failed agent call is repeated
type RetryPolicy struct {
	MaxAttempts int
	// Delays[i] is the wait before attempt i+2; the last entry is reused
	Delays []time.Duration
	// TimeoutDelays replaces Delays after a TIMEOUT failure
	TimeoutDelays []time.Duration
}

// DefaultRetryPolicy matches the defaults of setting.yaml
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		Delays:        []time.Duration{time.Second, 3 * time.Second, 5 * time.Second},
		TimeoutDelays: []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second},
	}
}

// Delay returns the wait after the given failed attempt (1-based)
func (p RetryPolicy) Delay(attempt int, c execution.RetryClassification) time.Duration {
	delays := p.Delays
	if c == execution.RetryTimeout && len(p.TimeoutDelays) > 0 {
		delays = p.TimeoutDelays
	}
	if len(delays) == 0 {
		return 0
	}
	if attempt-1 < len(delays) {
		return delays[attempt-1]
	}
	return delays[len(delays)-1]
}

// RetryService runs agent calls under a RetryPolicy
type RetryService struct {
	policy  RetryPolicy
	metrics output.MetricsRecorder
	logger  app.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetryService creates a retry service. metrics and logger may be nil.
func NewRetryService(policy RetryPolicy, metrics output.MetricsRecorder, logger app.Logger) *RetryService {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if metrics == nil {
		metrics = output.NopMetrics{}
	}
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &RetryService{policy: policy, metrics: metrics, logger: logger, sleep: sleepContext}
}

// Execute calls agent until it succeeds, fails with NONE, or the policy is
// exhausted. The last result is always returned. The error is
// execution.ErrRetriesExhausted when retryable failures persisted,
// execution.ErrAgentFailed for a non-retryable failure, or the context error.
func (s *RetryService) Execute(ctx context.Context, agent output.AgentGateway, req output.AgentRequest) (execution.Result, error) {
	var last execution.Result

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		last = agent.Execute(ctx, req)
		s.metrics.ObserveAttempt(last.RetryClassification)

		if last.Success {
			if attempt > 1 {
				s.logger.Info("workflow=%s phase=%s agent call succeeded on attempt %d", req.WorkflowID, req.Phase, attempt)
			}
			return last, nil
		}
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		if !last.ShouldRetry() {
			return last, execution.Wrap(execution.ErrAgentFailed, "%s", firstLine(last.Output))
		}
		if attempt == s.policy.MaxAttempts {
			break
		}

		delay := s.policy.Delay(attempt, last.RetryClassification)
		s.logger.Warn("workflow=%s phase=%s attempt %d/%d failed (%s), retrying in %s",
			req.WorkflowID, req.Phase, attempt, s.policy.MaxAttempts, last.RetryClassification, delay)
		if err := s.sleep(ctx, delay); err != nil {
			return last, err
		}
	}

	return last, execution.Wrap(execution.ErrRetriesExhausted, "%d attempts, last failure %s: %s",
		s.policy.MaxAttempts, last.RetryClassification, firstLine(last.Output))
}

// ExecuteOnce calls agent a single time and reports the attempt. Used by
// phases whose agent call must not be repeated.
func (s *RetryService) ExecuteOnce(ctx context.Context, agent output.AgentGateway, req output.AgentRequest) (execution.Result, error) {
	res := agent.Execute(ctx, req)
	s.metrics.ObserveAttempt(res.RetryClassification)
	if res.Success {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, execution.Wrap(execution.ErrAgentFailed, "%s: %s", res.RetryClassification, firstLine(res.Output))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
