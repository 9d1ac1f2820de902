package validators

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/retry"
	"github.com/artpar/cafedeploy/internal/core/validation"
)

func (s *Set) checkServices(ctx context.Context) domain.ValidationResult {
	outcomes := make([]validation.ServiceOutcome, 0, len(s.settings.Services))
	for _, svc := range s.settings.Services {
		outcomes = append(outcomes, s.probeService(ctx, svc))
	}
	return validation.EvaluateServices(outcomes, s.now())
}

// probeService GETs svc.URL under the service retry policy. Each attempt is
// bounded by the service timeout.
func (s *Set) probeService(ctx context.Context, svc ServiceConfig) validation.ServiceOutcome {
	policy := s.settings.ServiceRetry
	policy.Timeout = svc.Timeout
	if policy.Timeout <= 0 {
		policy.Timeout = defaultServiceTimeout
	}

	out := validation.ServiceOutcome{Name: svc.Name, URL: svc.URL, Required: svc.Required}
	if out.Name == "" {
		out.Name = svc.URL
	}

	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.URL, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		out.Status = resp.StatusCode
		out.Latency = time.Since(start)
		if !validation.ReachableStatus(resp.StatusCode) {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})

	out.Attempts = attempts
	if err != nil {
		out.Error = err.Error()
		s.logger.Debug("service unreachable", "service", out.Name, "required", svc.Required, "error", err)
		return out
	}
	out.Reachable = true
	return out
}
