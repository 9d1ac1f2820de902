package validators

import (
	"context"
	"strings"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/validation"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

func (s *Set) git(ctx context.Context, cfg domain.DeploymentConfig, args ...string) (command.Result, error) {
	return s.runner.Run(ctx, command.Command{
		Name:    "git",
		Args:    args,
		Dir:     s.workDir(cfg),
		Timeout: s.settings.CommandTimeout,
	})
}

func (s *Set) checkGitStatus(ctx context.Context, cfg domain.DeploymentConfig) domain.ValidationResult {
	res, err := s.git(ctx, cfg, "status", "--porcelain")
	if failed, r := s.gitFailure(domain.ValidationGitStatus, "git status", res, err); failed {
		return r
	}
	return validation.EvaluateGitStatus(res.Stdout, s.now())
}

func (s *Set) checkGitBranch(ctx context.Context, cfg domain.DeploymentConfig) domain.ValidationResult {
	res, err := s.git(ctx, cfg, "rev-parse", "--abbrev-ref", "HEAD")
	if failed, r := s.gitFailure(domain.ValidationGitBranch, "git rev-parse", res, err); failed {
		return r
	}
	return validation.EvaluateGitBranch(res.Stdout, s.settings.AllowedBranches, s.now())
}

func (s *Set) gitFailure(t domain.ValidationType, what string, res command.Result, err error) (bool, domain.ValidationResult) {
	if err != nil {
		return true, domain.NewValidationResult(t, domain.ValidationError, what+" failed", s.now(), err.Error())
	}
	if !res.Success() {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return true, domain.NewValidationResult(t, domain.ValidationError, what+" failed", s.now(), detail)
	}
	return false, domain.ValidationResult{}
}
