package validators

import (
	"context"
	"os"
	"path/filepath"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/validation"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

func (s *Set) checkDependencies(ctx context.Context, cfg domain.DeploymentConfig) domain.ValidationResult {
	dir := s.workDir(cfg)
	probe := validation.DependencyProbe{
		HasManifest:      exists(filepath.Join(dir, "package.json")),
		ModulesInstalled: exists(filepath.Join(dir, "node_modules")),
	}
	for _, l := range validation.Lockfiles {
		if exists(filepath.Join(dir, l.Name)) {
			probe.Lockfile = l.Name
			break
		}
	}

	if probe.HasManifest && probe.ModulesInstalled {
		pm := validation.ManagerFor(probe.Lockfile)
		res, err := s.runner.Run(ctx, command.Command{
			Name:    pm,
			Args:    []string{"ls", "--depth=0"},
			Dir:     dir,
			Timeout: s.settings.CommandTimeout,
		})
		if err != nil {
			return domain.NewValidationResult(domain.ValidationDependencies, domain.ValidationError,
				"unable to verify installed packages", s.now(), err.Error())
		}
		probe.ListRan = true
		probe.ListExitCode = res.ExitCode
		probe.ListOutput = res.Output()
	}

	return validation.EvaluateDependencies(probe, s.now())
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
