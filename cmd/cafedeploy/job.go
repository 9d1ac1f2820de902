package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// Job Files
// =============================================================================

// LoadJob reads a YAML job file into a DeploymentConfig. ${VAR} references
// are expanded from the process environment before parsing so credentials
// can stay out of the file. A missing id is derived from the name.
func LoadJob(path string) (domain.DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.DeploymentConfig{}, fmt.Errorf("read job file: %w", err)
	}
	cfg, err := ParseJob(data)
	if err != nil {
		return domain.DeploymentConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.WorkDir != "" && !filepath.IsAbs(cfg.WorkDir) {
		cfg.WorkDir = filepath.Join(filepath.Dir(path), cfg.WorkDir)
	}
	return cfg, nil
}

// ParseJob parses job file content. Unknown keys are rejected.
func ParseJob(data []byte) (domain.DeploymentConfig, error) {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var cfg domain.DeploymentConfig
	if err := dec.Decode(&cfg); err != nil {
		return domain.DeploymentConfig{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	platform, err := domain.ParsePlatform(string(cfg.Platform))
	if err != nil {
		return domain.DeploymentConfig{}, err
	}
	cfg.Platform = platform

	if cfg.ID == "" {
		cfg.ID = domain.Slugify(cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return domain.DeploymentConfig{}, err
	}
	return cfg, nil
}

// =============================================================================
// Job Set
// =============================================================================

// JobSet is the set of job files the server offers through the API.
type JobSet struct {
	mu   sync.RWMutex
	jobs map[string]domain.DeploymentConfig
}

// LoadJobDir loads every .yaml and .yml file in dir. A missing directory
// yields an empty set.
func LoadJobDir(dir string) (*JobSet, error) {
	set := &JobSet{jobs: make(map[string]domain.DeploymentConfig)}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read jobs dir: %w", err)
	}

	sources := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		cfg, err := LoadJob(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := sources[cfg.ID]; dup {
			return nil, fmt.Errorf("%w: job id %q defined in both %s and %s", domain.ErrInvalidConfig, cfg.ID, prev, path)
		}
		sources[cfg.ID] = path
		set.jobs[cfg.ID] = cfg
	}
	return set, nil
}

// Lookup returns the job with id.
func (s *JobSet) Lookup(id string) (domain.DeploymentConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.jobs[id]
	if !ok {
		return domain.DeploymentConfig{}, false
	}
	return cfg.Clone(), true
}

// Configs returns every job.
func (s *JobSet) Configs() []domain.DeploymentConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DeploymentConfig, 0, len(s.jobs))
	for _, cfg := range s.jobs {
		out = append(out, cfg.Clone())
	}
	return out
}

// Len returns the number of jobs.
func (s *JobSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
