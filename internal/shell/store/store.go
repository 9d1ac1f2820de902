package store

import (
	"context"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for deployment history.
type Store interface {
	// Records are keyed by deployment ID; lists are newest first.
	CreateDeploymentLog(ctx context.Context, log *domain.DeploymentLog) error
	GetDeploymentLog(ctx context.Context, id string) (*domain.DeploymentLog, error)
	UpdateDeploymentLog(ctx context.Context, log *domain.DeploymentLog) error
	DeleteDeploymentLog(ctx context.Context, id string) error
	ListDeploymentLogs(ctx context.Context, opts ListOptions) ([]domain.DeploymentLog, error)
	ListDeploymentLogsByConfig(ctx context.Context, configID string, opts ListOptions) ([]domain.DeploymentLog, error)

	// WithTx runs fn inside a transaction. Returning an error rolls back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// =============================================================================
// List Options
// =============================================================================

// Page size bounds for history listings.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ListOptions filters and pages history listings.
type ListOptions struct {
	Limit    int
	Offset   int
	Status   domain.DeploymentStatus // Empty matches every status
	Platform domain.HostingPlatform  // Empty matches every platform
}

// DefaultListOptions returns the first page of every record.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: DefaultListLimit}
}

// Normalize clamps Limit to [1, MaxListLimit], defaulting a non-positive
// value, and floors Offset at zero.
func (o ListOptions) Normalize() ListOptions {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultListLimit
	case o.Limit > MaxListLimit:
		o.Limit = MaxListLimit
	}
	o.Offset = max(o.Offset, 0)
	return o
}
