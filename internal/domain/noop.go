package domain

import "context"

// NoOpLauncher pretends to create domains, for dry runs and tests.
type NoOpLauncher struct {
	ID DomainID
}

func NewNoOpLauncher(id DomainID) *NoOpLauncher {
	return &NoOpLauncher{ID: id}
}

func (l *NoOpLauncher) CreateDomain(ctx context.Context, cfg DomainConfig, start bool) (DomainID, error) {
	if cfg.Name == "" {
		return 0, &CreateError{Code: 1, Err: ErrInvalidConfig}
	}
	return l.ID, nil
}
