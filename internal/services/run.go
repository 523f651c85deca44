package services

import (
	"context"

	"github.com/payloadbench/apiserver/types"
)

// RunRepository defines persistence operations for runs.
type RunRepository interface {
	List(ctx context.Context, kind string, offset, limit int) ([]types.Run, int, error)
	Get(ctx context.Context, id int64) (types.Run, error)
	Summary(ctx context.Context) ([]types.RunSummary, error)
}

// RunService exposes the served-response history.
type RunService struct {
	repo RunRepository
}

func NewRunService(repo RunRepository) *RunService {
	return &RunService{repo: repo}
}

func (s *RunService) List(ctx context.Context, kind string, offset, limit int) ([]types.Run, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, kind, offset, limit)
}

func (s *RunService) Get(ctx context.Context, id int64) (types.Run, error) {
	return s.repo.Get(ctx, id)
}

func (s *RunService) Summary(ctx context.Context) ([]types.RunSummary, error) {
	return s.repo.Summary(ctx)
}
