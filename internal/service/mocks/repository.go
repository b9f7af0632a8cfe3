package mocks

import (
	"context"
	"errors"
	"time"

	"github.com/godilite/qa-workflow/internal/repository"
	"github.com/godilite/qa-workflow/internal/repository/models"
)

// MockCorpusRepository is a mock implementation of the CorpusRepository interface.
type MockCorpusRepository struct {
	AgentsFunc      func(ctx context.Context, domainID string) ([]models.Agent, error)
	DomainStatsFunc func(ctx context.Context, domainID string) (*models.DomainStats, error)
	OrgStrategyFunc func(ctx context.Context, domainID string) (*models.OrgStrategy, error)
}

// Agents implements the CorpusRepository interface
func (m *MockCorpusRepository) Agents(ctx context.Context, domainID string) ([]models.Agent, error) {
	if m.AgentsFunc != nil {
		return m.AgentsFunc(ctx, domainID)
	}
	return nil, nil
}

// DomainStats implements the CorpusRepository interface
func (m *MockCorpusRepository) DomainStats(ctx context.Context, domainID string) (*models.DomainStats, error) {
	if m.DomainStatsFunc != nil {
		return m.DomainStatsFunc(ctx, domainID)
	}
	return nil, repository.ErrNotFound
}

// OrgStrategy implements the CorpusRepository interface
func (m *MockCorpusRepository) OrgStrategy(ctx context.Context, domainID string) (*models.OrgStrategy, error) {
	if m.OrgStrategyFunc != nil {
		return m.OrgStrategyFunc(ctx, domainID)
	}
	return nil, repository.ErrNotFound
}

// MockSimilarityFinder is a mock implementation of the SimilarityFinder interface.
type MockSimilarityFinder struct {
	FindSimilarFunc func(ctx context.Context, domainID, text string, limit int) ([]models.Interaction, error)
}

// FindSimilar implements the SimilarityFinder interface
func (m *MockSimilarityFinder) FindSimilar(ctx context.Context, domainID, text string, limit int) ([]models.Interaction, error) {
	if m.FindSimilarFunc != nil {
		return m.FindSimilarFunc(ctx, domainID, text, limit)
	}
	return nil, errors.New("FindSimilarFunc not implemented")
}

// MockQualityRepository is a mock implementation of the QualityRepository interface.
type MockQualityRepository struct {
	InputsFunc         func(ctx context.Context, domainID string, start, end time.Time) (models.QualityInputs, error)
	LatestSnapshotFunc func(ctx context.Context, domainID string) (*models.QualitySnapshot, error)
	SaveSnapshotFunc   func(ctx context.Context, s *models.QualitySnapshot) error
}

// Inputs implements the QualityRepository interface
func (m *MockQualityRepository) Inputs(ctx context.Context, domainID string, start, end time.Time) (models.QualityInputs, error) {
	if m.InputsFunc != nil {
		return m.InputsFunc(ctx, domainID, start, end)
	}
	return models.QualityInputs{}, errors.New("InputsFunc not implemented")
}

// LatestSnapshot implements the QualityRepository interface
func (m *MockQualityRepository) LatestSnapshot(ctx context.Context, domainID string) (*models.QualitySnapshot, error) {
	if m.LatestSnapshotFunc != nil {
		return m.LatestSnapshotFunc(ctx, domainID)
	}
	return nil, repository.ErrNotFound
}

// SaveSnapshot implements the QualityRepository interface
func (m *MockQualityRepository) SaveSnapshot(ctx context.Context, s *models.QualitySnapshot) error {
	if m.SaveSnapshotFunc != nil {
		return m.SaveSnapshotFunc(ctx, s)
	}
	return errors.New("SaveSnapshotFunc not implemented")
}
