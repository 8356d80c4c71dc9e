package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"roleplay-coach/internal/catalog"
	"roleplay-coach/internal/domain"
	"roleplay-coach/internal/repository"
	"roleplay-coach/internal/sequence"
)

type SequenceStore interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	SaveSequenceAnalysis(ctx context.Context, conversationID string, a domain.SequenceAnalysis) error
}

type SequenceService struct {
	catalog Catalog
	store   SequenceStore
}

type SequenceInput struct {
	ScenarioID     string
	ConversationID string
	Selections     []sequence.Selection
}

func NewSequenceService(c Catalog, store SequenceStore) (*SequenceService, error) {
	if c == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: sequence store must not be nil")
	}
	return &SequenceService{catalog: c, store: store}, nil
}

// Analyze scores a persona selection order. When a conversation id is given
// the analysis is stored with that conversation and feeds its feedback report.
func (s *SequenceService) Analyze(ctx context.Context, in SequenceInput) (domain.SequenceAnalysis, error) {
	scenarioID := strings.TrimSpace(in.ScenarioID)
	convID := strings.TrimSpace(in.ConversationID)

	if convID != "" {
		conv, err := s.store.GetConversation(ctx, convID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.SequenceAnalysis{}, newError(ErrorNotFound, "conversation_not_found", err)
			}
			return domain.SequenceAnalysis{}, newError(ErrorInternal, "dynamodb_read_error", err)
		}
		switch {
		case scenarioID == "":
			scenarioID = conv.ScenarioID
		case scenarioID != conv.ScenarioID:
			return domain.SequenceAnalysis{}, newError(ErrorInvalidInput, "scenario_mismatch", nil)
		}
	}
	if scenarioID == "" {
		return domain.SequenceAnalysis{}, newError(ErrorInvalidInput, "missing_scenario_id", nil)
	}

	profiles, err := s.catalog.Profiles(scenarioID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return domain.SequenceAnalysis{}, newError(ErrorNotFound, "scenario_not_found", err)
		}
		return domain.SequenceAnalysis{}, newError(ErrorInternal, "catalog_error", err)
	}

	a, err := sequence.Analyze(profiles, in.Selections)
	if err != nil {
		return domain.SequenceAnalysis{}, sequenceError(err)
	}
	out := toSequenceAnalysis(scenarioID, a)
	out.CreatedAt = now()

	if convID != "" {
		if err := s.store.SaveSequenceAnalysis(ctx, convID, out); err != nil {
			return domain.SequenceAnalysis{}, newError(ErrorInternal, "dynamodb_write_error", err)
		}
	}
	slog.InfoContext(ctx, "sequence analyzed",
		"scenario_id", scenarioID,
		"conversation_id", convID,
		"overall_score", out.OverallScore,
	)
	return out, nil
}

func sequenceError(err error) *Error {
	switch {
	case errors.Is(err, sequence.ErrNoSelections):
		return newError(ErrorInvalidInput, "empty_selection", err)
	case errors.Is(err, sequence.ErrUnknownPersona):
		return newError(ErrorInvalidInput, "unknown_persona", err)
	case errors.Is(err, sequence.ErrDuplicatePersona):
		return newError(ErrorInvalidInput, "duplicate_persona", err)
	case errors.Is(err, sequence.ErrDuplicateOrder):
		return newError(ErrorInvalidInput, "duplicate_order", err)
	case errors.Is(err, sequence.ErrInvalidOrder):
		return newError(ErrorInvalidInput, "invalid_order", err)
	default:
		return newError(ErrorInternal, "sequence_error", err)
	}
}

func toSequenceAnalysis(scenarioID string, a sequence.Analysis) domain.SequenceAnalysis {
	ranking := make([]domain.RankedPerson, len(a.Ranking))
	for i, r := range a.Ranking {
		ranking[i] = domain.RankedPerson{
			PersonaID: r.PersonaID,
			Name:      r.Name,
			Score:     r.Score,
			Rank:      r.Rank,
		}
	}
	return domain.SequenceAnalysis{
		ScenarioID:     scenarioID,
		SelectionOrder: a.SelectionOrder,
		OptimalOrder:   a.OptimalOrder,
		Ranking:        ranking,
		Correlation:    a.Correlation,
		OrderScore:     a.OrderScore,
		ReasoningScore: a.ReasoningScore,
		OverallScore:   a.OverallScore,
		Strengths:      a.Strengths,
		Improvements:   a.Improvements,
	}
}
