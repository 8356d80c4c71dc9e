package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"roleplay-coach/internal/catalog"
	"roleplay-coach/internal/domain"
	"roleplay-coach/internal/repository"
)

type FeedbackStore interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	GetFeedback(ctx context.Context, conversationID string) (domain.Feedback, error)
	SaveFeedback(ctx context.Context, fb domain.Feedback) error
	GetSequenceAnalysis(ctx context.Context, conversationID string) (domain.SequenceAnalysis, error)
	CompleteConversation(ctx context.Context, conversationID string) error
}

type FeedbackService struct {
	settings *Settings
	llm      LLMClient
	catalog  Catalog
	store    FeedbackStore
}

type FeedbackInput struct {
	ConversationID string
}

func NewFeedbackService(settings *Settings, llm LLMClient, c Catalog, store FeedbackStore) (*FeedbackService, error) {
	if settings == nil {
		return nil, errors.New("usecase: settings must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if c == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: feedback store must not be nil")
	}
	return &FeedbackService{settings: settings, llm: llm, catalog: c, store: store}, nil
}

// Generate returns the feedback report for a conversation, creating it on the
// first call. Later calls return the stored report unchanged.
func (s *FeedbackService) Generate(ctx context.Context, in FeedbackInput) (domain.Feedback, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return domain.Feedback{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}

	existing, err := s.store.GetFeedback(ctx, convID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return domain.Feedback{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}

	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Feedback{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return domain.Feedback{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	scenario, persona, err := s.catalog.Persona(conv.ScenarioID, conv.PersonaID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return domain.Feedback{}, newError(ErrorNotFound, "scenario_or_persona_not_found", err)
		}
		return domain.Feedback{}, newError(ErrorInternal, "catalog_error", err)
	}

	history, err := s.store.GetHistory(ctx, convID, 0)
	if err != nil {
		return domain.Feedback{}, newError(ErrorInternal, "dynamodb_history_error", err)
	}
	if userTurns(history) == 0 {
		return domain.Feedback{}, newError(ErrorInvalidInput, "no_user_turns", nil)
	}

	models, err := s.settings.Load(ctx)
	if err != nil {
		return domain.Feedback{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	pc := promptContext{scenario: scenario, persona: persona, language: conv.Language}
	raw, err := s.llm.Chat(ctx, models.Feedback, buildFeedbackMessages(pc, history), feedbackFormat())
	if err != nil {
		return domain.Feedback{}, upstreamError("llm", err)
	}
	fb, err := parseFeedback(raw)
	if err != nil {
		return domain.Feedback{}, newError(ErrorUpstream, "llm_malformed_response", err)
	}
	fb.ConversationID = convID
	fb.CreatedAt = now()

	analysis, err := s.store.GetSequenceAnalysis(ctx, convID)
	switch {
	case err == nil:
		fb.Sequence = &analysis
		fb.Strengths = cleanList(append(fb.Strengths, analysis.Strengths...))
		fb.Improvements = cleanList(append(fb.Improvements, analysis.Improvements...))
	case !errors.Is(err, repository.ErrNotFound):
		slog.WarnContext(ctx, "sequence analysis unavailable", "conversation_id", convID, "err", err)
	}

	if err := s.store.SaveFeedback(ctx, fb); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return domain.Feedback{}, newError(ErrorInternal, "dynamodb_write_error", err)
		}
		// Another request stored its report first.
		stored, getErr := s.store.GetFeedback(ctx, convID)
		if getErr != nil {
			return domain.Feedback{}, newError(ErrorInternal, "dynamodb_read_error", getErr)
		}
		return stored, nil
	}

	if conv.Status != domain.ConversationCompleted {
		if err := s.store.CompleteConversation(ctx, convID); err != nil {
			slog.WarnContext(ctx, "failed to mark conversation completed", "conversation_id", convID, "err", err)
		}
	}
	slog.InfoContext(ctx, "feedback generated", "conversation_id", convID, "overall_score", fb.OverallScore)
	return fb, nil
}

func userTurns(history []domain.Turn) int {
	n := 0
	for _, t := range history {
		if strings.TrimSpace(t.Message) != "" {
			n++
		}
	}
	return n
}
