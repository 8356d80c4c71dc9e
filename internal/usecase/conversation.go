package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"roleplay-coach/internal/catalog"
	"roleplay-coach/internal/domain"
	"roleplay-coach/internal/repository"
	"roleplay-coach/internal/sequence"
)

const (
	defaultMaxContext = 20
	defaultMaxMessage = 1000
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, format domain.ResponseFormat) (string, error)
}

// Moderator screens user input before it reaches the persona.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type Catalog interface {
	Persona(scenarioID, personaID string) (domain.Scenario, domain.Persona, error)
	Profiles(scenarioID string) ([]sequence.Profile, error)
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv domain.Conversation, opening domain.Turn) error
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SaveTurn(ctx context.Context, conv domain.Conversation, turn domain.Turn, prevTurns int) error
}

type ConversationService struct {
	settings        *Settings
	llm             LLMClient
	moderator       Moderator
	catalog         Catalog
	store           ConversationStore
	maxContextItems int
	maxMessageLen   int
}

type StartInput struct {
	ScenarioID string
	PersonaID  string
	Language   string
}

type SendInput struct {
	ConversationID string
	Message        string
}

// TurnOutput is the persona's side of a turn.
type TurnOutput struct {
	ConversationID string
	Reply          string
	Emotion        domain.Emotion
	EmotionReason  string
	Turn           int
	MaxTurns       int
	Completed      bool
}

// ConversationOption configures optional collaborators.
type ConversationOption func(*ConversationService)

func WithModerator(m Moderator) ConversationOption {
	return func(s *ConversationService) {
		s.moderator = m
	}
}

func WithLimits(maxContextItems, maxMessageLen int) ConversationOption {
	return func(s *ConversationService) {
		if maxContextItems > 0 {
			s.maxContextItems = maxContextItems
		}
		if maxMessageLen > 0 {
			s.maxMessageLen = maxMessageLen
		}
	}
}

func NewConversationService(settings *Settings, llm LLMClient, c Catalog, store ConversationStore, opts ...ConversationOption) (*ConversationService, error) {
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
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	s := &ConversationService{
		settings:        settings,
		llm:             llm,
		catalog:         c,
		store:           store,
		maxContextItems: defaultMaxContext,
		maxMessageLen:   defaultMaxMessage,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start opens a conversation with a persona and returns its opening line.
func (s *ConversationService) Start(ctx context.Context, in StartInput) (TurnOutput, error) {
	scenarioID := strings.TrimSpace(in.ScenarioID)
	if scenarioID == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_scenario_id", nil)
	}
	personaID := strings.TrimSpace(in.PersonaID)
	if personaID == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_persona_id", nil)
	}
	lang, err := normalizeLanguage(in.Language)
	if err != nil {
		return TurnOutput{}, newError(ErrorInvalidInput, "invalid_language", err)
	}
	scenario, persona, err := s.catalog.Persona(scenarioID, personaID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return TurnOutput{}, newError(ErrorNotFound, "scenario_or_persona_not_found", err)
		}
		return TurnOutput{}, newError(ErrorInternal, "catalog_error", err)
	}
	models, err := s.settings.Load(ctx)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	pc := promptContext{scenario: scenario, persona: persona, language: lang}
	raw, err := s.llm.Chat(ctx, models.Chat, buildOpeningMessages(pc), personaReplyFormat())
	if err != nil {
		return TurnOutput{}, upstreamError("llm", err)
	}
	opening, err := parsePersonaReply(raw)
	if err != nil {
		return TurnOutput{}, newError(ErrorUpstream, "llm_malformed_response", err)
	}

	conv := domain.Conversation{
		ID:         newUUID(),
		ScenarioID: scenario.ID,
		PersonaID:  persona.ID,
		Language:   lang,
		Status:     domain.ConversationActive,
	}
	if err := s.store.CreateConversation(ctx, conv, opening); err != nil {
		return TurnOutput{}, newError(ErrorInternal, "dynamodb_create_error", err)
	}
	slog.InfoContext(ctx, "conversation started",
		"conversation_id", conv.ID,
		"scenario_id", conv.ScenarioID,
		"persona_id", conv.PersonaID,
		"language", lang,
	)

	return TurnOutput{
		ConversationID: conv.ID,
		Reply:          opening.Reply,
		Emotion:        opening.Emotion,
		EmotionReason:  opening.EmotionReason,
		MaxTurns:       scenario.MaxTurns,
	}, nil
}

// Send delivers a user message and returns the persona's reply.
func (s *ConversationService) Send(ctx context.Context, in SendInput) (TurnOutput, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return TurnOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	conv, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TurnOutput{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return TurnOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	if conv.Status == domain.ConversationCompleted {
		return TurnOutput{}, newError(ErrorConflict, "conversation_completed", nil)
	}
	scenario, persona, err := s.catalog.Persona(conv.ScenarioID, conv.PersonaID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return TurnOutput{}, newError(ErrorNotFound, "scenario_or_persona_not_found", err)
		}
		return TurnOutput{}, newError(ErrorInternal, "catalog_error", err)
	}
	if conv.Turns >= scenario.MaxTurns {
		return TurnOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
	}

	models, err := s.settings.Load(ctx)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	if s.moderator != nil {
		flagged, err := s.moderator.Moderate(ctx, message)
		if err != nil {
			return TurnOutput{}, upstreamError("moderation", err)
		}
		if flagged {
			return TurnOutput{}, newError(ErrorInvalidMessage, "moderation_flagged", nil)
		}
	}

	history, err := s.store.GetHistory(ctx, conv.ID, s.maxContextItems)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "dynamodb_history_error", err)
	}

	pc := promptContext{scenario: scenario, persona: persona, language: conv.Language}
	raw, err := s.llm.Chat(ctx, models.Chat, buildConversationMessages(pc, history, message), personaReplyFormat())
	if err != nil {
		return TurnOutput{}, upstreamError("llm", err)
	}
	turn, err := parsePersonaReply(raw)
	if err != nil {
		return TurnOutput{}, newError(ErrorUpstream, "llm_malformed_response", err)
	}
	turn.Message = message

	prev := conv.Turns
	conv.Turns = prev + 1
	if conv.Turns >= scenario.MaxTurns {
		conv.Status = domain.ConversationCompleted
	}
	if err := s.store.SaveTurn(ctx, conv, turn, prev); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return TurnOutput{}, newError(ErrorConflict, "concurrent_turn", err)
		}
		return TurnOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}

	return TurnOutput{
		ConversationID: conv.ID,
		Reply:          turn.Reply,
		Emotion:        turn.Emotion,
		EmotionReason:  turn.EmotionReason,
		Turn:           conv.Turns,
		MaxTurns:       scenario.MaxTurns,
		Completed:      conv.Status == domain.ConversationCompleted,
	}, nil
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
