// Package handler adapts API Gateway proxy events to the use-case services.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"roleplay-coach/internal/domain"
	"roleplay-coach/internal/sequence"
	"roleplay-coach/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Conversations interface {
	Start(ctx context.Context, in usecase.StartInput) (usecase.TurnOutput, error)
	Send(ctx context.Context, in usecase.SendInput) (usecase.TurnOutput, error)
}

type FeedbackGenerator interface {
	Generate(ctx context.Context, in usecase.FeedbackInput) (domain.Feedback, error)
}

type SequenceAnalyzer interface {
	Analyze(ctx context.Context, in usecase.SequenceInput) (domain.SequenceAnalysis, error)
}

type ScenarioLister interface {
	List() []domain.Scenario
}

type Handler struct {
	conversations Conversations
	feedback      FeedbackGenerator
	sequence      SequenceAnalyzer
	scenarios     ScenarioLister
}

func NewHandler(c Conversations, f FeedbackGenerator, s SequenceAnalyzer, l ScenarioLister) (*Handler, error) {
	if c == nil {
		return nil, errors.New("handler: conversation service must not be nil")
	}
	if f == nil {
		return nil, errors.New("handler: feedback service must not be nil")
	}
	if s == nil {
		return nil, errors.New("handler: sequence service must not be nil")
	}
	if l == nil {
		return nil, errors.New("handler: scenario lister must not be nil")
	}
	return &Handler{conversations: c, feedback: f, sequence: s, scenarios: l}, nil
}

type startRequest struct {
	ScenarioID string `json:"scenarioId"`
	PersonaID  string `json:"personaId"`
	Language   string `json:"language"`
}

type messageRequest struct {
	Message string `json:"message"`
}

type selectionRequest struct {
	PersonaID string `json:"personaId"`
	Order     int    `json:"order"`
	Reason    string `json:"reason"`
}

type sequenceRequest struct {
	ScenarioID     string             `json:"scenarioId"`
	ConversationID string             `json:"conversationId"`
	Selections     []selectionRequest `json:"selections"`
}

type turnResponse struct {
	ConversationID string `json:"conversationId"`
	Reply          string `json:"reply"`
	Emotion        string `json:"emotion"`
	EmotionReason  string `json:"emotionReason"`
	Turn           int    `json:"turn"`
	MaxTurns       int    `json:"maxTurns"`
	Completed      bool   `json:"completed"`
}

type personaSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Position   string `json:"position"`
	Department string `json:"department"`
	Mood       string `json:"mood"`
}

type scenarioSummary struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Difficulty  int              `json:"difficulty"`
	MaxTurns    int              `json:"maxTurns"`
	Objectives  []string         `json:"objectives"`
	Personas    []personaSummary `json:"personas"`
}

type scenariosResponse struct {
	Scenarios []scenarioSummary `json:"scenarios"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle routes one API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	corrID := correlationID(event.Headers)
	logger := slog.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)

	status, body, err := h.route(ctx, event)
	if err != nil {
		status, body = errorStatus(err)
		logFailure(ctx, logger, status, err)
	}
	resp := jsonResponse(status, body, corrID)
	logger.InfoContext(ctx, "request handled", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest) (int, any, error) {
	segments := splitPath(event.Path)
	method := strings.ToUpper(event.HTTPMethod)

	switch {
	case len(segments) == 1 && segments[0] == "scenarios":
		if method != http.MethodGet {
			return methodNotAllowed()
		}
		return http.StatusOK, h.listScenarios(), nil

	case len(segments) == 1 && segments[0] == "conversations":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		var req startRequest
		if err := decodeBody(event.Body, &req); err != nil {
			return 0, nil, err
		}
		out, err := h.conversations.Start(ctx, usecase.StartInput{
			ScenarioID: req.ScenarioID,
			PersonaID:  req.PersonaID,
			Language:   req.Language,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toTurnResponse(out), nil

	case len(segments) == 3 && segments[0] == "conversations" && segments[2] == "messages":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		var req messageRequest
		if err := decodeBody(event.Body, &req); err != nil {
			return 0, nil, err
		}
		out, err := h.conversations.Send(ctx, usecase.SendInput{ConversationID: segments[1], Message: req.Message})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toTurnResponse(out), nil

	case len(segments) == 3 && segments[0] == "conversations" && segments[2] == "feedback":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		fb, err := h.feedback.Generate(ctx, usecase.FeedbackInput{ConversationID: segments[1]})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, fb, nil

	case len(segments) == 1 && segments[0] == "sequence-analysis":
		if method != http.MethodPost {
			return methodNotAllowed()
		}
		var req sequenceRequest
		if err := decodeBody(event.Body, &req); err != nil {
			return 0, nil, err
		}
		selections := make([]sequence.Selection, len(req.Selections))
		for i, s := range req.Selections {
			selections[i] = sequence.Selection{PersonaID: s.PersonaID, Order: s.Order, Reason: s.Reason}
		}
		out, err := h.sequence.Analyze(ctx, usecase.SequenceInput{
			ScenarioID:     req.ScenarioID,
			ConversationID: req.ConversationID,
			Selections:     selections,
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, out, nil
	}
	return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound)}, nil
}

func (h *Handler) listScenarios() scenariosResponse {
	list := h.scenarios.List()
	out := scenariosResponse{Scenarios: make([]scenarioSummary, 0, len(list))}
	for _, s := range list {
		personas := make([]personaSummary, 0, len(s.Personas))
		for _, p := range s.Personas {
			personas = append(personas, personaSummary{
				ID:         p.ID,
				Name:       p.Name,
				Position:   p.Position,
				Department: p.Department,
				Mood:       p.Mood,
			})
		}
		out.Scenarios = append(out.Scenarios, scenarioSummary{
			ID:          s.ID,
			Title:       s.Title,
			Description: s.Description,
			Difficulty:  s.Difficulty,
			MaxTurns:    s.MaxTurns,
			Objectives:  s.Objectives,
			Personas:    personas,
		})
	}
	return out
}

func methodNotAllowed() (int, any, error) {
	return http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"}, nil
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// decodeBody rejects malformed JSON. An empty body decodes to the zero value.
func decodeBody(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err}
	}
	return nil
}

func toTurnResponse(out usecase.TurnOutput) turnResponse {
	return turnResponse{
		ConversationID: out.ConversationID,
		Reply:          out.Reply,
		Emotion:        string(out.Emotion),
		EmotionReason:  out.EmotionReason,
		Turn:           out.Turn,
		MaxTurns:       out.MaxTurns,
		Completed:      out.Completed,
	}
}

func errorStatus(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}
	}
	return statusFor(ucErr.Code), errorResponse{Error: string(ucErr.Code)}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidMessage:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func logFailure(ctx context.Context, logger *slog.Logger, status int, err error) {
	reason := ""
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		reason = ucErr.Reason
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "reason", reason, "err", err)
		return
	}
	logger.WarnContext(ctx, "request rejected", "status", status, "reason", reason, "err", err)
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, body any, corrID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(fmt.Sprintf(`{"error":%q}`, usecase.ErrorInternal))
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}
