package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"roleplay-coach/internal/catalog"
	"roleplay-coach/internal/domain"
	"roleplay-coach/internal/repository"
)

type fakeParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (f *fakeParams) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		v, ok := f.vals[n]
		if !ok {
			return nil, fmt.Errorf("param not found: %s", n)
		}
		out[n] = v
	}
	return out, nil
}

func defaultParams() *fakeParams {
	return &fakeParams{vals: map[string]string{
		"/prefix/config/chat_model":     "chat-model",
		"/prefix/config/feedback_model": "feedback-model",
	}}
}

type chatCall struct {
	model    string
	messages []domain.ChatMessage
	format   domain.ResponseFormat
}

type fakeLLM struct {
	answers []string
	err     error
	calls   []chatCall
}

func (f *fakeLLM) Chat(_ context.Context, model string, messages []domain.ChatMessage, format domain.ResponseFormat) (string, error) {
	f.calls = append(f.calls, chatCall{model: model, messages: messages, format: format})
	if f.err != nil {
		return "", f.err
	}
	if len(f.answers) == 0 {
		return "", errors.New("no llm answer configured")
	}
	idx := len(f.calls) - 1
	if idx >= len(f.answers) {
		idx = len(f.answers) - 1
	}
	return f.answers[idx], nil
}

type fakeModerator struct {
	flagged bool
	err     error
	inputs  []string
}

func (f *fakeModerator) Moderate(_ context.Context, input string) (bool, error) {
	f.inputs = append(f.inputs, input)
	return f.flagged, f.err
}

type savedTurn struct {
	conv domain.Conversation
	turn domain.Turn
	prev int
}

// fakeStore is an in-memory stand-in for the DynamoDB repository.
type fakeStore struct {
	convs    map[string]domain.Conversation
	history  map[string][]domain.Turn
	feedback map[string]domain.Feedback
	analyses map[string]domain.SequenceAnalysis

	created      []domain.Conversation
	openings     []domain.Turn
	saved        []savedTurn
	historyLimit int
	completed    []string

	createErr   error
	getErr      error
	historyErr  error
	saveTurnErr error
	feedbackErr error
	saveFbErr   error
	seqGetErr   error
	seqSaveErr  error
	completeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:    map[string]domain.Conversation{},
		history:  map[string][]domain.Turn{},
		feedback: map[string]domain.Feedback{},
		analyses: map[string]domain.SequenceAnalysis{},
	}
}

func (f *fakeStore) CreateConversation(_ context.Context, conv domain.Conversation, opening domain.Turn) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, conv)
	f.openings = append(f.openings, opening)
	f.convs[conv.ID] = conv
	f.history[conv.ID] = append(f.history[conv.ID], opening)
	return nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	if f.getErr != nil {
		return domain.Conversation{}, f.getErr
	}
	c, ok := f.convs[id]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("get %q: %w", id, repository.ErrNotFound)
	}
	return c, nil
}

func (f *fakeStore) GetHistory(_ context.Context, id string, limit int) ([]domain.Turn, error) {
	f.historyLimit = limit
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	turns := f.history[id]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (f *fakeStore) SaveTurn(_ context.Context, conv domain.Conversation, turn domain.Turn, prev int) error {
	if f.saveTurnErr != nil {
		return f.saveTurnErr
	}
	f.saved = append(f.saved, savedTurn{conv: conv, turn: turn, prev: prev})
	f.convs[conv.ID] = conv
	f.history[conv.ID] = append(f.history[conv.ID], turn)
	return nil
}

func (f *fakeStore) GetFeedback(_ context.Context, id string) (domain.Feedback, error) {
	if f.feedbackErr != nil {
		return domain.Feedback{}, f.feedbackErr
	}
	fb, ok := f.feedback[id]
	if !ok {
		return domain.Feedback{}, repository.ErrNotFound
	}
	return fb, nil
}

func (f *fakeStore) SaveFeedback(_ context.Context, fb domain.Feedback) error {
	if f.saveFbErr != nil {
		return f.saveFbErr
	}
	f.feedback[fb.ConversationID] = fb
	return nil
}

func (f *fakeStore) GetSequenceAnalysis(_ context.Context, id string) (domain.SequenceAnalysis, error) {
	if f.seqGetErr != nil {
		return domain.SequenceAnalysis{}, f.seqGetErr
	}
	a, ok := f.analyses[id]
	if !ok {
		return domain.SequenceAnalysis{}, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) SaveSequenceAnalysis(_ context.Context, id string, a domain.SequenceAnalysis) error {
	if f.seqSaveErr != nil {
		return f.seqSaveErr
	}
	f.analyses[id] = a
	return nil
}

func (f *fakeStore) CompleteConversation(_ context.Context, id string) error {
	f.completed = append(f.completed, id)
	if f.completeErr != nil {
		return f.completeErr
	}
	c := f.convs[id]
	c.Status = domain.ConversationCompleted
	f.convs[id] = c
	return nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return c
}

func testSettings(t *testing.T, p ParamGetter) *Settings {
	t.Helper()
	s, err := NewSettings(p, "/prefix")
	require.NoError(t, err)
	return s
}

func personaJSON(reply, emotion, reason string) string {
	return fmt.Sprintf(`{"reply":%q,"emotion":%q,"emotion_reason":%q}`, reply, emotion, reason)
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func stubIDs(t *testing.T, id string) {
	t.Helper()
	prevUUID := newUUID
	newUUID = func() string { return id }
	t.Cleanup(func() { newUUID = prevUUID })
}

// statusErr mimics an LLM client error carrying an HTTP status.
type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

type blockedErr struct{}

func (blockedErr) Error() string        { return "blocked" }
func (blockedErr) ContentBlocked() bool { return true }
