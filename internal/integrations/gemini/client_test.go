package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"roleplay-coach/internal/domain"
)

type fakeGetter struct {
	val     string
	err     error
	failFor int
	calls   int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failFor {
		return "", errors.New("ssm unavailable")
	}
	return f.val, f.err
}

type fakeGenerator struct {
	resp      *genai.GenerateContentResponse
	err       error
	model     string
	contents  []*genai.Content
	config    *genai.GenerateContentConfig
	callCount int
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.callCount++
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

var testFormat = domain.ResponseFormat{
	Name: "persona_reply",
	Fields: []domain.SchemaField{
		{Name: "reply", Type: domain.FieldString},
		{Name: "emotion", Type: domain.FieldString, Enum: []string{"neutral", "angry"}},
		{Name: "tags", Type: domain.FieldStringArray},
		{Name: "score", Type: domain.FieldInteger},
	},
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func newTestClient(t *testing.T, g generator, opts ...Option) *Client {
	t.Helper()
	opts = append(opts, withGenerator(g))
	c, err := NewClient(&fakeGetter{val: `{"token":"g-test"}`}, "/roleplay-coach", opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "/roleplay-coach")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(&fakeGetter{}, " / ")
	require.ErrorContains(t, err, "prefix")
}

func TestChat_HappyPath(t *testing.T) {
	g := &fakeGenerator{resp: textResponse(` {"reply":"hello"} `)}
	c := newTestClient(t, g, WithTemperature(0.5))

	out, err := c.Chat(context.Background(), "gemini-2.5-flash", []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "policy"},
		{Role: domain.RoleSystem, Content: "persona"},
		{Role: domain.RoleAssistant, Content: "opening"},
		{Role: domain.RoleUser, Content: "question"},
		{Role: domain.RoleUser, Content: "   "},
	}, testFormat)
	require.NoError(t, err)
	require.Equal(t, `{"reply":"hello"}`, out)

	require.Equal(t, "gemini-2.5-flash", g.model)
	require.Len(t, g.contents, 2)
	require.Equal(t, genai.RoleModel, g.contents[0].Role)
	require.Equal(t, "opening", g.contents[0].Parts[0].Text)
	require.Equal(t, genai.RoleUser, g.contents[1].Role)

	require.Equal(t, "application/json", g.config.ResponseMIMEType)
	require.Equal(t, "policy\n\npersona", g.config.SystemInstruction.Parts[0].Text)
	require.InDelta(t, 0.5, float64(*g.config.Temperature), 1e-6)
}

func TestChat_NoSystemInstructionWhenAbsent(t *testing.T) {
	g := &fakeGenerator{resp: textResponse(`{}`)}
	c := newTestClient(t, g)
	_, err := c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
	require.NoError(t, err)
	require.Nil(t, g.config.SystemInstruction)
	require.Nil(t, g.config.Temperature)
}

func TestSchemaFor(t *testing.T) {
	s, err := schemaFor(testFormat)
	require.NoError(t, err)
	require.Equal(t, genai.TypeObject, s.Type)
	require.Equal(t, []string{"reply", "emotion", "tags", "score"}, s.Required)
	require.Equal(t, []string{"reply", "emotion", "tags", "score"}, s.PropertyOrdering)
	require.Equal(t, genai.TypeString, s.Properties["reply"].Type)
	require.Equal(t, []string{"neutral", "angry"}, s.Properties["emotion"].Enum)
	require.Equal(t, "enum", s.Properties["emotion"].Format)
	require.Equal(t, genai.TypeArray, s.Properties["tags"].Type)
	require.Equal(t, genai.TypeString, s.Properties["tags"].Items.Type)
	require.Equal(t, genai.TypeInteger, s.Properties["score"].Type)

	_, err = schemaFor(domain.ResponseFormat{Fields: testFormat.Fields})
	require.ErrorContains(t, err, "name")
	_, err = schemaFor(domain.ResponseFormat{Name: "x"})
	require.ErrorContains(t, err, "no fields")
	_, err = schemaFor(domain.ResponseFormat{Name: "x", Fields: []domain.SchemaField{{Name: "f", Type: "map"}}})
	require.ErrorContains(t, err, "unsupported")
}

func TestChat_Validation(t *testing.T) {
	g := &fakeGenerator{resp: textResponse(`{}`)}
	c := newTestClient(t, g)

	_, err := c.Chat(context.Background(), "", nil, testFormat)
	require.ErrorContains(t, err, "model")

	_, err = c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleSystem, Content: "only system"}}, testFormat)
	require.ErrorContains(t, err, "no conversation content")
	require.Zero(t, g.callCount)
}

func TestChat_MapsAPIErrorStatus(t *testing.T) {
	g := &fakeGenerator{err: genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "quota"}}
	c := newTestClient(t, g)

	_, err := c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestChat_PassesThroughOtherErrors(t *testing.T) {
	g := &fakeGenerator{err: fmt.Errorf("dial: %w", errors.New("connection refused"))}
	c := newTestClient(t, g)

	_, err := c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
	require.ErrorContains(t, err, "connection refused")
	var statusErr *StatusError
	require.False(t, errors.As(err, &statusErr))
}

func TestChat_BlockedPrompt(t *testing.T) {
	g := &fakeGenerator{resp: &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	}}
	c := newTestClient(t, g)

	_, err := c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
}

func TestChat_SafetyFinishReason(t *testing.T) {
	resp := textResponse("")
	resp.Candidates[0].FinishReason = genai.FinishReasonSafety
	c := newTestClient(t, &fakeGenerator{resp: resp})

	_, err := c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
}

func TestChat_EmptyResponses(t *testing.T) {
	c := newTestClient(t, &fakeGenerator{resp: &genai.GenerateContentResponse{}})
	_, err := c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
	require.ErrorContains(t, err, "no candidates")

	c = newTestClient(t, &fakeGenerator{resp: textResponse("  ")})
	_, err = c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
	require.ErrorContains(t, err, "empty text")
}

func TestResolveGenerator_TokenErrors(t *testing.T) {
	cases := []struct {
		name   string
		getter *fakeGetter
		want   string
	}{
		{name: "getter error", getter: &fakeGetter{err: errors.New("ssm unavailable")}, want: "ssm unavailable"},
		{name: "malformed", getter: &fakeGetter{val: `{"broken`}, want: "unmarshal"},
		{name: "empty token", getter: &fakeGetter{val: `{"token":""}`}, want: "API token is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.getter, "/roleplay-coach")
			require.NoError(t, err)
			_, err = c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
			require.ErrorContains(t, err, tc.want)

			// Failures are not cached; the next request reads the token again.
			_, _ = c.Chat(context.Background(), "m", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, testFormat)
			require.Equal(t, 2, tc.getter.calls)
		})
	}
}

func TestResolveGenerator_RecoversAfterTransientFailure(t *testing.T) {
	g := &fakeGetter{val: `{"token":"g-test"}`, failFor: 1}
	c, err := NewClient(g, "/roleplay-coach")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.resolveGenerator(ctx)
	require.ErrorContains(t, err, "ssm unavailable")

	gen, err := c.resolveGenerator(context.Background())
	require.NoError(t, err)
	require.NotNil(t, gen)

	again, err := c.resolveGenerator(context.Background())
	require.NoError(t, err)
	require.Same(t, gen, again)
	require.Equal(t, 2, g.calls)
}
