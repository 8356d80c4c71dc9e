// Package gemini adapts google.golang.org/genai to the provider-neutral chat
// interface used by the use cases.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"roleplay-coach/internal/domain"
)

// generator is the subset of *genai.Models used by Client.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StatusError carries the HTTP status of a failed Gemini API call.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d %s: %s", e.StatusCode, e.Status, e.Message)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// BlockedError reports a prompt or response rejected by Gemini safety filters.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "gemini: content blocked: " + e.Reason
}

func (e *BlockedError) ContentBlocked() bool {
	return true
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Client sends chat requests to Gemini. The API key is read from the parameter
// store on first use and the underlying genai client is reused afterwards.
type Client struct {
	getter      Getter
	paramPrefix string
	httpClient  *http.Client
	temperature *float32

	mu  sync.RWMutex
	gen generator
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// withGenerator bypasses key resolution. Used by tests.
func withGenerator(g generator) Option {
	return func(c *Client) {
		c.gen = g
	}
}

func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gemini: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{getter: ps, paramPrefix: paramPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/gemini-token"
}

// resolveGenerator builds the genai client on first use. A failed token read
// is not cached, so the next call tries again.
func (c *Client) resolveGenerator(ctx context.Context) (generator, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()
	if gen != nil {
		return gen, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != nil {
		return c.gen, nil
	}
	raw, err := c.getter.GetParameter(ctx, c.tokenParameterName())
	if err != nil {
		return nil, fmt.Errorf("gemini: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return nil, fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return nil, errors.New("gemini: API token is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     tp.Token,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.gen = client.Models
	return c.gen, nil
}

// Chat generates a JSON reply constrained to format. System messages become the
// system instruction; assistant messages are sent with the model role.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage, format domain.ResponseFormat) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	schema, err := schemaFor(format)
	if err != nil {
		return "", err
	}
	gen, err := c.resolveGenerator(ctx)
	if err != nil {
		return "", err
	}

	system, contents := splitMessages(messages)
	if len(contents) == 0 {
		return "", errors.New("gemini: no conversation content to send")
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
		Temperature:      c.temperature,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := gen.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", mapAPIError(err))
	}
	if resp == nil {
		return "", errors.New("gemini: empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", &BlockedError{Reason: string(resp.PromptFeedback.BlockReason)}
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	if fr := resp.Candidates[0].FinishReason; fr == genai.FinishReasonSafety || fr == genai.FinishReasonProhibitedContent {
		return "", &BlockedError{Reason: string(fr)}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini: empty text in response")
	}
	return text, nil
}

func splitMessages(messages []domain.ChatMessage) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, text)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func schemaFor(format domain.ResponseFormat) (*genai.Schema, error) {
	if strings.TrimSpace(format.Name) == "" {
		return nil, errors.New("gemini: response format name must not be empty")
	}
	if len(format.Fields) == 0 {
		return nil, errors.New("gemini: response format has no fields")
	}
	s := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(format.Fields)),
	}
	for _, f := range format.Fields {
		prop := &genai.Schema{Description: f.Description}
		switch f.Type {
		case domain.FieldString:
			prop.Type = genai.TypeString
			prop.Enum = f.Enum
			if len(f.Enum) > 0 {
				prop.Format = "enum"
			}
		case domain.FieldInteger:
			prop.Type = genai.TypeInteger
		case domain.FieldNumber:
			prop.Type = genai.TypeNumber
		case domain.FieldBoolean:
			prop.Type = genai.TypeBoolean
		case domain.FieldStringArray:
			prop.Type = genai.TypeArray
			prop.Items = &genai.Schema{Type: genai.TypeString, Enum: f.Enum}
		default:
			return nil, fmt.Errorf("gemini: unsupported field type %q for %q", f.Type, f.Name)
		}
		s.Properties[f.Name] = prop
		s.Required = append(s.Required, f.Name)
		s.PropertyOrdering = append(s.PropertyOrdering, f.Name)
	}
	return s, nil
}

func mapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &StatusError{StatusCode: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return err
}
