package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"roleplay-coach/internal/domain"
)

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultModerationModel = "omni-moderation-latest"
	finishContentFilter    = "content_filter"
)

type chatRequest struct {
	Model          string               `json:"model"`
	Messages       []domain.ChatMessage `json:"messages"`
	Temperature    *float64             `json:"temperature,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string     `json:"name"`
	Strict bool       `json:"strict"`
	Schema jsonSchema `json:"schema"`
}

type jsonSchema struct {
	Type                 string                `json:"type"`
	AdditionalProperties *bool                 `json:"additionalProperties,omitempty"`
	Properties           map[string]jsonSchema `json:"properties,omitempty"`
	Required             []string              `json:"required,omitempty"`
	Items                *jsonSchema           `json:"items,omitempty"`
	Enum                 []string              `json:"enum,omitempty"`
	Description          string                `json:"description,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

type moderationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError is a non-2xx response from the API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// RefusalError reports a persona or feedback request the model declined to
// answer, either with an explicit refusal or a content filter stop.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string {
	return "openai: response refused: " + e.Reason
}

func (e *RefusalError) ContentBlocked() bool {
	return true
}

// Client talks to the chat completions and moderation endpoints. The API key is
// read from the parameter store and cached once a read succeeds.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	getter          Getter
	paramPrefix     string
	temperature     *float64
	moderationModel string

	keyMu  sync.RWMutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

func WithModerationModel(model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.moderationModel = model
		}
	}
}

func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:         defaultBaseURL,
		httpClient:      &http.Client{Timeout: 20 * time.Second},
		getter:          ps,
		paramPrefix:     paramPrefix,
		moderationModel: defaultModerationModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey returns the cached key, reading it from the parameter store
// until one read succeeds.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.RLock()
	key := c.apiKey
	c.keyMu.RUnlock()
	if key != "" {
		return key, nil
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := fetchAPIKey(ctx, c.getter, c.paramPrefix+"/open-ai-token")
	if err != nil {
		return "", err
	}
	c.apiKey = key
	return key, nil
}

func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + path
}

// Chat returns the content of the first choice, constrained by format through a
// strict json_schema response format.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage, format domain.ResponseFormat) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	rf, err := responseFormatFor(format)
	if err != nil {
		return "", err
	}

	var out chatResponse
	err = c.postJSON(ctx, "/chat/completions", chatRequest{
		Model:          model,
		Messages:       messages,
		Temperature:    c.temperature,
		ResponseFormat: rf,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("openai: chat %s: %w", format.Name, err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	choice := out.Choices[0]
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return "", &RefusalError{Reason: refusal}
	}
	if choice.FinishReason == finishContentFilter {
		return "", &RefusalError{Reason: finishContentFilter}
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", errors.New("openai: empty content in response")
	}
	return content, nil
}

func responseFormatFor(format domain.ResponseFormat) (*responseFormat, error) {
	name := strings.TrimSpace(format.Name)
	if name == "" {
		return nil, errors.New("openai: response format name must not be empty")
	}
	if len(format.Fields) == 0 {
		return nil, errors.New("openai: response format has no fields")
	}
	closed := false
	schema := jsonSchema{
		Type:                 "object",
		AdditionalProperties: &closed,
		Properties:           make(map[string]jsonSchema, len(format.Fields)),
		Required:             make([]string, 0, len(format.Fields)),
	}
	for _, f := range format.Fields {
		prop, err := fieldSchema(f)
		if err != nil {
			return nil, err
		}
		schema.Properties[f.Name] = prop
		schema.Required = append(schema.Required, f.Name)
	}
	return &responseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchemaConfig{Name: name, Strict: true, Schema: schema},
	}, nil
}

func fieldSchema(f domain.SchemaField) (jsonSchema, error) {
	s := jsonSchema{Description: f.Description, Enum: f.Enum}
	switch f.Type {
	case domain.FieldString, domain.FieldInteger, domain.FieldNumber, domain.FieldBoolean:
		s.Type = string(f.Type)
	case domain.FieldStringArray:
		s.Type = "array"
		s.Enum = nil
		s.Items = &jsonSchema{Type: "string", Enum: f.Enum}
	default:
		return jsonSchema{}, fmt.Errorf("openai: unsupported field type %q for %q", f.Type, f.Name)
	}
	return s, nil
}

// Moderate reports whether a trainee message is flagged by any moderation
// result.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	var out moderationResponse
	if err := c.postJSON(ctx, "/moderations", moderationRequest{Model: c.moderationModel, Input: input}, &out); err != nil {
		return false, fmt.Errorf("openai: moderation: %w", err)
	}
	if len(out.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	for _, r := range out.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}

// postJSON sends in to path with the API key and decodes the reply into out.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := endpointURL(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", errors.New("openai: API token is empty")
	}
	return strings.TrimSpace(tp.Token), nil
}
