package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// Models names the LLM models used for each task.
type Models struct {
	Chat     string
	Feedback string
}

// Settings loads runtime configuration from the parameter store on first use
// and caches it. A failed load is retried on the next call.
type Settings struct {
	params      ParamGetter
	paramPrefix string

	mu     sync.RWMutex
	loaded bool
	models Models
}

func NewSettings(p ParamGetter, paramPrefix string) (*Settings, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &Settings{params: p, paramPrefix: paramPrefix}, nil
}

func (s *Settings) Load(ctx context.Context) (Models, error) {
	s.mu.RLock()
	if s.loaded {
		m := s.models
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.models, nil
	}

	chatName := s.paramPrefix + "/config/chat_model"
	feedbackName := s.paramPrefix + "/config/feedback_model"
	vals, err := s.params.GetParameters(ctx, chatName, feedbackName)
	if err != nil {
		return Models{}, fmt.Errorf("usecase: load models: %w", err)
	}
	m := Models{
		Chat:     strings.TrimSpace(vals[chatName]),
		Feedback: strings.TrimSpace(vals[feedbackName]),
	}
	if m.Chat == "" || m.Feedback == "" {
		return Models{}, errors.New("usecase: load models: model name is empty")
	}

	s.models = m
	s.loaded = true
	return m, nil
}
