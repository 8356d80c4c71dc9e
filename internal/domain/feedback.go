package domain

import "time"

// Feedback is the final scored report for a conversation.
type Feedback struct {
	ConversationID string            `json:"conversationId"`
	OverallScore   int               `json:"overallScore"`
	Scores         []CategoryScore   `json:"scores"`
	Summary        string            `json:"summary"`
	Strengths      []string          `json:"strengths"`
	Improvements   []string          `json:"improvements"`
	NextSteps      []string          `json:"nextSteps"`
	Sequence       *SequenceAnalysis `json:"sequence,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// CategoryScore is a 1-5 rating for one evaluation category.
type CategoryScore struct {
	Category string  `json:"category"`
	Score    int     `json:"score"`
	Weight   float64 `json:"weight"`
}

// SequenceAnalysis is the persisted result of scoring a persona selection order.
type SequenceAnalysis struct {
	ScenarioID     string         `json:"scenarioId"`
	SelectionOrder []string       `json:"selectionOrder"`
	OptimalOrder   []string       `json:"optimalOrder"`
	Ranking        []RankedPerson `json:"ranking"`
	Correlation    float64        `json:"correlation"`
	OrderScore     int            `json:"orderScore"`
	ReasoningScore int            `json:"reasoningScore"`
	OverallScore   int            `json:"overallScore"`
	Strengths      []string       `json:"strengths"`
	Improvements   []string       `json:"improvements"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// RankedPerson is one entry of the reference order.
type RankedPerson struct {
	PersonaID string  `json:"personaId"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}
