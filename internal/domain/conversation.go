package domain

import "time"

// ConversationStatus tracks whether a conversation still accepts messages.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
)

// Conversation stores aggregate conversation state.
type Conversation struct {
	ID           string
	ScenarioID   string
	PersonaID    string
	Language     string
	Status       ConversationStatus
	Turns        int
	CreatedAt    time.Time
	LastActivity time.Time
}

// Turn is a single persisted exchange. The opening turn has an empty Message.
type Turn struct {
	ConversationID string
	SK             string
	Message        string
	Reply          string
	Emotion        Emotion
	EmotionReason  string
	CreatedAt      time.Time
}

// Emotion is the annotated emotional state of a persona reply.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionJoy        Emotion = "joy"
	EmotionCurious    Emotion = "curious"
	EmotionSurprised  Emotion = "surprised"
	EmotionSkeptical  Emotion = "skeptical"
	EmotionConcerned  Emotion = "concerned"
	EmotionFrustrated Emotion = "frustrated"
	EmotionAngry      Emotion = "angry"
	EmotionSad        Emotion = "sad"
	EmotionTired      Emotion = "tired"
	EmotionSatisfied  Emotion = "satisfied"
)

// Emotions lists every supported emotion in display order.
var Emotions = []Emotion{
	EmotionNeutral,
	EmotionJoy,
	EmotionCurious,
	EmotionSurprised,
	EmotionSkeptical,
	EmotionConcerned,
	EmotionFrustrated,
	EmotionAngry,
	EmotionSad,
	EmotionTired,
	EmotionSatisfied,
}

// ParseEmotion returns the matching emotion, or EmotionNeutral and false.
func ParseEmotion(s string) (Emotion, bool) {
	for _, e := range Emotions {
		if string(e) == s {
			return e, true
		}
	}
	return EmotionNeutral, false
}
