package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"roleplay-coach/internal/domain"
)

const defaultLanguage = "en"

type personaReply struct {
	Reply         string `json:"reply"`
	Emotion       string `json:"emotion"`
	EmotionReason string `json:"emotion_reason"`
}

type promptContext struct {
	scenario domain.Scenario
	persona  domain.Persona
	language string
}

func personaReplyFormat() domain.ResponseFormat {
	emotions := make([]string, len(domain.Emotions))
	for i, e := range domain.Emotions {
		emotions[i] = string(e)
	}
	return domain.ResponseFormat{
		Name: "persona_reply",
		Fields: []domain.SchemaField{
			{Name: "reply", Type: domain.FieldString, Description: "What the persona says next, in character."},
			{Name: "emotion", Type: domain.FieldString, Description: "The persona's emotional state after this reply.", Enum: emotions},
			{Name: "emotion_reason", Type: domain.FieldString, Description: "One sentence on what caused the emotion."},
		},
	}
}

// buildOpeningMessages asks the persona for the first line of the conversation.
func buildOpeningMessages(ctx promptContext) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildPersonaPolicyPrompt(ctx)},
		{Role: domain.RoleSystem, Content: buildScenarioPrompt(ctx)},
		{Role: domain.RoleUser, Content: "(The trainee has just approached you. Open the conversation in character.)"},
	}
}

func buildConversationMessages(ctx promptContext, history []domain.Turn, message string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: buildPersonaPolicyPrompt(ctx)},
		{Role: domain.RoleSystem, Content: buildScenarioPrompt(ctx)},
	}
	for _, t := range history {
		messages = append(messages, turnToPromptMessages(t)...)
	}
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: message,
	})
	return messages
}

func turnToPromptMessages(t domain.Turn) []domain.ChatMessage {
	var out []domain.ChatMessage
	if msg := strings.TrimSpace(t.Message); msg != "" {
		out = append(out, domain.ChatMessage{Role: domain.RoleUser, Content: msg})
	}
	if reply := strings.TrimSpace(t.Reply); reply != "" {
		out = append(out, domain.ChatMessage{Role: domain.RoleAssistant, Content: reply})
	}
	return out
}

func buildPersonaPolicyPrompt(ctx promptContext) string {
	return strings.Join([]string{
		"Role:",
		fmt.Sprintf("You are %s, %s. Stay in character for the whole conversation.", ctx.persona.Name, personaTitle(ctx.persona)),
		"The other speaker is a trainee practising workplace communication.",
		"",
		"Behavior Rules:",
		personaBehaviorRules(ctx.scenario.Difficulty),
		"",
		"Language:",
		fmt.Sprintf("Reply in %s.", languageName(ctx.language)),
		"",
		"Output Contract:",
		personaOutputContract(),
	}, "\n")
}

func buildScenarioPrompt(ctx promptContext) string {
	s, p := ctx.scenario, ctx.persona
	lines := []string{
		"Scenario: " + normalizePromptInput(s.Title),
		"Situation: " + normalizePromptInput(s.Context.Situation),
		"Timeline: " + normalizePromptInput(s.Context.Timeline),
		"Stakes: " + normalizePromptInput(s.Context.Stakes),
		"Trainee role: " + normalizePromptInput(s.Context.PlayerRole),
		"",
		"Your Persona:",
		"Personality type: " + normalizePromptInput(p.MBTI),
		"Stance: " + normalizePromptInput(p.Stance),
		"Goal: " + normalizePromptInput(p.Goal),
		"Traits: " + strings.Join(p.Traits, ", "),
		"Speech style: " + normalizePromptInput(p.SpeechStyle),
		"Current mood: " + normalizePromptInput(p.Mood),
	}
	if len(p.AvailableInfo) > 0 {
		lines = append(lines, "Information you can share if asked well: "+strings.Join(p.AvailableInfo, "; "))
	}
	if len(p.Relationships) > 0 {
		lines = append(lines, "People you work closely with: "+strings.Join(p.Relationships, "; "))
	}
	return strings.Join(lines, "\n")
}

func personaTitle(p domain.Persona) string {
	switch {
	case p.Position != "" && p.Department != "":
		return fmt.Sprintf("%s in %s", p.Position, p.Department)
	case p.Position != "":
		return p.Position
	default:
		return "a colleague"
	}
}

func personaBehaviorRules(difficulty int) string {
	return strings.Join([]string{
		"1) Respond only as your persona. Never mention that you are an AI or that this is training.",
		"2) Keep replies to a few sentences, as in a real workplace conversation.",
		"3) Defend your stance and goal. Change your position only when the trainee gives good reasons.",
		"4) Share information from your persona only when the trainee asks for it or earns your trust.",
		"5) " + difficultyGuidance(difficulty),
	}, "\n")
}

func difficultyGuidance(level int) string {
	switch level {
	case 1:
		return "Be cooperative and patient. Help the trainee when they struggle."
	case 3:
		return "Be guarded. Push back on vague statements and ask for specifics."
	case 4:
		return "Be demanding and sceptical. Interrupt weak arguments and show impatience when the trainee wastes your time."
	default:
		return "Be realistic. Cooperate when treated with respect and push back on weak arguments."
	}
}

func personaOutputContract() string {
	return "Return JSON only with keys reply (string), emotion (string) and emotion_reason (string). " +
		"emotion must be one of: " + strings.Join(emotionNames(), ", ") + ". " +
		"emotion_reason is a single sentence explaining what in the trainee's words caused the emotion."
}

func emotionNames() []string {
	out := make([]string, len(domain.Emotions))
	for i, e := range domain.Emotions {
		out[i] = string(e)
	}
	return out
}

// normalizeLanguage validates a BCP 47 tag, defaulting to English.
func normalizeLanguage(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return defaultLanguage, nil
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("usecase: parse language %q: %w", tag, err)
	}
	return t.String(), nil
}

func languageName(tag string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return "English"
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return tag
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

// decodeStrict decodes exactly one JSON object with no unknown fields.
func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("multiple JSON values")
		}
		return fmt.Errorf("trailing data: %w", err)
	}
	return nil
}

func parsePersonaReply(raw string) (domain.Turn, error) {
	var out personaReply
	if err := decodeStrict(raw, &out); err != nil {
		return domain.Turn{}, fmt.Errorf("usecase: decode persona reply: %w", err)
	}
	reply := strings.TrimSpace(out.Reply)
	if reply == "" {
		return domain.Turn{}, errors.New("usecase: persona reply is empty")
	}
	emotion, _ := domain.ParseEmotion(strings.ToLower(strings.TrimSpace(out.Emotion)))
	return domain.Turn{
		Reply:         reply,
		Emotion:       emotion,
		EmotionReason: strings.TrimSpace(out.EmotionReason),
	}, nil
}

type feedbackCategory struct {
	key    string
	label  string
	weight float64
}

var feedbackCategories = []feedbackCategory{
	{key: "clarity_logic", label: "Clarity and logic", weight: 0.20},
	{key: "listening_empathy", label: "Listening and empathy", weight: 0.25},
	{key: "appropriateness_adaptability", label: "Appropriateness and adaptability", weight: 0.20},
	{key: "persuasiveness_impact", label: "Persuasiveness and impact", weight: 0.20},
	{key: "strategic_communication", label: "Strategic communication", weight: 0.15},
}

func feedbackFormat() domain.ResponseFormat {
	fields := make([]domain.SchemaField, 0, len(feedbackCategories)+4)
	for _, c := range feedbackCategories {
		fields = append(fields, domain.SchemaField{
			Name:        c.key,
			Type:        domain.FieldInteger,
			Description: c.label + " score from 1 (poor) to 5 (excellent).",
		})
	}
	fields = append(fields,
		domain.SchemaField{Name: "summary", Type: domain.FieldString, Description: "Two or three sentences summarising the trainee's performance."},
		domain.SchemaField{Name: "strengths", Type: domain.FieldStringArray, Description: "Concrete things the trainee did well."},
		domain.SchemaField{Name: "improvements", Type: domain.FieldStringArray, Description: "Concrete things the trainee should change."},
		domain.SchemaField{Name: "next_steps", Type: domain.FieldStringArray, Description: "Practice suggestions for the next session."},
	)
	return domain.ResponseFormat{Name: "feedback_report", Fields: fields}
}

func buildFeedbackMessages(ctx promptContext, history []domain.Turn) []domain.ChatMessage {
	criteria := make([]string, len(feedbackCategories))
	for i, c := range feedbackCategories {
		criteria[i] = fmt.Sprintf("- %s (%s)", c.key, c.label)
	}
	system := strings.Join([]string{
		"You are a workplace communication coach reviewing a practice conversation.",
		"The trainee spoke with " + ctx.persona.Name + " (" + personaTitle(ctx.persona) + ").",
		"Scenario: " + normalizePromptInput(ctx.scenario.Title),
		"Situation: " + normalizePromptInput(ctx.scenario.Context.Situation),
		"Objectives: " + strings.Join(ctx.scenario.Objectives, "; "),
		"",
		"Score the trainee from 1 to 5 on each criterion:",
		strings.Join(criteria, "\n"),
		"",
		"Quote or paraphrase the trainee's own words when giving strengths and improvements.",
		fmt.Sprintf("Write the summary, strengths, improvements and next steps in %s.", languageName(ctx.language)),
		"Return JSON only, matching the schema.",
	}, "\n")

	var transcript strings.Builder
	for _, t := range history {
		if msg := strings.TrimSpace(t.Message); msg != "" {
			fmt.Fprintf(&transcript, "Trainee: %s\n", msg)
		}
		if reply := strings.TrimSpace(t.Reply); reply != "" {
			fmt.Fprintf(&transcript, "%s (%s): %s\n", ctx.persona.Name, t.Emotion, reply)
		}
	}
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: "Transcript:\n" + transcript.String()},
	}
}

type feedbackReply struct {
	ClarityLogic                int      `json:"clarity_logic"`
	ListeningEmpathy            int      `json:"listening_empathy"`
	AppropriatenessAdaptability int      `json:"appropriateness_adaptability"`
	PersuasivenessImpact        int      `json:"persuasiveness_impact"`
	StrategicCommunication      int      `json:"strategic_communication"`
	Summary                     string   `json:"summary"`
	Strengths                   []string `json:"strengths"`
	Improvements                []string `json:"improvements"`
	NextSteps                   []string `json:"next_steps"`
}

func (r feedbackReply) score(key string) int {
	switch key {
	case "clarity_logic":
		return r.ClarityLogic
	case "listening_empathy":
		return r.ListeningEmpathy
	case "appropriateness_adaptability":
		return r.AppropriatenessAdaptability
	case "persuasiveness_impact":
		return r.PersuasivenessImpact
	case "strategic_communication":
		return r.StrategicCommunication
	}
	return 0
}

// parseFeedback decodes a feedback report. Every category score must be 1-5.
func parseFeedback(raw string) (domain.Feedback, error) {
	var out feedbackReply
	if err := decodeStrict(raw, &out); err != nil {
		return domain.Feedback{}, fmt.Errorf("usecase: decode feedback: %w", err)
	}
	scores := make([]domain.CategoryScore, 0, len(feedbackCategories))
	for _, c := range feedbackCategories {
		v := out.score(c.key)
		if v < 1 || v > 5 {
			return domain.Feedback{}, fmt.Errorf("usecase: feedback score %s out of range: %d", c.key, v)
		}
		scores = append(scores, domain.CategoryScore{Category: c.key, Score: v, Weight: c.weight})
	}
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return domain.Feedback{}, errors.New("usecase: feedback summary is empty")
	}
	return domain.Feedback{
		OverallScore: overallScore(scores),
		Scores:       scores,
		Summary:      summary,
		Strengths:    cleanList(out.Strengths),
		Improvements: cleanList(out.Improvements),
		NextSteps:    cleanList(out.NextSteps),
	}, nil
}

// overallScore maps the weighted mean of 1-5 scores linearly onto 0-100,
// so all 1s score 0 and all 5s score 100.
func overallScore(scores []domain.CategoryScore) int {
	var sum, weights float64
	for _, s := range scores {
		sum += float64(s.Score) * s.Weight
		weights += s.Weight
	}
	if weights == 0 {
		return 0
	}
	mean := sum / weights
	return int(math.Round((mean - 1) / 4 * 100))
}

// cleanList trims entries and drops blanks and exact duplicates.
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
