package domain

// ChatMessage is the provider-agnostic chat message shape used by the use cases
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FieldType is the JSON type of a structured output field.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldInteger     FieldType = "integer"
	FieldNumber      FieldType = "number"
	FieldBoolean     FieldType = "boolean"
	FieldStringArray FieldType = "string_array"
)

// SchemaField describes one required property of a flat JSON object.
type SchemaField struct {
	Name        string
	Type        FieldType
	Description string
	Enum        []string
}

// ResponseFormat is a provider-neutral description of the JSON object an LLM
// must return. Every field is required and no other keys are allowed.
type ResponseFormat struct {
	Name   string
	Fields []SchemaField
}
