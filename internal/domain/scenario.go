package domain

// Scenario frames a training conversation.
type Scenario struct {
	ID              string          `yaml:"id" json:"id"`
	Title           string          `yaml:"title" json:"title"`
	Description     string          `yaml:"description" json:"description"`
	Context         ScenarioContext `yaml:"context" json:"context"`
	Objectives      []string        `yaml:"objectives" json:"objectives"`
	SuccessCriteria SuccessCriteria `yaml:"successCriteria" json:"successCriteria"`
	Difficulty      int             `yaml:"difficulty" json:"difficulty"`
	MaxTurns        int             `yaml:"maxTurns" json:"maxTurns"`
	Personas        []Persona       `yaml:"personas" json:"personas"`
}

// ScenarioContext is the situation the trainee is placed in.
type ScenarioContext struct {
	Situation  string `yaml:"situation" json:"situation"`
	Timeline   string `yaml:"timeline" json:"timeline"`
	Stakes     string `yaml:"stakes" json:"stakes"`
	PlayerRole string `yaml:"playerRole" json:"playerRole"`
}

// SuccessCriteria describes outcome bands for the scenario.
type SuccessCriteria struct {
	Optimal    string `yaml:"optimal" json:"optimal"`
	Good       string `yaml:"good" json:"good"`
	Acceptable string `yaml:"acceptable" json:"acceptable"`
	Failure    string `yaml:"failure" json:"failure"`
}

// Persona is an LLM-simulated workplace character.
type Persona struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Position        string   `yaml:"position" json:"position"`
	Department      string   `yaml:"department" json:"department"`
	MBTI            string   `yaml:"mbti" json:"mbti"`
	Stance          string   `yaml:"stance" json:"stance"`
	Goal            string   `yaml:"goal" json:"goal"`
	Traits          []string `yaml:"traits" json:"traits"`
	SpeechStyle     string   `yaml:"speechStyle" json:"speechStyle"`
	Influence       int      `yaml:"influence" json:"influence"`
	Approachability int      `yaml:"approachability" json:"approachability"`
	Mood            string   `yaml:"mood" json:"mood"`
	AvailableInfo   []string `yaml:"availableInfo" json:"availableInfo"`
	Relationships   []string `yaml:"relationships" json:"relationships"`
}
