package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"roleplay-coach/handler"
	"roleplay-coach/internal/catalog"
	"roleplay-coach/internal/integrations/gemini"
	"roleplay-coach/internal/integrations/openai"
	"roleplay-coach/internal/integrations/paramstore"
	"roleplay-coach/internal/repository"
	"roleplay-coach/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	provider := strings.ToLower(envString("LLM_PROVIDER", "gemini"))
	maxContextItems := envInt("MAX_CONTEXT_ITEMS", 20)
	maxMessageLen := envInt("MAX_MESSAGE_LENGTH", 1000)
	scenarioFile := os.Getenv("SCENARIO_FILE")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}
	scenarios, err := catalog.Load(scenarioFile)
	if err != nil {
		slog.Error("failed to load scenarios", "file", scenarioFile, "err", err)
		os.Exit(1)
	}

	var (
		llm      usecase.LLMClient
		convOpts = []usecase.ConversationOption{usecase.WithLimits(maxContextItems, maxMessageLen)}
	)
	switch provider {
	case "gemini":
		geminiClient, err := gemini.NewClient(ssmClient, paramPrefix)
		if err != nil {
			slog.Error("failed to create Gemini client", "err", err)
			os.Exit(1)
		}
		llm = geminiClient
	case "openai":
		openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
		if err != nil {
			slog.Error("failed to create OpenAI client", "err", err)
			os.Exit(1)
		}
		llm = openaiClient
		convOpts = append(convOpts, usecase.WithModerator(openaiClient))
	default:
		slog.Error("unsupported LLM provider", "provider", provider)
		os.Exit(1)
	}

	// ---- Services ----
	settings, err := usecase.NewSettings(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create settings", "err", err)
		os.Exit(1)
	}
	conversations, err := usecase.NewConversationService(settings, llm, scenarios, stateClient, convOpts...)
	if err != nil {
		slog.Error("failed to create conversation service", "err", err)
		os.Exit(1)
	}
	feedback, err := usecase.NewFeedbackService(settings, llm, scenarios, stateClient)
	if err != nil {
		slog.Error("failed to create feedback service", "err", err)
		os.Exit(1)
	}
	sequences, err := usecase.NewSequenceService(scenarios, stateClient)
	if err != nil {
		slog.Error("failed to create sequence service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(conversations, feedback, sequences, scenarios)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("starting", "provider", provider, "scenarios", len(scenarios.List()))
	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
