package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"roleplay-coach/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	skFeedback  = "FEEDBACK#"
	skSequence  = "SEQUENCE#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	createOnly = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
)

var (
	ErrNotFound = errors.New("repository: not found")
	ErrConflict = errors.New("repository: conflicting write")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table for conversation state.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for a turn created at ts.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

func key(conversationID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// CreateConversation writes the conversation metadata and its opening turn in
// one transaction. It fails with ErrConflict if the conversation exists.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation, opening domain.Turn) error {
	if conv.ID == "" {
		return errors.New("repository: CreateConversation: conversation id is required")
	}
	now := c.now().UTC()
	conv.CreatedAt = now
	conv.LastActivity = now
	opening.ConversationID = conv.ID
	opening.CreatedAt = now

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                c.metaItem(conv),
				ConditionExpression: aws.String(createOnly),
			}},
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                c.turnItem(opening, 0),
				ConditionExpression: aws.String(createOnly),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", classify(err))
	}
	return nil
}

// GetConversation reads the conversation metadata record.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(conversationID, skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation %q: %w", conversationID, ErrNotFound)
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return conv, nil
}

// GetHistory queries the most recent turns of a conversation and returns them
// in chronological order.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		t, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		t.ConversationID = conversationID
		turns = append(turns, t)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SaveTurn writes a completed turn and the updated metadata in one transaction.
// The metadata write only succeeds if the stored conversation is still active
// and its turn count still equals prevTurns; otherwise ErrConflict is returned.
func (c *Client) SaveTurn(ctx context.Context, conv domain.Conversation, turn domain.Turn, prevTurns int) error {
	if conv.ID == "" {
		return errors.New("repository: SaveTurn: conversation id is required")
	}
	now := c.now().UTC()
	conv.LastActivity = now
	turn.ConversationID = conv.ID
	turn.CreatedAt = now

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                c.turnItem(turn, conv.Turns),
				ConditionExpression: aws.String(createOnly),
			}},
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                c.metaItem(conv),
				ConditionExpression: aws.String("turns = :prev AND #status = :active"),
				ExpressionAttributeNames: map[string]string{
					"#status": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":prev":   &types.AttributeValueMemberN{Value: strconv.Itoa(prevTurns)},
					":active": &types.AttributeValueMemberS{Value: string(domain.ConversationActive)},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", classify(err))
	}
	return nil
}

// CompleteConversation marks a conversation as completed.
func (c *Client) CompleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(conversationID, skMeta),
		UpdateExpression:    aws.String("SET #status = :status, lastActivity = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(domain.ConversationCompleted)},
			":now":    &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrConflict) {
			err = ErrNotFound
		}
		return fmt.Errorf("repository: CompleteConversation: %w", err)
	}
	return nil
}

// SaveFeedback stores the feedback report. Reports are immutable once written.
func (c *Client) SaveFeedback(ctx context.Context, fb domain.Feedback) error {
	if fb.ConversationID == "" {
		return errors.New("repository: SaveFeedback: conversation id is required")
	}
	payload, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("repository: SaveFeedback marshal: %w", err)
	}
	item := key(fb.ConversationID, skFeedback)
	item["payload"] = &types.AttributeValueMemberS{Value: string(payload)}
	item["overallScore"] = &types.AttributeValueMemberN{Value: strconv.Itoa(fb.OverallScore)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String(createOnly),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveFeedback: %w", classify(err))
	}
	return nil
}

// GetFeedback returns the stored feedback report or ErrNotFound.
func (c *Client) GetFeedback(ctx context.Context, conversationID string) (domain.Feedback, error) {
	var fb domain.Feedback
	if err := c.getPayload(ctx, conversationID, skFeedback, &fb); err != nil {
		return domain.Feedback{}, fmt.Errorf("repository: GetFeedback: %w", err)
	}
	return fb, nil
}

// SaveSequenceAnalysis stores the latest sequence analysis for a conversation.
func (c *Client) SaveSequenceAnalysis(ctx context.Context, conversationID string, a domain.SequenceAnalysis) error {
	if conversationID == "" {
		return errors.New("repository: SaveSequenceAnalysis: conversation id is required")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("repository: SaveSequenceAnalysis marshal: %w", err)
	}
	item := key(conversationID, skSequence)
	item["payload"] = &types.AttributeValueMemberS{Value: string(payload)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSequenceAnalysis: %w", err)
	}
	return nil
}

// GetSequenceAnalysis returns the stored analysis or ErrNotFound.
func (c *Client) GetSequenceAnalysis(ctx context.Context, conversationID string) (domain.SequenceAnalysis, error) {
	var a domain.SequenceAnalysis
	if err := c.getPayload(ctx, conversationID, skSequence, &a); err != nil {
		return domain.SequenceAnalysis{}, fmt.Errorf("repository: GetSequenceAnalysis: %w", err)
	}
	return a, nil
}

func (c *Client) getPayload(ctx context.Context, conversationID, sk string, v any) error {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(conversationID, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return ErrNotFound
	}
	payload, err := strAttr(out.Item, "payload")
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// classify maps conditional write failures to ErrConflict.
func classify(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, r := range txErr.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
		}
	}
	return err
}

func (c *Client) metaItem(conv domain.Conversation) map[string]types.AttributeValue {
	item := key(conv.ID, skMeta)
	item["conversationId"] = &types.AttributeValueMemberS{Value: conv.ID}
	item["scenarioId"] = &types.AttributeValueMemberS{Value: conv.ScenarioID}
	item["personaId"] = &types.AttributeValueMemberS{Value: conv.PersonaID}
	item["language"] = &types.AttributeValueMemberS{Value: conv.Language}
	item["status"] = &types.AttributeValueMemberS{Value: string(conv.Status)}
	item["turns"] = &types.AttributeValueMemberN{Value: strconv.Itoa(conv.Turns)}
	item["createdAt"] = &types.AttributeValueMemberS{Value: conv.CreatedAt.UTC().Format(time.RFC3339)}
	item["lastActivity"] = &types.AttributeValueMemberS{Value: conv.LastActivity.UTC().Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)}
	return item
}

func (c *Client) turnItem(t domain.Turn, index int) map[string]types.AttributeValue {
	item := key(t.ConversationID, msgSK(t.CreatedAt))
	item["conversationId"] = &types.AttributeValueMemberS{Value: t.ConversationID}
	item["text"] = &types.AttributeValueMemberS{Value: t.Message}
	item["answer"] = &types.AttributeValueMemberS{Value: t.Reply}
	item["emotion"] = &types.AttributeValueMemberS{Value: string(t.Emotion)}
	item["emotionReason"] = &types.AttributeValueMemberS{Value: t.EmotionReason}
	item["turn"] = &types.AttributeValueMemberN{Value: strconv.Itoa(index)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)}
	return item
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	scenarioID, err := strAttr(item, "scenarioId")
	if err != nil {
		return domain.Conversation{}, err
	}
	personaID, err := strAttr(item, "personaId")
	if err != nil {
		return domain.Conversation{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("decode turns: %w", err)
	}
	status, _ := strAttr(item, "status")
	if status == "" {
		status = string(domain.ConversationActive)
	}
	language, _ := strAttr(item, "language")

	return domain.Conversation{
		ID:           id,
		ScenarioID:   scenarioID,
		PersonaID:    personaID,
		Language:     language,
		Status:       domain.ConversationStatus(status),
		Turns:        turns,
		CreatedAt:    timeAttr(item, "createdAt"),
		LastActivity: timeAttr(item, "lastActivity"),
	}, nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	answer, _ := strAttr(item, "answer")
	emotion, _ := strAttr(item, "emotion")
	reason, _ := strAttr(item, "emotionReason")

	e, _ := domain.ParseEmotion(emotion)
	created, _ := time.Parse(time.RFC3339Nano, strings.TrimPrefix(sk, skPrefixMsg))
	return domain.Turn{
		SK:            sk,
		Message:       text,
		Reply:         answer,
		Emotion:       e,
		EmotionReason: reason,
		CreatedAt:     created,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) time.Time {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
