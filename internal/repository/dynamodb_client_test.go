package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"roleplay-coach/internal/domain"
)

type fakeDynamo struct {
	getOut          *dynamodb.GetItemOutput
	getErr          error
	putErr          error
	updateErr       error
	queryOut        *dynamodb.QueryOutput
	queryErr        error
	txErr           error
	lastGetInput    *dynamodb.GetItemInput
	lastPutInput    *dynamodb.PutItemInput
	lastUpdateInput *dynamodb.UpdateItemInput
	lastQueryIn     *dynamodb.QueryInput
	lastTxInput     *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateInput = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func makeTurnItem(sk, text, answer, emotion string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: "CONV#abc"},
		"SK":      &types.AttributeValueMemberS{Value: sk},
		"text":    &types.AttributeValueMemberS{Value: text},
		"answer":  &types.AttributeValueMemberS{Value: answer},
		"emotion": &types.AttributeValueMemberS{Value: emotion},
	}
}

func makeMetaItem(turns int, status string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: "CONV#abc"},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: "abc"},
		"scenarioId":     &types.AttributeValueMemberS{Value: "launch-delay"},
		"personaId":      &types.AttributeValueMemberS{Value: "kim-cto"},
		"language":       &types.AttributeValueMemberS{Value: "ko"},
		"status":         &types.AttributeValueMemberS{Value: status},
		"turns":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turns)},
		"createdAt":      &types.AttributeValueMemberS{Value: "2026-03-01T08:00:00Z"},
	}
}

func conditionFailed() error {
	return &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "test-table")
	require.ErrorContains(t, err, "must not be nil")

	_, err = New(&fakeDynamo{}, " ")
	require.ErrorContains(t, err, "must not be empty")
}

func TestKeys(t *testing.T) {
	require.Equal(t, "CONV#my-conv", convPK("my-conv"))
	sk := msgSK(time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC))
	require.Equal(t, "MSG#2026-02-25T10:00:00Z", sk)
}

func TestCreateConversation_WritesMetaAndOpeningTurn(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.CreateConversation(context.Background(),
		domain.Conversation{ID: "abc", ScenarioID: "launch-delay", PersonaID: "kim-cto", Language: "en", Status: domain.ConversationActive},
		domain.Turn{Reply: "Make it quick.", Emotion: domain.EmotionTired},
	)
	require.NoError(t, err)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	meta := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, createOnly, *meta.ConditionExpression)
	require.Equal(t, "META#", meta.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "0", meta.Item["turns"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "active", meta.Item["status"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, fixedNow.Format(time.RFC3339), meta.Item["createdAt"].(*types.AttributeValueMemberS).Value)

	turn := db.lastTxInput.TransactItems[1].Put
	require.Equal(t, "CONV#abc", turn.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, msgSK(fixedNow), turn.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "", turn.Item["text"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "Make it quick.", turn.Item["answer"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "tired", turn.Item["emotion"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, fmt.Sprintf("%d", fixedNow.Add(ttlDuration).Unix()), turn.Item["ttl"].(*types.AttributeValueMemberN).Value)
}

func TestCreateConversation_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.CreateConversation(context.Background(), domain.Conversation{}, domain.Turn{})
	require.ErrorContains(t, err, "conversation id is required")

	c = mustNewClient(t, &fakeDynamo{txErr: conditionFailed()})
	err = c.CreateConversation(context.Background(), domain.Conversation{ID: "abc"}, domain.Turn{})
	require.ErrorIs(t, err, ErrConflict)
}

func TestGetConversation_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeMetaItem(3, "active")}}
	c := mustNewClient(t, db)

	conv, err := c.GetConversation(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", conv.ID)
	require.Equal(t, "launch-delay", conv.ScenarioID)
	require.Equal(t, "kim-cto", conv.PersonaID)
	require.Equal(t, "ko", conv.Language)
	require.Equal(t, domain.ConversationActive, conv.Status)
	require.Equal(t, 3, conv.Turns)
	require.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), conv.CreatedAt)
	require.True(t, conv.LastActivity.IsZero())
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetConversation_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, err := c.GetConversation(context.Background(), "abc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetConversation_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.GetConversation(context.Background(), "abc")
	require.ErrorContains(t, err, "GetConversation")

	item := makeMetaItem(1, "active")
	item["turns"] = &types.AttributeValueMemberS{Value: "bad"}
	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err = c.GetConversation(context.Background(), "abc")
	require.ErrorContains(t, err, "decode turns")
}

func TestGetConversation_DefaultsStatus(t *testing.T) {
	item := makeMetaItem(1, "")
	delete(item, "status")
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	conv, err := c.GetConversation(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, domain.ConversationActive, conv.Status)
}

func TestGetHistory_ReordersDescendingResultsToChronological(t *testing.T) {
	db := &fakeDynamo{
		queryOut: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{
				makeTurnItem("MSG#2026-02-27T12:00:00Z", "newer", "reply 2", "angry"),
				makeTurnItem("MSG#2026-02-27T11:00:00Z", "", "opening", "unknown-emotion"),
			},
		},
	}
	c := mustNewClient(t, db)
	turns, err := c.GetHistory(context.Background(), "abc", 20)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "opening", turns[0].Reply)
	require.Equal(t, domain.EmotionNeutral, turns[0].Emotion)
	require.Equal(t, "newer", turns[1].Message)
	require.Equal(t, domain.EmotionAngry, turns[1].Emotion)
	require.Equal(t, "abc", turns[1].ConversationID)
	require.Equal(t, time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC), turns[1].CreatedAt)

	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.lastQueryIn.KeyConditionExpression)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.Equal(t, int32(20), *db.lastQueryIn.Limit)
}

func TestGetHistory_NoLimit(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewClient(t, db)
	turns, err := c.GetHistory(context.Background(), "abc", 0)
	require.NoError(t, err)
	require.Empty(t, turns)
	require.Nil(t, db.lastQueryIn.Limit)
}

func TestGetHistory_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.GetHistory(context.Background(), "abc", 20)
	require.ErrorContains(t, err, "GetHistory")

	item := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "CONV#abc"},
		"SK": &types.AttributeValueMemberS{Value: "MSG#ts"},
	}
	c = mustNewClient(t, &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}})
	_, err = c.GetHistory(context.Background(), "abc", 20)
	require.ErrorContains(t, err, "text")
}

func TestSaveTurn_ConditionsOnPreviousTurnCount(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	conv := domain.Conversation{ID: "abc", ScenarioID: "s", PersonaID: "p", Status: domain.ConversationActive, Turns: 4}
	err := c.SaveTurn(context.Background(), conv, domain.Turn{Message: "hi", Reply: "hello", Emotion: domain.EmotionJoy}, 3)
	require.NoError(t, err)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	turn := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, createOnly, *turn.ConditionExpression)
	require.Equal(t, "4", turn.Item["turn"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "hi", turn.Item["text"].(*types.AttributeValueMemberS).Value)

	meta := db.lastTxInput.TransactItems[1].Put
	require.Equal(t, "turns = :prev AND #status = :active", *meta.ConditionExpression)
	require.Equal(t, "3", meta.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "4", meta.Item["turns"].(*types.AttributeValueMemberN).Value)
}

func TestSaveTurn_RequiresStoredConversationActive(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	// The final turn writes completed status but must still find the stored record active.
	conv := domain.Conversation{ID: "abc", ScenarioID: "s", PersonaID: "p", Status: domain.ConversationCompleted, Turns: 10}
	require.NoError(t, c.SaveTurn(context.Background(), conv, domain.Turn{Message: "bye", Reply: "ok"}, 9))

	meta := db.lastTxInput.TransactItems[1].Put
	require.Contains(t, *meta.ConditionExpression, "#status = :active")
	require.Equal(t, "status", meta.ExpressionAttributeNames["#status"])
	require.Equal(t, "active", meta.ExpressionAttributeValues[":active"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "completed", meta.Item["status"].(*types.AttributeValueMemberS).Value)

	// A conversation completed by feedback after it was read fails the condition.
	c = mustNewClient(t, &fakeDynamo{txErr: conditionFailed()})
	stale := domain.Conversation{ID: "abc", ScenarioID: "s", PersonaID: "p", Status: domain.ConversationActive, Turns: 3}
	err := c.SaveTurn(context.Background(), stale, domain.Turn{Message: "hi", Reply: "hello"}, 2)
	require.ErrorIs(t, err, ErrConflict)
}

func TestSaveTurn_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveTurn(context.Background(), domain.Conversation{}, domain.Turn{}, 0)
	require.ErrorContains(t, err, "conversation id is required")

	c = mustNewClient(t, &fakeDynamo{txErr: conditionFailed()})
	err = c.SaveTurn(context.Background(), domain.Conversation{ID: "abc", Turns: 1}, domain.Turn{}, 0)
	require.ErrorIs(t, err, ErrConflict)

	c = mustNewClient(t, &fakeDynamo{txErr: errors.New("throttled")})
	err = c.SaveTurn(context.Background(), domain.Conversation{ID: "abc", Turns: 1}, domain.Turn{}, 0)
	require.ErrorContains(t, err, "SaveTurn")
	require.NotErrorIs(t, err, ErrConflict)
}

func TestCompleteConversation(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.CompleteConversation(context.Background(), "abc"))
	require.Equal(t, "completed", db.lastUpdateInput.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_exists(PK)", *db.lastUpdateInput.ConditionExpression)

	c = mustNewClient(t, &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("nope")}})
	err := c.CompleteConversation(context.Background(), "abc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndGetFeedback(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	fb := domain.Feedback{ConversationID: "abc", OverallScore: 72, Summary: "Solid.", Strengths: []string{"clear"}}
	require.NoError(t, c.SaveFeedback(context.Background(), fb))
	require.Equal(t, createOnly, *db.lastPutInput.ConditionExpression)
	require.Equal(t, "FEEDBACK#", db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "72", db.lastPutInput.Item["overallScore"].(*types.AttributeValueMemberN).Value)

	db.getOut = &dynamodb.GetItemOutput{Item: db.lastPutInput.Item}
	got, err := c.GetFeedback(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, fb.Summary, got.Summary)
	require.Equal(t, 72, got.OverallScore)
}

func TestSaveFeedback_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.ErrorContains(t, c.SaveFeedback(context.Background(), domain.Feedback{}), "conversation id is required")

	c = mustNewClient(t, &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}})
	require.ErrorIs(t, c.SaveFeedback(context.Background(), domain.Feedback{ConversationID: "abc"}), ErrConflict)
}

func TestGetFeedback_NotFoundAndMalformed(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, err := c.GetFeedback(context.Background(), "abc")
	require.ErrorIs(t, err, ErrNotFound)

	item := key("abc", skFeedback)
	item["payload"] = &types.AttributeValueMemberS{Value: "{not json"}
	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}})
	_, err = c.GetFeedback(context.Background(), "abc")
	require.ErrorContains(t, err, "decode payload")
}

func TestSaveAndGetSequenceAnalysis(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	a := domain.SequenceAnalysis{ScenarioID: "launch-delay", SelectionOrder: []string{"a", "b"}, OrderScore: 4}
	require.NoError(t, c.SaveSequenceAnalysis(context.Background(), "abc", a))
	require.Nil(t, db.lastPutInput.ConditionExpression)
	require.Equal(t, "SEQUENCE#", db.lastPutInput.Item["SK"].(*types.AttributeValueMemberS).Value)

	db.getOut = &dynamodb.GetItemOutput{Item: db.lastPutInput.Item}
	got, err := c.GetSequenceAnalysis(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, a.SelectionOrder, got.SelectionOrder)
	require.Equal(t, 4, got.OrderScore)

	require.ErrorContains(t, c.SaveSequenceAnalysis(context.Background(), "", a), "required")
}
