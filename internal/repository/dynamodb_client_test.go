package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"movie-agent/internal/domain"
)

// fakeDynamo stores items in memory and understands just enough of the
// query and condition expressions used by Client.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue

	getErr   error
	queryErr error
	txErr    error

	lastGetInput *dynamodb.GetItemInput
	lastQueryIn  *dynamodb.QueryInput
	queryCalls   int
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value + "|" + item["SK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value

	var keys []string
	for k := range f.items {
		if strings.HasPrefix(k, pk+"|"+prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}
	if in.ExclusiveStartKey != nil {
		start := itemKey(in.ExclusiveStartKey)
		for i, k := range keys {
			if k == start {
				keys = keys[i+1:]
				break
			}
		}
	}
	out := &dynamodb.QueryOutput{}
	if in.Limit != nil && int(*in.Limit) < len(keys) {
		keys = keys[:*in.Limit]
		last := f.items[keys[len(keys)-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	for _, k := range keys {
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	if f.txErr != nil {
		return nil, f.txErr
	}
	for _, ti := range in.TransactItems {
		put := ti.Put
		existing, exists := f.items[itemKey(put.Item)]
		switch cond := *put.ConditionExpression; {
		case strings.HasPrefix(cond, "attribute_not_exists"):
			if exists {
				return nil, errors.New("TransactionCanceledException: ConditionalCheckFailed")
			}
		case cond == "#count = :prev":
			prev := put.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value
			if !exists || existing["count"].(*types.AttributeValueMemberN).Value != prev {
				return nil, errors.New("TransactionCanceledException: ConditionalCheckFailed")
			}
		}
	}
	for _, ti := range in.TransactItems {
		f.items[itemKey(ti.Put.Item)] = ti.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo, maxMessages int) *Client {
	t.Helper()
	c, err := New(db, "test-table", maxMessages)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC) }
	return c
}

func turn(question, answer string) []domain.Message {
	return []domain.Message{domain.NewHumanMessage(question), domain.NewAssistantMessage(answer)}
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(newFakeDynamo(), " ", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestNew_DefaultMaxMessages(t *testing.T) {
	c, err := New(newFakeDynamo(), "test-table", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxMessages, c.maxMessages)
}

func TestThreadPK(t *testing.T) {
	require.Equal(t, "THREAD#my-thread", threadPK("my-thread"))
}

func TestMsgSK_SortsInAppendOrder(t *testing.T) {
	require.Equal(t, "MSG#0000000007", msgSK(7))
	require.Less(t, msgSK(9), msgSK(10))
}

func TestLoad_EmptyThread(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 10)
	msgs, err := c.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestLoad_QueryShape(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 10)
	_, err := c.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.lastQueryIn.KeyConditionExpression)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.Equal(t, int32(10), *db.lastQueryIn.Limit)
}

func TestLoad_QueryError(t *testing.T) {
	db := newFakeDynamo()
	db.queryErr = errors.New("ResourceNotFoundException")
	c := mustNewClient(t, db, 10)
	_, err := c.Load(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Load")
}

func TestLoad_MalformedItem(t *testing.T) {
	db := newFakeDynamo()
	db.items["THREAD#abc|MSG#0000000000"] = map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "THREAD#abc"},
		"SK": &types.AttributeValueMemberS{Value: "MSG#0000000000"},
	}
	c := mustNewClient(t, db, 10)
	_, err := c.Load(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "message")
}

func TestAppendThenLoad_PreservesOrderAndFields(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 50)
	ctx := context.Background()

	first := []domain.Message{
		domain.NewHumanMessage("Can you recommend some comedy movies?"),
		{Role: domain.RoleAssistant, ToolInvocations: []domain.ToolInvocation{{ID: "call_1", Name: "recommend_movies", Arguments: `{"genre":"comedy"}`}}},
		{Role: domain.RoleTool, ToolCallID: "call_1", Content: "- Barbie (Released: 2023-07-19)", ToolResult: &domain.ToolResult{Found: true, Movies: []domain.Movie{{Title: "Barbie", ReleaseDate: "2023-07-19"}}}},
		domain.NewAssistantMessage("- Barbie (Released: 2023-07-19)"),
	}
	require.NoError(t, c.Append(ctx, "abc", first))

	second := turn("What about drama?", "Sorry, nothing found.")
	second[1].Tag = domain.TagFallback
	require.NoError(t, c.Append(ctx, "abc", second))

	got, err := c.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, append(append([]domain.Message{}, first...), second...), got)

	other, err := c.Load(ctx, "other")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestAppend_WritesMessagesAndMetaInOneTransaction(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 50)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "abc", turn("q1", "a1")))
	require.Len(t, db.lastTxInput.TransactItems, 3)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastTxInput.TransactItems[0].Put.ConditionExpression)
	require.Equal(t, "attribute_not_exists(PK)", *db.lastTxInput.TransactItems[2].Put.ConditionExpression)

	require.NoError(t, c.Append(ctx, "abc", turn("q2", "a2")))
	metaPut := db.lastTxInput.TransactItems[2].Put
	require.Equal(t, "#count = :prev", *metaPut.ConditionExpression)
	require.Equal(t, "2", metaPut.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, "4", metaPut.Item["count"].(*types.AttributeValueMemberN).Value)
	require.Equal(t, msgSK(2), db.lastTxInput.TransactItems[0].Put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.NotNil(t, metaPut.Item["ttl"])
}

func TestAppend_ConcurrentWriterIsRejected(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 50)
	ctx := context.Background()
	require.NoError(t, c.Append(ctx, "abc", turn("q1", "a1")))

	// Another writer already put the next message but has not committed its counter.
	db.items["THREAD#abc|"+msgSK(2)] = map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "THREAD#abc"},
		"SK": &types.AttributeValueMemberS{Value: msgSK(2)},
	}
	err := c.Append(ctx, "abc", turn("q2", "a2"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "ConditionalCheckFailed")
}

func TestAppend_NothingToWrite(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 50)
	require.NoError(t, c.Append(context.Background(), "abc", nil))
	require.Nil(t, db.lastTxInput)
	require.Nil(t, db.lastGetInput)
}

func TestAppend_GetMetaError(t *testing.T) {
	db := newFakeDynamo()
	db.getErr = errors.New("boom")
	c := mustNewClient(t, db, 50)
	err := c.Append(context.Background(), "abc", turn("q", "a"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "get meta")
}

func TestAppend_MalformedCount(t *testing.T) {
	db := newFakeDynamo()
	db.items["THREAD#abc|"+skMeta] = map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: "THREAD#abc"},
		"SK":    &types.AttributeValueMemberS{Value: skMeta},
		"count": &types.AttributeValueMemberS{Value: "bad"},
	}
	c := mustNewClient(t, db, 50)
	err := c.Append(context.Background(), "abc", turn("q", "a"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode count")
}

func TestAppend_TransactionError(t *testing.T) {
	db := newFakeDynamo()
	db.txErr = errors.New("transaction canceled")
	c := mustNewClient(t, db, 50)
	err := c.Append(context.Background(), "abc", turn("q", "a"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Append")
}

func TestAppend_TooManyMessages(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 50)
	msgs := make([]domain.Message, maxTransactItems)
	err := c.Append(context.Background(), "abc", msgs)
	require.Error(t, err)
	require.Nil(t, db.lastTxInput)
}

func TestLoad_WindowStartsAtHumanMessage(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 3)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "abc", turn("q1", "a1")))
	require.NoError(t, c.Append(ctx, "abc", []domain.Message{
		domain.NewHumanMessage("q2"),
		{Role: domain.RoleAssistant, ToolInvocations: []domain.ToolInvocation{{ID: "x", Name: "recommend_movies"}}},
		{Role: domain.RoleTool, ToolCallID: "x", Content: "- A (Released: 2020)"},
		domain.NewAssistantMessage("a2"),
	}))

	got, err := c.Load(ctx, "abc")
	require.NoError(t, err)
	// The newest three messages begin with a tool call, so the window grows
	// back to the human message of that turn.
	require.Len(t, got, 4)
	require.Equal(t, "q2", got[0].Content)
	require.Equal(t, "a2", got[3].Content)
	require.Equal(t, 2, db.queryCalls)

	require.NoError(t, c.Append(ctx, "abc", turn("q3", "a3")))
	got, err = c.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, turn("q3", "a3"), got)
}

func TestLoad_ThreadWithoutHumanMessageIsReturnedWhole(t *testing.T) {
	db := newFakeDynamo()
	c := mustNewClient(t, db, 2)
	ctx := context.Background()

	require.NoError(t, c.Append(ctx, "abc", []domain.Message{
		domain.NewAssistantMessage("a1"),
		domain.NewAssistantMessage("a2"),
		domain.NewAssistantMessage("a3"),
	}))

	got, err := c.Load(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a2", got[0].Content)
}
