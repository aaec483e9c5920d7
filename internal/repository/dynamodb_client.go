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

	"movie-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	// maxTransactItems is the DynamoDB limit for one TransactWriteItems call.
	maxTransactItems = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table for thread history. Each message is one item
// under the thread partition, sorted by a per-thread sequence number kept in
// the META# item.
type Client struct {
	api         dynamodbAPI
	tableName   string
	maxMessages int
	now         func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, maxMessages int) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Client{api: api, tableName: tableName, maxMessages: maxMessages, now: time.Now}, nil
}

// threadPK returns the DynamoDB partition key for a thread.
func threadPK(threadID string) string {
	return "THREAD#" + threadID
}

// msgSK returns the sort key for the message at position seq. The number is
// zero-padded so that lexical order matches append order.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%010d", skPrefixMsg, seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// Load returns the newest messages of a thread in chronological order.
func (c *Client) Load(ctx context.Context, threadID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: threadPK(threadID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT keeps the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(c.maxMessages)),
		ConsistentRead:   aws.Bool(true),
	}

	// Newest first. A full window with no human message is extended page by
	// page until the turn it belongs to starts.
	var msgs []domain.Message
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: Load query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: Load unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(msgs) < c.maxMessages || len(out.LastEvaluatedKey) == 0 || hasHuman(msgs) {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if len(msgs) >= c.maxMessages {
		// The window may have been cut mid-turn.
		msgs = cutAtTurn(msgs, len(msgs)-c.maxMessages)
	}
	return msgs, nil
}

// Append writes msgs after the stored ones and bumps the sequence counter in
// one transaction. The counter condition rejects a concurrent writer.
func (c *Client) Append(ctx context.Context, threadID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if len(msgs)+1 > maxTransactItems {
		return fmt.Errorf("repository: Append: %d messages exceed one transaction", len(msgs))
	}

	count, err := c.messageCount(ctx, threadID)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}

	ttl := c.ttlValue()
	items := make([]types.TransactWriteItem, 0, len(msgs)+1)
	for i, msg := range msgs {
		item, err := messageItem(threadID, count+i, msg, ttl)
		if err != nil {
			return fmt.Errorf("repository: Append: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	meta := &types.Put{
		TableName: aws.String(c.tableName),
		Item:      c.metaItem(threadID, count+len(msgs), ttl),
	}
	if count == 0 {
		meta.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		meta.ConditionExpression = aws.String("#count = :prev")
		meta.ExpressionAttributeNames = map[string]string{"#count": "count"}
		meta.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
		}
	}
	items = append(items, types.TransactWriteItem{Put: meta})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// messageCount returns how many messages were ever appended to a thread.
func (c *Client) messageCount(ctx context.Context, threadID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(threadID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}
	count, err := intAttr(out.Item, "count")
	if err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return count, nil
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	raw, err := strAttr(item, "message")
	if err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return domain.Message{}, fmt.Errorf("repository: decode message: %w", err)
	}
	return msg, nil
}

func messageItem(threadID string, seq int, msg domain.Message, ttl int64) (map[string]types.AttributeValue, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: threadPK(threadID)},
		"SK":       &types.AttributeValueMemberS{Value: msgSK(seq)},
		"threadId": &types.AttributeValueMemberS{Value: threadID},
		"role":     &types.AttributeValueMemberS{Value: string(msg.Role)},
		"message":  &types.AttributeValueMemberS{Value: string(raw)},
		"ttl":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}, nil
}

func (c *Client) metaItem(threadID string, count int, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: threadPK(threadID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"threadId":     &types.AttributeValueMemberS{Value: threadID},
		"lastActivity": &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		"count":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", count)},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
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
