// Package repository persists relay session records in DynamoDB.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"review-gateway/internal/domain"
)

const (
	pkPrefixSession = "SESSION#"
	skMeta          = "META#"
)

// dynamodbAPI is the minimal DynamoDB interface required by SessionStore.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// SessionStore writes one item per finished relay session.
type SessionStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
}

// New creates a SessionStore. Items expire ttl after the session ends;
// a zero ttl omits the expiry attribute.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*SessionStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl < 0 {
		return nil, errors.New("repository: ttl must not be negative")
	}
	return &SessionStore{api: api, tableName: tableName, ttl: ttl}, nil
}

func sessionPK(sessionID string) string {
	return pkPrefixSession + sessionID
}

// RecordSession writes or replaces the record for rec.SessionID.
func (s *SessionStore) RecordSession(ctx context.Context, rec domain.SessionRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("repository: RecordSession: session id is required")
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.sessionItem(rec),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordSession: %w", err)
	}
	return nil
}

func (s *SessionStore) sessionItem(rec domain.SessionRecord) map[string]types.AttributeValue {
	durationMs := rec.EndedAt.Sub(rec.StartedAt).Milliseconds()
	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: sessionPK(rec.SessionID)},
		"SK":         &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":  &types.AttributeValueMemberS{Value: rec.SessionID},
		"status":     &types.AttributeValueMemberS{Value: rec.Status},
		"chunks":     &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Chunks)},
		"bytes":      &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Bytes, 10)},
		"startedAt":  &types.AttributeValueMemberS{Value: rec.StartedAt.UTC().Format(time.RFC3339Nano)},
		"endedAt":    &types.AttributeValueMemberS{Value: rec.EndedAt.UTC().Format(time.RFC3339Nano)},
		"durationMs": &types.AttributeValueMemberN{Value: strconv.FormatInt(durationMs, 10)},
	}
	// Optional fields are omitted when empty.
	if rec.Reason != "" {
		item["reason"] = &types.AttributeValueMemberS{Value: rec.Reason}
	}
	if rec.RequestID != "" {
		item["requestId"] = &types.AttributeValueMemberS{Value: rec.RequestID}
	}
	if rec.OriginalHost != "" {
		item["originalHost"] = &types.AttributeValueMemberS{Value: rec.OriginalHost}
	}
	if s.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.EndedAt.Add(s.ttl).Unix(), 10)}
	}
	return item
}
