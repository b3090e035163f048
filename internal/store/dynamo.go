package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-widget/internal/database"
	"chat-widget/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type itemClient interface {
	PutItem(ctx context.Context, tableName string, item interface{}) error
	GetItem(ctx context.Context, tableName string, key map[string]types.AttributeValue, out interface{}) error
	DeleteItem(ctx context.Context, tableName string, key map[string]types.AttributeValue) error
}

// DynamoStore persists values as items of a DynamoDB table keyed by "pk".
type DynamoStore struct {
	client itemClient
	table  string
}

func NewDynamo(client *database.DynamoDBClient, table string) *DynamoStore {
	if table == "" {
		table = model.SessionsTable
	}
	return &DynamoStore{client: client, table: table}
}

func itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": database.AttrString(key),
	}
}

func (d *DynamoStore) Get(ctx context.Context, key string) (string, bool, error) {
	var item model.SessionItem
	err := d.client.GetItem(ctx, d.table, itemKey(key), &item)
	if errors.Is(err, database.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value, true, nil
}

func (d *DynamoStore) Set(ctx context.Context, key, value string) error {
	item := model.SessionItem{
		PK:        key,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := d.client.PutItem(ctx, d.table, item); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (d *DynamoStore) Remove(ctx context.Context, key string) error {
	if err := d.client.DeleteItem(ctx, d.table, itemKey(key)); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (d *DynamoStore) Close() error {
	return nil
}
