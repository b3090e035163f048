// Package store persists the widget's session identifiers.
package store

import (
	"context"
	"fmt"

	"chat-widget/internal/config"
	"chat-widget/internal/database"
)

// Keys written by the session manager.
const (
	KeyCustomerSession = "customerSessionID"
	KeyChatSession     = "chatSessionID"
)

// Store is a small string key/value store. Values never expire.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set creates or replaces the value for key.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases the underlying connection.
	Close() error
}

// Open builds the backend selected by cfg.Backend, scoped to namespace.
func Open(ctx context.Context, cfg config.StoreConfig, namespace string) (Store, error) {
	var (
		s   Store
		err error
	)

	switch cfg.Backend {
	case config.StoreMemory:
		s = NewMemory()
	case config.StoreSQLite:
		s, err = NewSQLite(cfg.Path)
	case config.StoreRedis:
		s, err = NewRedis(ctx, cfg.RedisURL, cfg.RedisPass)
	case config.StoreDynamoDB:
		var client *database.DynamoDBClient
		client, err = database.NewDynamoDBClient(ctx, cfg)
		if err == nil {
			s = NewDynamo(client, cfg.DynamoTable)
		}
	default:
		return nil, fmt.Errorf("store open: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("store open %s: %w", cfg.Backend, err)
	}

	return Prefixed(s, namespace), nil
}

type prefixed struct {
	Store
	prefix string
}

// Prefixed scopes every key of s under namespace so several widgets can share
// one backend. An empty namespace returns s unchanged.
func Prefixed(s Store, namespace string) Store {
	if namespace == "" {
		return s
	}
	return &prefixed{Store: s, prefix: namespace + ":"}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.Store.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Remove(ctx context.Context, key string) error {
	return p.Store.Remove(ctx, p.prefix+key)
}
