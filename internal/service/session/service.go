// Package session acquires, restores and persists the customer's anonymous
// support identity.
package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"chat-widget/internal/api"
	"chat-widget/internal/dto"
	"chat-widget/internal/logging"
	"chat-widget/internal/store"

	"github.com/rs/zerolog"
)

type ErrorCode string

const (
	ErrorCodeValidation ErrorCode = "validation_error"
	ErrorCodeTransport  ErrorCode = "transport_error"
	ErrorCodeStorage    ErrorCode = "storage_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Backend is the part of the support API the manager needs.
type Backend interface {
	RegisterCustomer(ctx context.Context, req dto.RegisterCustomerRequest) (string, error)
	RequestSupport(ctx context.Context, customerSessionID string) error
}

var _ Backend = (*api.Client)(nil)

// Visitor holds the optional pre-chat form details.
type Visitor struct {
	Name  string
	Email string
}

type Manager struct {
	backend Backend
	store   store.Store
	logger  zerolog.Logger
}

func New(backend Backend, s store.Store, logger zerolog.Logger) *Manager {
	return &Manager{
		backend: backend,
		store:   s,
		logger:  logging.Component(logger, "session"),
	}
}

// Acquire registers the visitor, reusing existingID as the candidate session,
// and persists the canonical id the backend returns. It does not retry.
func (m *Manager) Acquire(ctx context.Context, existingID string, visitor Visitor) (string, error) {
	req := dto.RegisterCustomerRequest{
		SessionID: strings.TrimSpace(existingID),
		Name:      strings.TrimSpace(visitor.Name),
		Email:     strings.TrimSpace(visitor.Email),
	}

	id, err := m.backend.RegisterCustomer(ctx, req)
	if err != nil {
		return "", newError(ErrorCodeTransport, "failed to register customer", err)
	}
	if id == "" {
		return "", newError(ErrorCodeValidation, "backend returned an empty customer session", nil)
	}

	if err := m.store.Set(ctx, store.KeyCustomerSession, id); err != nil {
		return "", newError(ErrorCodeStorage, "failed to persist customer session", err)
	}

	m.logger.Info().
		Str("customer_session", id).
		Bool("reused", id == req.SessionID).
		Msg("customer session acquired")
	return id, nil
}

// Restore returns the persisted customer session id, or "" when none is stored.
// The id is not checked against the backend.
func (m *Manager) Restore(ctx context.Context) (string, error) {
	id, ok, err := m.store.Get(ctx, store.KeyCustomerSession)
	if err != nil {
		return "", newError(ErrorCodeStorage, "failed to read customer session", err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(id), nil
}

// RestoreChat returns the persisted chat session id. A value that does not
// parse as a positive integer is removed and reported as absent.
func (m *Manager) RestoreChat(ctx context.Context) (int64, bool, error) {
	raw, ok, err := m.store.Get(ctx, store.KeyChatSession)
	if err != nil {
		return 0, false, newError(ErrorCodeStorage, "failed to read chat session", err)
	}
	if !ok {
		return 0, false, nil
	}

	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		m.logger.Warn().Str("value", raw).Msg("discarding unparsable chat session id")
		if err := m.store.Remove(ctx, store.KeyChatSession); err != nil {
			return 0, false, newError(ErrorCodeStorage, "failed to remove chat session", err)
		}
		return 0, false, nil
	}
	return id, true, nil
}

func (m *Manager) PersistChat(ctx context.Context, chatSessionID int64) error {
	if chatSessionID <= 0 {
		return newError(ErrorCodeValidation, "chat session id must be positive", nil)
	}
	if err := m.store.Set(ctx, store.KeyChatSession, strconv.FormatInt(chatSessionID, 10)); err != nil {
		return newError(ErrorCodeStorage, "failed to persist chat session", err)
	}
	return nil
}

// RequestSupport pages an agent for the customer session.
func (m *Manager) RequestSupport(ctx context.Context, customerSessionID string) error {
	if customerSessionID == "" {
		return newError(ErrorCodeValidation, "customer session is required", nil)
	}
	if err := m.backend.RequestSupport(ctx, customerSessionID); err != nil {
		return newError(ErrorCodeTransport, "failed to request support", err)
	}
	m.logger.Info().Str("customer_session", customerSessionID).Msg("support requested")
	return nil
}

// Clear forgets the chat binding. The customer session id stays persisted.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Remove(ctx, store.KeyChatSession); err != nil {
		return newError(ErrorCodeStorage, "failed to clear chat session", err)
	}
	return nil
}

// Forget removes every persisted identifier.
func (m *Manager) Forget(ctx context.Context) error {
	for _, key := range []string{store.KeyChatSession, store.KeyCustomerSession} {
		if err := m.store.Remove(ctx, key); err != nil {
			return newError(ErrorCodeStorage, "failed to clear "+key, err)
		}
	}
	return nil
}
