package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dotsetgreg/mindful/pkg/config"
	"github.com/dotsetgreg/mindful/pkg/memory"
	"github.com/dotsetgreg/mindful/pkg/providers"
)

// ErrEmptyMessage is returned for input that is empty after trimming.
// Nothing is persisted in that case.
var ErrEmptyMessage = errors.New("message must not be empty")

// MemoryStore is the slice of the memory service a turn needs.
type MemoryStore interface {
	GetOrCreateUser(ctx context.Context, id string) (memory.User, error)
	GetOrCreateConversation(ctx context.Context, userID string) (memory.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, role, content string) (memory.Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]memory.Message, error)
	GetUserMemory(ctx context.Context, userID string) (memory.Record, error)
	ScheduleConsolidation(ctx context.Context, userID string, exchange []memory.Exchange)
}

// Service orchestrates one chat turn: identity, persistence, context
// assembly, the completion call, and the consolidation trigger.
type Service struct {
	cfg      config.CompanionConfig
	provider providers.LLMProvider
	mem      MemoryStore
	builder  *ContextBuilder
}

func NewService(cfg config.CompanionConfig, provider providers.LLMProvider, mem MemoryStore) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("chat: provider is required")
	}
	if mem == nil {
		return nil, fmt.Errorf("chat: memory store is required")
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 16
	}
	if strings.TrimSpace(cfg.FallbackReply) == "" {
		cfg.FallbackReply = "I'm here with you. Could you share a bit more?"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60
	}
	return &Service{
		cfg:      cfg,
		provider: provider,
		mem:      mem,
		builder:  NewContextBuilder(cfg.HistoryWindow, cfg.StyleExemplars),
	}, nil
}

// HandleTurn runs a full turn for the given anonymous user and returns
// the assistant reply. A completion failure degrades to the configured
// fallback reply; storage failures abort the turn.
func (s *Service) HandleTurn(ctx context.Context, userID, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	user, err := s.mem.GetOrCreateUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	conv, err := s.mem.GetOrCreateConversation(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("resolve conversation: %w", err)
	}
	rec, err := s.mem.GetUserMemory(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("load memory: %w", err)
	}

	// Persist the user message before reading the window so the window
	// always carries the current message.
	if _, err := s.mem.AppendMessage(ctx, conv.ID, memory.RoleUser, message); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}
	history, err := s.mem.ListRecentMessages(ctx, conv.ID, s.cfg.HistoryWindow)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	reply := s.generate(ctx, rec, history, message)

	if _, err := s.mem.AppendMessage(ctx, conv.ID, memory.RoleAssistant, reply); err != nil {
		return "", fmt.Errorf("persist assistant message: %w", err)
	}

	s.mem.ScheduleConsolidation(ctx, user.ID, []memory.Exchange{
		{Role: memory.RoleUser, Content: message},
		{Role: memory.RoleAssistant, Content: reply},
	})

	return reply, nil
}

// generate runs the completion call and degrades every failure mode,
// including empty output, to the fallback reply.
func (s *Service) generate(ctx context.Context, rec memory.Record, history []memory.Message, message string) string {
	system := s.builder.SystemPrompt(rec)
	msgs := s.builder.BuildMessages(history, message)

	full := make([]providers.Message, 0, len(msgs)+1)
	full = append(full, providers.Message{Role: "system", Content: system})
	full = append(full, msgs...)

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.RequestTimeout)*time.Second)
	defer cancel()

	resp, err := s.provider.Chat(callCtx, full, s.cfg.Model, map[string]interface{}{
		"max_tokens":        s.cfg.MaxTokens,
		"temperature":       s.cfg.Temperature,
		"top_p":             s.cfg.TopP,
		"frequency_penalty": s.cfg.FrequencyPenalty,
		"presence_penalty":  s.cfg.PresencePenalty,
	})
	if err != nil {
		log.Warn().Err(err).Msg("completion failed, using fallback reply")
		return s.cfg.FallbackReply
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		log.Warn().Str("finish_reason", resp.FinishReason).Msg("completion returned no content, using fallback reply")
		return s.cfg.FallbackReply
	}
	return reply
}
