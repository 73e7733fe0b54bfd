// Package tracing carries per-reply identifiers through contexts and into log lines.
package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// ClientIDKey is the context key for the websocket client ID
	ClientIDKey ContextKey = "client_id"
	// ConversationIDKey is the context key for the conversation ID
	ConversationIDKey ContextKey = "conversation_id"
	// AgentIDKey is the context key for agent ID
	AgentIDKey ContextKey = "agent_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID        string
	ClientID       string
	ConversationID string
	AgentID        string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetClientID retrieves the client ID from the context
func GetClientID(ctx context.Context) string {
	return stringValue(ctx, ClientIDKey)
}

// GetConversationID retrieves the conversation ID from the context
func GetConversationID(ctx context.Context) string {
	return stringValue(ctx, ConversationIDKey)
}

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string {
	return stringValue(ctx, AgentIDKey)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:        GetTraceID(ctx),
		ClientID:       GetClientID(ctx),
		ConversationID: GetConversationID(ctx),
		AgentID:        GetAgentID(ctx),
	}
}

// NewContext stores the non-empty fields of tc in ctx.
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.ClientID != "" {
		ctx = context.WithValue(ctx, ClientIDKey, tc.ClientID)
	}
	if tc.ConversationID != "" {
		ctx = context.WithValue(ctx, ConversationIDKey, tc.ConversationID)
	}
	if tc.AgentID != "" {
		ctx = context.WithValue(ctx, AgentIDKey, tc.AgentID)
	}
	return ctx
}

// NewReplyContext starts a trace for one reply to clientID in conversationID.
func NewReplyContext(ctx context.Context, clientID, conversationID, agentID string) context.Context {
	return NewContext(ctx, &TraceContext{
		TraceID:        NewTraceID(),
		ClientID:       clientID,
		ConversationID: conversationID,
		AgentID:        agentID,
	})
}

// LoggerFromContext adds the tracing fields found in ctx to logger.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := logger.With()

	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.ClientID != "" {
		lc = lc.Str("clientId", tc.ClientID)
	}
	if tc.ConversationID != "" {
		lc = lc.Str("conversationId", tc.ConversationID)
	}
	if tc.AgentID != "" {
		lc = lc.Str("agentId", tc.AgentID)
	}
	return lc.Logger()
}
