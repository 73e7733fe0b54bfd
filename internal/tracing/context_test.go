package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithTraceID(t *testing.T) {
	ctx := context.Background()
	traceID := "test-trace-id"

	ctx = WithTraceID(ctx, traceID)

	retrieved := GetTraceID(ctx)
	if retrieved != traceID {
		t.Errorf("Expected trace ID %s, got %s", traceID, retrieved)
	}
}

func TestEmptyContext(t *testing.T) {
	tc := FromContext(context.Background())

	if tc.TraceID != "" || tc.ClientID != "" || tc.ConversationID != "" || tc.AgentID != "" {
		t.Errorf("Expected empty trace context, got %+v", tc)
	}
}

func TestNewContext(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{
		TraceID:  "trace-1",
		ClientID: "client-1",
	})

	tc := FromContext(ctx)
	if tc.TraceID != "trace-1" {
		t.Errorf("Expected trace ID trace-1, got %s", tc.TraceID)
	}
	if tc.ClientID != "client-1" {
		t.Errorf("Expected client ID client-1, got %s", tc.ClientID)
	}
	if tc.ConversationID != "" {
		t.Errorf("Expected empty conversation ID, got %s", tc.ConversationID)
	}
}

func TestNewReplyContext(t *testing.T) {
	ctx := NewReplyContext(context.Background(), "client-1", "conv-1", "assistant")

	if GetTraceID(ctx) == "" {
		t.Error("Expected a trace ID to be generated")
	}
	if got := GetClientID(ctx); got != "client-1" {
		t.Errorf("Expected client ID client-1, got %s", got)
	}
	if got := GetConversationID(ctx); got != "conv-1" {
		t.Errorf("Expected conversation ID conv-1, got %s", got)
	}
	if got := GetAgentID(ctx); got != "assistant" {
		t.Errorf("Expected agent ID assistant, got %s", got)
	}

	other := NewReplyContext(context.Background(), "client-1", "conv-1", "assistant")
	if GetTraceID(other) == GetTraceID(ctx) {
		t.Error("Expected each reply to get its own trace ID")
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := NewContext(context.Background(), &TraceContext{
		TraceID:        "trace-1",
		ConversationID: "conv-1",
	})
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("reply sent")

	out := buf.String()
	for _, want := range []string{`"trace_id":"trace-1"`, `"conversationId":"conv-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log line to contain %s, got %s", want, out)
		}
	}
	if strings.Contains(out, "clientId") {
		t.Errorf("Expected no clientId field, got %s", out)
	}
}
