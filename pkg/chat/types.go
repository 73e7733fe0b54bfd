package chat

// Phase is the lifecycle phase of a Session.
type Phase int

const (
	// PhaseIdle means no transport is attached.
	PhaseIdle Phase = iota
	// PhaseConnecting means a transport exists but its handshake is outstanding.
	PhaseConnecting
	// PhaseOpen means the handshake was acknowledged and messages may be exchanged.
	PhaseOpen
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	default:
		return "unknown"
	}
}

// EventMessage is the transport event carrying chat messages in both directions.
const EventMessage = "message"

// DefaultNamespace is the sub-channel chat sessions attach to.
const DefaultNamespace = "/ai-chat"

// OutboundMessage is a message sent by the local user.
// ConversationID is empty for the first message of a new conversation.
type OutboundMessage struct {
	ConversationID string `json:"conversationId,omitempty"`
	Text           string `json:"text"`
}

// InboundMessage is a message delivered by the remote agent.
type InboundMessage struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	AgentID        string `json:"agentId"`
}

// MessageHandler receives inbound messages.
type MessageHandler func(msg InboundMessage)

// ErrorHandler receives transport failures.
type ErrorHandler func(err error)

// CloseHandler is notified once when the channel closes.
type CloseHandler func()

// Unsubscribe removes exactly the handler it was returned for. Calling it again is a no-op.
type Unsubscribe func()
