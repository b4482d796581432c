// Package telegraph bridges the Blockyard workflows to chat platforms (Slack, Discord, etc.).
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message sending/receiving
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message or button press received from the
// chat platform.
type InboundMessage struct {
	Platform  string        // e.g. "slack", "discord"
	ChannelID string        // platform-specific channel identifier
	ThreadID  string        // thread/conversation identifier (empty if top-level)
	UserID    string        // platform-specific user identifier
	UserName  string        // human-readable username
	FirstName string        // profile first name, if the platform has one
	LastName  string        // profile last name, if the platform has one
	Text      string        // raw message text
	Choice    string        // token of the pressed button (empty for text)
	Files     []InboundFile // uploaded files
	Timestamp time.Time     // when the message was sent
}

// InboundFile is a file attached to an inbound message. ID is whatever the
// platform uses to fetch it later (file id or download URL).
type InboundFile struct {
	ID          string
	Name        string
	ContentType string
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string           // target channel
	ThreadID  string           // thread to reply in (empty for new top-level message)
	Text      string           // message text (platform-native formatting)
	Choices   [][]Choice       // button rows rendered under the text
	Files     []OutboundFile   // files uploaded with the message
	Events    []FormattedEvent // structured event attachments
}

// Choice is a labelled button. Token comes back as InboundMessage.Choice.
type Choice struct {
	Label string
	Token string
}

// OutboundFile is a file uploaded with an outbound message.
type OutboundFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// FormattedEvent represents a card or report formatted for display in chat.
type FormattedEvent struct {
	Title    string  // headline (e.g. "Блок 105-01")
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Color    string  // sidebar color hint (e.g. "#36a64f" for success)
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
