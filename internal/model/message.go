package model

import (
	"time"
)

type Status string

const (
	Pending   Status = "pending"
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Errored   Status = "error"

	// Received is the state of inbound rows; the ladder above tracks
	// outbound delivery only.
	Received Status = "received"
)

// statusRank orders the delivery ladder. Errored is a side state and has
// no rank; receipts never move a message backward along the ladder.
var statusRank = map[Status]int{
	Pending:   0,
	Sending:   1,
	Sent:      2,
	Delivered: 3,
	Read:      4,
}

// Rank returns the ladder position of s and whether s is on the ladder.
func (s Status) Rank() (int, bool) {
	r, ok := statusRank[s]
	return r, ok
}

// Advances reports whether moving from s to next is a forward ladder move.
// Any move involving a non-ladder status (error) is not an advance.
func (s Status) Advances(next Status) bool {
	cur, ok := s.Rank()
	if !ok {
		return false
	}
	nxt, ok := next.Rank()
	if !ok {
		return false
	}
	return nxt > cur
}

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindButtons  Kind = "buttons"
)

// Freeform reports whether the kind is subject to the 24h messaging window
// on window-restricted providers. Interactive/template payloads bypass it.
func (k Kind) Freeform() bool {
	return k != KindButtons
}

type Attachment struct {
	URL        string `json:"url"`
	Mime       string `json:"mime"`
	Filename   string `json:"filename,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

type Reaction struct {
	Emoji string `json:"emoji"`
	Actor string `json:"actor"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Direction      Direction   `json:"direction"`
	Kind           Kind        `json:"kind"`
	Body           string      `json:"body,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Status         Status      `json:"status"`
	Error          *ErrorInfo  `json:"error,omitempty"`
	FailedAt       *time.Time  `json:"failedAt,omitempty"`

	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	AttemptCount      int        `json:"attemptCount"`
	NextAttemptAt     *time.Time `json:"nextAttemptAt,omitempty"`

	Edited    bool       `json:"edited"`
	Deleted   bool       `json:"deleted"`
	Reactions []Reaction `json:"reactions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Renderable returns the body unless the message is tombstoned.
func (m *Message) Renderable() string {
	if m.Deleted {
		return ""
	}
	return m.Body
}

type ProviderKind string

const (
	Official   ProviderKind = "official"
	Unofficial ProviderKind = "unofficial"
)

type ConnectionStatus string

const (
	Active       ConnectionStatus = "active"
	Disconnected ConnectionStatus = "disconnected"
)

type Account struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	ProviderKind ProviderKind     `json:"providerKind"`
	Status       ConnectionStatus `json:"status"`
}

type Contact struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Phone     string `json:"phone"`
	Name      string `json:"name,omitempty"`
}

type ConversationStatus string

const (
	Open   ConversationStatus = "open"
	Closed ConversationStatus = "closed"
)

type Conversation struct {
	ID            string             `json:"id"`
	AccountID     string             `json:"accountId"`
	ContactID     string             `json:"contactId"`
	Status        ConversationStatus `json:"status"`
	LastMessageAt time.Time          `json:"lastMessageAt"`
	LastInboundAt *time.Time         `json:"lastInboundAt,omitempty"`
}

// WindowActive reports whether the customer-service window is open at now.
// Only meaningful for official-API accounts.
func (c *Conversation) WindowActive(now time.Time, window time.Duration) bool {
	if c.LastInboundAt == nil {
		return false
	}
	return now.Sub(*c.LastInboundAt) < window
}
