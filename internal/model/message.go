package model

import "encoding/json"

// Event kinds sent by the server on streams and poll responses.
const (
	EventOpen        = "open"
	EventKeepalive   = "keepalive"
	EventMessage     = "message"
	EventPollRequest = "poll_request"
)

// DefaultPriority is assumed when the server omits the priority field.
const DefaultPriority = 3

// Message is a single JSON frame as delivered by the server.
type Message struct {
	ID         string      `json:"id"`
	Time       int64       `json:"time"`
	Expires    int64       `json:"expires,omitempty"`
	Event      string      `json:"event"`
	Topic      string      `json:"topic"`
	Title      string      `json:"title,omitempty"`
	Message    string      `json:"message,omitempty"`
	Priority   int         `json:"priority,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	Click      string      `json:"click,omitempty"`
	Icon       string      `json:"icon,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Actions    []Action    `json:"actions,omitempty"`
}

// requiredFields must be present in a message frame. Their values may be
// zero: an empty body or a zero timestamp is still a message.
var requiredFields = []string{"id", "time", "event", "message"}

// ParseMessage decodes a frame and reports whether it is an acceptable
// notification event. Malformed frames, keepalives, other event kinds and
// frames missing a required field are rejected without an error.
func ParseMessage(data []byte) (*Message, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false
	}
	for _, name := range requiredFields {
		if _, ok := fields[name]; !ok {
			return nil, false
		}
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	if !m.Valid() {
		return nil, false
	}
	return &m, true
}

// Valid reports whether m is a message event with an id.
func (m *Message) Valid() bool {
	return m.Event == EventMessage && m.ID != ""
}

// Notification converts the message into a notification owned by subscriptionID.
func (m *Message) Notification(subscriptionID string) *Notification {
	priority := m.Priority
	if priority < 1 || priority > 5 {
		priority = DefaultPriority
	}
	return &Notification{
		ID:             m.ID,
		SubscriptionID: subscriptionID,
		Time:           m.Time,
		Expires:        m.Expires,
		Title:          m.Title,
		Message:        m.Message,
		Priority:       priority,
		Tags:           m.Tags,
		Click:          m.Click,
		Icon:           m.Icon,
		Attachment:     m.Attachment,
		Actions:        m.Actions,
	}
}
