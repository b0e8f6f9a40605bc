package notification

import (
	"encoding/json"
	"strings"

	"notify-sync-client/internal/model"
	"notify-sync-client/internal/topic"
)

// tagEmojis maps the tags that render as emoji. Other tags are listed as text.
var tagEmojis = map[string]string{
	"+1":               "👍",
	"-1":               "👎",
	"bell":             "🔔",
	"fire":             "🔥",
	"heavy_check_mark": "✔️",
	"loudspeaker":      "📢",
	"no_entry":         "⛔",
	"partying_face":    "🥳",
	"rotating_light":   "🚨",
	"skull":            "💀",
	"tada":             "🎉",
	"warning":          "⚠️",
	"white_check_mark": "✅",
	"x":                "❌",
}

func splitTags(tags []string) (emojis, other []string) {
	for _, t := range tags {
		if e, ok := tagEmojis[t]; ok {
			emojis = append(emojis, e)
		} else {
			other = append(other, t)
		}
	}
	return emojis, other
}

func prefixed(emojis []string, s string) string {
	if len(emojis) == 0 {
		return s
	}
	return strings.Join(emojis, " ") + " " + s
}

// Title returns the display title: the notification title with its emoji
// tags, or the subscription's name when the notification has none.
func Title(sub *model.Subscription, n *model.Notification) string {
	if n.Title != "" {
		emojis, _ := splitTags(n.Tags)
		return prefixed(emojis, n.Title)
	}
	if sub.DisplayName != nil && *sub.DisplayName != "" {
		return *sub.DisplayName
	}
	return topic.ShortURL(sub.BaseURL, sub.Topic)
}

// Body returns the display body. Emoji tags go in front of the message when
// the title does not carry them; the remaining tags are appended.
func Body(n *model.Notification) string {
	emojis, other := splitTags(n.Tags)
	body := n.Message
	if n.Title == "" {
		body = prefixed(emojis, body)
	}
	if len(other) > 0 {
		body += "\nTags: " + strings.Join(other, ", ")
	}
	return body
}

// Payload is the JSON forwarded to push targets.
type Payload struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	Topic          string `json:"topic"`
	Time           int64  `json:"time"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	Priority       int    `json:"priority"`
	Click          string `json:"click,omitempty"`
	Icon           string `json:"icon,omitempty"`
}

// NewPayload formats n for delivery.
func NewPayload(sub *model.Subscription, n *model.Notification) Payload {
	return Payload{
		ID:             n.ID,
		SubscriptionID: sub.ID,
		Topic:          topic.URL(sub.BaseURL, sub.Topic),
		Time:           n.Time,
		Title:          Title(sub, n),
		Body:           Body(n),
		Priority:       n.Priority,
		Click:          n.Click,
		Icon:           n.Icon,
	}
}

func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
