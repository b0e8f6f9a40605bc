// Package publish sends messages to a topic.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/topic"
)

// Request is one message to publish. Zero values are omitted.
type Request struct {
	BaseURL  string   `json:"base_url"`
	Topic    string   `json:"topic"`
	Message  string   `json:"message"`
	Title    string   `json:"title,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Click    string   `json:"click,omitempty"`
	Attach   string   `json:"attach,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Email    string   `json:"email,omitempty"`
	Call     string   `json:"call,omitempty"`
	Delay    string   `json:"delay,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Markdown bool     `json:"markdown,omitempty"`
}

// UserLookup returns the credential stored for a server.
type UserLookup interface {
	GetUser(ctx context.Context, baseURL string) (*model.User, error)
}

// Publisher publishes with the stored credential of the target server.
type Publisher struct {
	users  UserLookup
	client *http.Client
}

func New(users UserLookup) *Publisher {
	return &Publisher{users: users, client: &http.Client{Timeout: 30 * time.Second}}
}

// URL composes the topic URL carrying the request's options as query parameters.
func URL(r Request) string {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("title", r.Title)
	set("tags", strings.Join(r.Tags, ","))
	if r.Priority > 0 {
		q.Set("priority", strconv.Itoa(r.Priority))
	}
	set("click", r.Click)
	set("attach", r.Attach)
	set("filename", r.Filename)
	set("email", r.Email)
	set("call", r.Call)
	set("delay", r.Delay)
	set("icon", r.Icon)
	if r.Markdown {
		q.Set("markdown", "true")
	}

	u := topic.URL(r.BaseURL, r.Topic)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Publish sends r and returns the message as stored by the server.
func (p *Publisher) Publish(ctx context.Context, r Request) (*model.Message, error) {
	const op = "publish.publish"
	if !topic.ValidBaseURL(topic.NormalizeBaseURL(r.BaseURL)) {
		return nil, errs.Errorf(errs.Validation, op, "invalid server address %q", r.BaseURL)
	}
	if !topic.Valid(r.Topic) {
		return nil, errs.Errorf(errs.Validation, op, "invalid topic name %q", r.Topic)
	}
	if r.Priority < 0 || r.Priority > 5 {
		return nil, errs.Errorf(errs.Validation, op, "priority %d out of range", r.Priority)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, URL(r), strings.NewReader(r.Message))
	if err != nil {
		return nil, errs.E(errs.Validation, op, err)
	}
	if user, err := p.users.GetUser(ctx, topic.NormalizeBaseURL(r.BaseURL)); err == nil {
		if auth := user.AuthorizationHeader(); auth != "" {
			req.Header.Set("Authorization", auth)
		}
	} else if !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errs.E(errs.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errs.E(errs.FromStatus(resp.StatusCode), op, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var m model.Message
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, errs.E(errs.Unknown, op, err)
	}
	return &m, nil
}
