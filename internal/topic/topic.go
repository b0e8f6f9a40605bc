// Package topic builds the URLs and ids derived from a (server, topic) pair.
package topic

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var topicRe = regexp.MustCompile(`^[-_A-Za-z0-9]{1,64}$`)

// Valid reports whether name is an acceptable topic name.
func Valid(name string) bool {
	return topicRe.MatchString(name)
}

// ValidBaseURL reports whether raw is an absolute http(s) server address.
func ValidBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NormalizeBaseURL trims surrounding whitespace and trailing slashes.
func NormalizeBaseURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

// URL returns the topic URL, e.g. https://ntfy.sh/alerts.
func URL(base, name string) string {
	return fmt.Sprintf("%s/%s", NormalizeBaseURL(base), name)
}

// WSURL returns the websocket stream URL for a topic.
func WSURL(base, name string) string {
	u := URL(base, name) + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// JSONPollURL returns the catch-up poll URL for a topic.
func JSONPollURL(base, name, since string) string {
	if since == "" {
		since = "all"
	}
	return fmt.Sprintf("%s/json?poll=1&since=%s", URL(base, name), url.QueryEscape(since))
}

// ShortURL strips the scheme from the topic URL; used as a default title.
func ShortURL(base, name string) string {
	u := URL(base, name)
	u = strings.TrimPrefix(u, "https://")
	return strings.TrimPrefix(u, "http://")
}

// SubscriptionID derives the stable subscription id for (base, name). The same
// inputs always yield the same id.
func SubscriptionID(base, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(URL(base, name))).String()
}
