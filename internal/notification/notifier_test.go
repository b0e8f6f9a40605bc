package notification

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"notify-sync-client/internal/model"
)

type staticPrefs struct {
	sound       string
	minPriority int
}

func (p staticPrefs) Sound(context.Context) (string, error)     { return p.sound, nil }
func (p staticPrefs) MinPriority(context.Context) (int, error) { return p.minPriority, nil }

type recordingDispatcher struct {
	payloads [][]byte
}

func (r *recordingDispatcher) Dispatch(payload []byte) {
	r.payloads = append(r.payloads, payload)
}

func testSub(t model.NotificationType) *model.Subscription {
	return &model.Subscription{ID: "sub1", BaseURL: "https://ntfy.example", Topic: "alerts", NotificationType: t}
}

func TestNotifier_RoutesByType(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.InfoLevel)
	pool := &recordingDispatcher{}
	nt := NewNotifier(staticPrefs{sound: "ding", minPriority: 1}, pool, zap.New(core).Sugar())
	n := &model.Notification{ID: "m1", Time: 1, Message: "hi", Priority: 3, Tags: []string{"tada"}}

	nt.Notify(ctx, testSub(model.NotificationSound), n)
	require.Equal(t, 1, logs.FilterMessage("notification").Len())
	fields := logs.FilterMessage("notification").All()[0].ContextMap()
	assert.Equal(t, "ding", fields["sound"])
	assert.Equal(t, "ntfy.example/alerts", fields["title"])
	assert.Equal(t, "🎉 hi", fields["message"])

	nt.Notify(ctx, testSub(model.NotificationForeground), n)
	require.Len(t, pool.payloads, 1)
	var p Payload
	require.NoError(t, json.Unmarshal(pool.payloads[0], &p))
	assert.Equal(t, "m1", p.ID)
	assert.Equal(t, "https://ntfy.example/alerts", p.Topic)

	nt.Notify(ctx, testSub(model.NotificationBackground), n)
	assert.Len(t, pool.payloads, 1)
	assert.Equal(t, 1, logs.FilterMessage("notification").Len())
}

func TestNotifier_SkipsMutedAndLowPriority(t *testing.T) {
	ctx := context.Background()
	pool := &recordingDispatcher{}
	nt := NewNotifier(staticPrefs{sound: "ding", minPriority: 4}, pool, zap.NewNop().Sugar())
	nt.now = func() time.Time { return time.Unix(1000, 0) }

	nt.Notify(ctx, testSub(model.NotificationForeground), &model.Notification{ID: "low", Priority: 3})
	assert.Empty(t, pool.payloads)

	muted := testSub(model.NotificationForeground)
	muted.MutedUntil = 2000
	nt.Notify(ctx, muted, &model.Notification{ID: "high", Priority: 5})
	assert.Empty(t, pool.payloads)

	muted.MutedUntil = 500
	nt.Notify(ctx, muted, &model.Notification{ID: "high", Priority: 5})
	assert.Len(t, pool.payloads, 1)
}
