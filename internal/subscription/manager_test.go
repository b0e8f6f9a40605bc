package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
	"notify-sync-client/internal/store"
	"notify-sync-client/internal/store/storetest"
	"notify-sync-client/internal/topic"
)

const testBaseURL = "https://ntfy.example"

type mockRegistrar struct {
	mu      sync.Mutex
	calls   map[string][]string
	updateF func(baseURL string, topics []string) error
}

func (m *mockRegistrar) Update(ctx context.Context, baseURL string, topics []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateF != nil {
		if err := m.updateF(baseURL, topics); err != nil {
			return err
		}
	}
	if m.calls == nil {
		m.calls = map[string][]string{}
	}
	m.calls[baseURL] = topics
	return nil
}

func (m *mockRegistrar) registered(baseURL string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[baseURL]
}

func newTestManager(t *testing.T) (*Manager, store.Store, *mockRegistrar) {
	s := storetest.New(t)
	reg := &mockRegistrar{}
	return NewManager(s, reg, testBaseURL, zap.NewNop().Sugar()), s, reg
}

func strPtr(s string) *string { return &s }

func TestManager_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, s, _ := newTestManager(t)

	first, err := m.Add(ctx, testBaseURL+"/", "alerts", Options{})
	require.NoError(t, err)
	assert.Equal(t, topic.SubscriptionID(testBaseURL, "alerts"), first.ID)
	assert.Equal(t, testBaseURL, first.BaseURL)
	assert.Equal(t, DefaultNotificationType, first.NotificationType)

	second, err := m.Add(ctx, testBaseURL, "alerts", Options{DisplayName: strPtr("Alerts")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.DisplayName)
	assert.Equal(t, "Alerts", *second.DisplayName)

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestManager_AddValidation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	_, err := m.Add(ctx, testBaseURL, "bad topic!", Options{})
	assert.True(t, errs.Is(err, errs.Validation))

	_, err = m.Add(ctx, "ftp://nope", "alerts", Options{})
	assert.True(t, errs.Is(err, errs.Validation))

	_, err = m.Add(ctx, testBaseURL, "alerts", Options{NotificationType: "loud"})
	assert.True(t, errs.Is(err, errs.Validation))
}

func TestManager_AddNotificationDedupAndCursor(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	sub, err := m.Add(ctx, testBaseURL, "alerts", Options{})
	require.NoError(t, err)

	added, err := m.AddNotification(ctx, sub.ID, &model.Notification{ID: "m1", Time: 100, Message: "hi", Priority: 3})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.AddNotification(ctx, sub.ID, &model.Notification{ID: "m1", Time: 100, Message: "again", Priority: 3})
	require.NoError(t, err)
	assert.False(t, added)

	got, err := m.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.LastID)
	assert.Equal(t, int64(100), got.LastTime)

	// An older event does not move the cursor back.
	added, err = m.AddNotification(ctx, sub.ID, &model.Notification{ID: "m0", Time: 50, Message: "late", Priority: 3})
	require.NoError(t, err)
	assert.True(t, added)
	got, err = m.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.LastID)

	notifications, err := m.Notifications(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "hi", notifications[0].Message)

	count, err := m.NewCount(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestManager_AddNotificationsBulk(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	sub, err := m.Add(ctx, testBaseURL, "alerts", Options{})
	require.NoError(t, err)

	_, err = m.AddNotification(ctx, sub.ID, &model.Notification{ID: "m2", Time: 200, Message: "two", Priority: 3})
	require.NoError(t, err)

	inserted, err := m.AddNotifications(ctx, sub.ID, []*model.Notification{
		{ID: "m1", Time: 100, Message: "one", Priority: 3},
		{ID: "m2", Time: 200, Message: "dup", Priority: 3},
		{ID: "m3", Time: 300, Message: "three", Priority: 3},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	got, err := m.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "m3", got.LastID)
	assert.Equal(t, int64(300), got.LastTime)
}

func TestManager_AddNotificationUnknownSubscription(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.AddNotification(context.Background(), "missing", &model.Notification{ID: "m1", Time: 1})
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestManager_AddNotificationRacingRemove(t *testing.T) {
	ctx := context.Background()
	m, s, _ := newTestManager(t)

	for i := 0; i < 10; i++ {
		sub, err := m.Add(ctx, testBaseURL, "alerts", Options{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.AddNotifications(ctx, sub.ID, []*model.Notification{{ID: "a", Time: 1}, {ID: "b", Time: 2}})
			if err != nil {
				assert.True(t, errs.Is(err, errs.NotFound))
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Remove(ctx, sub.ID))
		}()
		wg.Wait()

		ns, err := s.ListNotifications(ctx, sub.ID)
		require.NoError(t, err)
		assert.Empty(t, ns)
	}
}

func TestManager_BackgroundRegistration(t *testing.T) {
	ctx := context.Background()
	m, s, reg := newTestManager(t)

	reg.updateF = func(string, []string) error { return errs.E(errs.Network, "test", errors.New("offline")) }
	_, err := m.Add(ctx, testBaseURL, "alerts", Options{NotificationType: model.NotificationBackground})
	require.Error(t, err)
	_, err = s.GetSubscription(ctx, topic.SubscriptionID(testBaseURL, "alerts"))
	assert.True(t, errs.Is(err, errs.NotFound))

	reg.updateF = nil
	a, err := m.Add(ctx, testBaseURL, "alerts", Options{NotificationType: model.NotificationBackground})
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts"}, reg.registered(testBaseURL))

	_, err = m.Add(ctx, testBaseURL, "backups", Options{NotificationType: model.NotificationBackground})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alerts", "backups"}, reg.registered(testBaseURL))

	_, err = m.SetNotificationType(ctx, a.ID, model.NotificationForeground)
	require.NoError(t, err)
	assert.Equal(t, []string{"backups"}, reg.registered(testBaseURL))

	require.NoError(t, m.Remove(ctx, topic.SubscriptionID(testBaseURL, "backups")))
	assert.Empty(t, reg.registered(testBaseURL))
}

func TestManager_SetNotificationTypeKeepsLocalChangeOnPushFailure(t *testing.T) {
	ctx := context.Background()
	m, _, reg := newTestManager(t)
	sub, err := m.Add(ctx, testBaseURL, "alerts", Options{})
	require.NoError(t, err)

	reg.updateF = func(string, []string) error { return errors.New("boom") }
	updated, err := m.SetNotificationType(ctx, sub.ID, model.NotificationBackground)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationBackground, updated.NotificationType)
}

func TestManager_Settings(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	sub, err := m.Add(ctx, testBaseURL, "alerts", Options{})
	require.NoError(t, err)

	muted, err := m.SetMutedUntil(ctx, sub.ID, model.MutedIndefinitely)
	require.NoError(t, err)
	assert.Equal(t, model.MutedIndefinitely, muted.MutedUntil)

	_, err = m.SetMutedUntil(ctx, sub.ID, -5)
	assert.True(t, errs.Is(err, errs.Validation))

	named, err := m.SetDisplayName(ctx, sub.ID, "  My alerts ")
	require.NoError(t, err)
	require.NotNil(t, named.DisplayName)
	assert.Equal(t, "My alerts", *named.DisplayName)

	cleared, err := m.SetDisplayName(ctx, sub.ID, "")
	require.NoError(t, err)
	assert.Nil(t, cleared.DisplayName)

	reserved, err := m.SetReservation(ctx, sub.ID, &model.Reservation{Topic: "alerts", Everyone: "deny-all"})
	require.NoError(t, err)
	require.NotNil(t, reserved.Reservation)
	assert.Equal(t, "deny-all", reserved.Reservation.Everyone)

	require.NoError(t, m.UpdateState(ctx, sub.ID, model.StateConnected))
	got, err := m.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnected, got.State)

	assert.NoError(t, m.UpdateState(ctx, "gone", model.StateConnected))
}

func TestManager_ReadAndDelete(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	sub, err := m.Add(ctx, testBaseURL, "alerts", Options{})
	require.NoError(t, err)
	_, err = m.AddNotifications(ctx, sub.ID, []*model.Notification{
		{ID: "m1", Time: 1, Message: "a"}, {ID: "m2", Time: 2, Message: "b"}, {ID: "m3", Time: 3, Message: "c"},
	})
	require.NoError(t, err)

	require.NoError(t, m.MarkRead(ctx, "m1"))
	count, err := m.NewCount(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, m.MarkAllRead(ctx, sub.ID))
	count, err = m.NewCount(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, m.DeleteNotification(ctx, "m2"))
	list, err := m.Notifications(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, m.DeleteNotifications(ctx, sub.ID))
	list, err = m.Notifications(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManager_PruneNotifications(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	sub, err := m.Add(ctx, testBaseURL, "alerts", Options{})
	require.NoError(t, err)
	_, err = m.AddNotifications(ctx, sub.ID, []*model.Notification{
		{ID: "old", Time: 100, Message: "a"}, {ID: "edge", Time: 500, Message: "b"}, {ID: "new", Time: 900, Message: "c"},
	})
	require.NoError(t, err)

	deleted, err := m.PruneNotifications(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = m.PruneNotifications(ctx, 500)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	list, err := m.Notifications(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestManager_SyncFromRemote(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	stale, err := m.Add(ctx, testBaseURL, "stale", Options{})
	require.NoError(t, err)
	internal, err := m.Add(ctx, testBaseURL, "sync-abc", Options{Internal: true})
	require.NoError(t, err)
	kept, err := m.Add(ctx, testBaseURL, "kept", Options{DisplayName: strPtr("old name")})
	require.NoError(t, err)

	remote := []model.RemoteSubscription{
		{BaseURL: testBaseURL, Topic: "kept", DisplayName: strPtr("new name")},
		{BaseURL: testBaseURL, Topic: "fresh"},
		{BaseURL: "https://other.example", Topic: "fresh"},
		{BaseURL: testBaseURL, Topic: "not valid!"},
	}
	reservations := []model.Reservation{{Topic: "fresh", Everyone: "read-only"}}
	require.NoError(t, m.SyncFromRemote(ctx, remote, reservations))

	all, err := m.List(ctx)
	require.NoError(t, err)
	byID := map[string]model.Subscription{}
	for _, s := range all {
		byID[s.ID] = s
	}
	assert.Len(t, byID, 4)
	assert.NotContains(t, byID, stale.ID)
	assert.Contains(t, byID, internal.ID)

	require.NotNil(t, byID[kept.ID].DisplayName)
	assert.Equal(t, "new name", *byID[kept.ID].DisplayName)

	fresh := byID[topic.SubscriptionID(testBaseURL, "fresh")]
	require.NotNil(t, fresh.Reservation)
	assert.Equal(t, "read-only", fresh.Reservation.Everyone)

	other := byID[topic.SubscriptionID("https://other.example", "fresh")]
	assert.Nil(t, other.Reservation)

	summaries, err := m.All(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 3)

	// Syncing again with an empty account removes all non-internal subscriptions.
	require.NoError(t, m.SyncFromRemote(ctx, nil, nil))
	all, err = m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, internal.ID, all[0].ID)
}
