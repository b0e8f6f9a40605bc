package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
)

// newTestStore opens a private in-memory SQLite database with all tables migrated.
func newTestStore(t *testing.T) Store {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, gormDB.AutoMigrate(
		&model.Subscription{}, &model.Notification{}, &model.User{}, &model.Pref{}, &model.PushTarget{},
	))
	return NewGormStore(gormDB)
}

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func seedSubscription(t *testing.T, s Store, id string) {
	require.NoError(t, s.SaveSubscription(context.Background(), &model.Subscription{
		ID: id, BaseURL: "https://example.test", Topic: id, NotificationType: model.NotificationSound,
	}))
}

func TestGormStore_InsertNotificationIsFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")

	inserted, err := s.InsertNotification(ctx, &model.Notification{ID: "m1", SubscriptionID: "sub1", Time: 1000, Message: "first", Priority: 3, New: true})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertNotification(ctx, &model.Notification{ID: "m1", SubscriptionID: "sub1", Time: 2000, Message: "second", Priority: 3, New: true})
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := s.GetNotification(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "first", n.Message)
	assert.Equal(t, int64(1000), n.Time)
}

func TestGormStore_ConcurrentInsertConverges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertNotification(ctx, &model.Notification{ID: "dup", SubscriptionID: "sub1", Time: 1, Message: "x", Priority: 3})
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	ns, err := s.ListNotifications(ctx, "sub1")
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestGormStore_InsertNotificationsDedupsPerItem(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")

	_, err := s.InsertNotification(ctx, &model.Notification{ID: "m1", SubscriptionID: "sub1", Time: 1, Message: "a", Priority: 3})
	require.NoError(t, err)

	inserted, err := s.InsertNotifications(ctx, []*model.Notification{
		{ID: "m1", SubscriptionID: "sub1", Time: 1, Message: "a", Priority: 3},
		{ID: "m2", SubscriptionID: "sub1", Time: 2, Message: "b", Priority: 3},
		{ID: "m2", SubscriptionID: "sub1", Time: 2, Message: "b", Priority: 3},
		{ID: "m3", SubscriptionID: "sub1", Time: 3, Message: "c", Priority: 3, Tags: []string{"warning", "skull"}},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.Equal(t, "m2", inserted[0].ID)
	assert.Equal(t, "m3", inserted[1].ID)

	ns, err := s.ListNotifications(ctx, "sub1")
	require.NoError(t, err)
	require.Len(t, ns, 3)
	assert.Equal(t, "m3", ns[0].ID, "newest first")
	assert.Equal(t, []string{"warning", "skull"}, ns[0].Tags)
}

func TestGormStore_InsertNotificationRequiresSubscription(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")

	inserted, err := s.InsertNotification(ctx, &model.Notification{ID: "m1", SubscriptionID: "gone", Time: 1, Message: "x", Priority: 3})
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
	assert.False(t, inserted)

	_, err = s.InsertNotifications(ctx, []*model.Notification{
		{ID: "m2", SubscriptionID: "sub1", Time: 2, Message: "y", Priority: 3},
		{ID: "m3", SubscriptionID: "gone", Time: 3, Message: "z", Priority: 3},
	})
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	_, err = s.GetNotification(ctx, "m1")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
	ns, err := s.ListNotifications(ctx, "sub1")
	require.NoError(t, err)
	assert.Empty(t, ns, "a failed batch writes nothing")
}

func TestGormStore_InsertRacingDeleteLeavesNoOrphans(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const rounds = 20
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("sub%d", i)
		seedSubscription(t, s, id)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.InsertNotification(ctx, &model.Notification{ID: "n" + id, SubscriptionID: id, Time: 1, Message: "x", Priority: 3})
			if err != nil {
				assert.Equal(t, errs.NotFound, errs.KindOf(err))
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.DeleteSubscription(ctx, id))
		}()
		wg.Wait()

		ns, err := s.ListNotifications(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, ns, "notification outlived its subscription")
	}
}

func TestGormStore_DeleteSubscriptionCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")
	seedSubscription(t, s, "sub2")

	for i, sub := range []string{"sub1", "sub1", "sub2"} {
		_, err := s.InsertNotification(ctx, &model.Notification{ID: fmt.Sprintf("m%d", i), SubscriptionID: sub, Time: int64(i + 1), Message: "x", Priority: 3})
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteSubscription(ctx, "sub1"))

	_, err := s.GetSubscription(ctx, "sub1")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))

	ns, err := s.ListNotifications(ctx, "sub1")
	require.NoError(t, err)
	assert.Empty(t, ns)

	ns, err = s.ListNotifications(ctx, "sub2")
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestGormStore_UnreadAndMarkRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.InsertNotification(ctx, &model.Notification{ID: id, SubscriptionID: "sub1", Time: 1, Message: "x", Priority: 3, New: true})
		require.NoError(t, err)
	}

	count, err := s.CountUnread(ctx, "sub1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, s.MarkNotificationRead(ctx, "a"))
	count, _ = s.CountUnread(ctx, "sub1")
	assert.Equal(t, int64(2), count)

	require.NoError(t, s.MarkNotificationsRead(ctx, "sub1"))
	count, _ = s.CountUnread(ctx, "sub1")
	assert.Equal(t, int64(0), count)

	err = s.MarkNotificationRead(ctx, "missing")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestGormStore_DeleteNotificationsBefore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")

	for _, ts := range []int64{100, 200, 300} {
		_, err := s.InsertNotification(ctx, &model.Notification{ID: fmt.Sprint(ts), SubscriptionID: "sub1", Time: ts, Message: "x", Priority: 3})
		require.NoError(t, err)
	}

	deleted, err := s.DeleteNotificationsBefore(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = s.DeleteNotificationsBefore(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	ns, _ := s.ListNotifications(ctx, "sub1")
	assert.Len(t, ns, 2)
}

func TestGormStore_UpdateSubscription(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")

	updated, err := s.UpdateSubscription(ctx, "sub1", func(sub *model.Subscription) error {
		sub.MutedUntil = model.MutedIndefinitely
		sub.Reservation = &model.Reservation{Topic: "sub1", Everyone: "deny-all"}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.MutedIndefinitely, updated.MutedUntil)

	got, err := s.GetSubscription(ctx, "sub1")
	require.NoError(t, err)
	require.NotNil(t, got.Reservation)
	assert.Equal(t, "deny-all", got.Reservation.Everyone)

	abort := errs.E(errs.Validation, "test", errors.New("nope"))
	_, err = s.UpdateSubscription(ctx, "sub1", func(sub *model.Subscription) error {
		sub.MutedUntil = 0
		return abort
	})
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	got, _ = s.GetSubscription(ctx, "sub1")
	assert.Equal(t, model.MutedIndefinitely, got.MutedUntil, "aborted mutation must not be written")

	_, err = s.UpdateSubscription(ctx, "missing", func(sub *model.Subscription) error { return nil })
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestGormStore_PrefsUsersAndPurge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedSubscription(t, s, "sub1")

	_, ok, err := s.GetPref(ctx, "sound")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetPref(ctx, "sound", "ding"))
	require.NoError(t, s.SetPref(ctx, "sound", "juntos"))
	v, ok, err := s.GetPref(ctx, "sound")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "juntos", v)

	require.NoError(t, s.SaveUser(ctx, &model.User{BaseURL: "https://example.test", Username: "phil", Password: "pw"}))
	require.NoError(t, s.SaveUser(ctx, &model.User{BaseURL: "https://example.test", Username: "phil", Token: "tk_1"}))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1, "one credential per server")
	assert.Equal(t, "tk_1", users[0].Token)

	require.NoError(t, s.Purge(ctx))
	subs, _ := s.ListSubscriptions(ctx)
	assert.Empty(t, subs)
	users, _ = s.ListUsers(ctx)
	assert.Empty(t, users)
	_, ok, _ = s.GetPref(ctx, "sound")
	assert.False(t, ok)
}

func TestGormStore_ObserversReceiveScopedChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var mu sync.Mutex
	var seen []Change
	unsubscribe := s.Observe(func(c Change) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	}, Subscriptions)

	seedSubscription(t, s, "sub1")
	require.NoError(t, s.SetPref(ctx, "sound", "ding"))
	_, err := s.InsertNotification(ctx, &model.Notification{ID: "m1", SubscriptionID: "sub1", Time: 1, Message: "x", Priority: 3})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []Change{{Collection: Subscriptions, ID: "sub1"}}, seen)
	mu.Unlock()

	unsubscribe()
	seedSubscription(t, s, "sub2")
	mu.Lock()
	assert.Len(t, seen, 1)
	mu.Unlock()
}

func TestGormStore_PushTargets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SavePushTarget(ctx, &model.PushTarget{Endpoint: "https://push.test/1", P256DH: "k", Auth: "a"}))
	require.NoError(t, s.SavePushTarget(ctx, &model.PushTarget{Endpoint: "https://push.test/1", P256DH: "k2", Auth: "a2"}))

	targets, err := s.ListPushTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "k2", targets[0].P256DH)

	require.NoError(t, s.DeletePushTarget(ctx, "https://push.test/1"))
	_, err = s.GetPushTarget(ctx, "https://push.test/1")
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestGormStore_QueryFailureIsStorageError(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscriptions"`)).
		WillReturnError(errors.New("disk I/O error"))

	_, err := s.ListSubscriptions(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.Storage, errs.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
