package store

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/model"
)

// Store defines the interface for all local store operations.
type Store interface {
	DB() *gorm.DB
	Observe(fn func(Change), collections ...Collection) func()

	SaveSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	ListSubscriptionsByBaseURL(ctx context.Context, baseURL string) ([]model.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, mutate func(sub *model.Subscription) error) (*model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	InsertNotification(ctx context.Context, n *model.Notification) (bool, error)
	InsertNotifications(ctx context.Context, ns []*model.Notification) ([]*model.Notification, error)
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	ListNotifications(ctx context.Context, subscriptionID string) ([]model.Notification, error)
	CountUnread(ctx context.Context, subscriptionID string) (int64, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkNotificationsRead(ctx context.Context, subscriptionID string) error
	DeleteNotification(ctx context.Context, id string) error
	DeleteNotifications(ctx context.Context, subscriptionID string) error
	DeleteNotificationsBefore(ctx context.Context, threshold int64) (int64, error)

	SaveUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, baseURL string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, baseURL string) error

	SetPref(ctx context.Context, key, value string) error
	GetPref(ctx context.Context, key string) (string, bool, error)
	DeletePref(ctx context.Context, key string) error

	SavePushTarget(ctx context.Context, target *model.PushTarget) error
	GetPushTarget(ctx context.Context, endpoint string) (*model.PushTarget, error)
	ListPushTargets(ctx context.Context) ([]model.PushTarget, error)
	DeletePushTarget(ctx context.Context, endpoint string) error

	Purge(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	bus *bus
	// writeMu serializes writes so read-modify-write sequences are atomic per record.
	writeMu sync.Mutex
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, bus: newBus()}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Observe registers fn to be called after every write to the given
// collections (all collections when none are given). The returned func
// unregisters it.
func (s *gormStore) Observe(fn func(Change), collections ...Collection) func() {
	return s.bus.observe(fn, collections...)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.E(errs.NotFound, op, err)
	}
	return errs.E(errs.Storage, op, err)
}

// --- Subscriptions ---

func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Save(sub).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.save_subscription", err)
	}
	s.bus.publish(Change{Collection: Subscriptions, ID: sub.ID})
	return nil
}

func (s *gormStore) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	var sub model.Subscription
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, wrap("store.get_subscription", err)
	}
	return &sub, nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	var subs []model.Subscription
	if err := s.db.WithContext(ctx).Order("created_at").Find(&subs).Error; err != nil {
		return nil, wrap("store.list_subscriptions", err)
	}
	return subs, nil
}

func (s *gormStore) ListSubscriptionsByBaseURL(ctx context.Context, baseURL string) ([]model.Subscription, error) {
	var subs []model.Subscription
	if err := s.db.WithContext(ctx).Where("base_url = ?", baseURL).Order("created_at").Find(&subs).Error; err != nil {
		return nil, wrap("store.list_subscriptions", err)
	}
	return subs, nil
}

// UpdateSubscription loads the subscription, applies mutate and saves it in
// one transaction. A mutate error aborts without writing.
func (s *gormStore) UpdateSubscription(ctx context.Context, id string, mutate func(sub *model.Subscription) error) (*model.Subscription, error) {
	var sub model.Subscription

	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&sub, "id = ?", id).Error; err != nil {
			return err
		}
		if err := mutate(&sub); err != nil {
			return err
		}
		return tx.Save(&sub).Error
	})
	s.writeMu.Unlock()

	if err != nil {
		var tagged *errs.Error
		if errors.As(err, &tagged) {
			return nil, err
		}
		return nil, wrap("store.update_subscription", err)
	}
	s.bus.publish(Change{Collection: Subscriptions, ID: id})
	return &sub, nil
}

// DeleteSubscription removes the subscription and all notifications it owns.
func (s *gormStore) DeleteSubscription(ctx context.Context, id string) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", id).Delete(&model.Notification{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Subscription{}, "id = ?", id).Error
	})
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.delete_subscription", err)
	}
	s.bus.publish(
		Change{Collection: Notifications},
		Change{Collection: Subscriptions, ID: id},
	)
	return nil
}

// --- Notifications ---

// InsertNotification stores n unless a notification with the same id exists.
// It reports whether n was inserted; the first writer wins. The owning
// subscription must exist when the row is written, otherwise it fails with
// errs.NotFound.
func (s *gormStore) InsertNotification(ctx context.Context, n *model.Notification) (bool, error) {
	var inserted bool
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := subscriptionExists(tx, n.SubscriptionID); err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(n)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	s.writeMu.Unlock()
	if err != nil {
		return false, wrap("store.insert_notification", err)
	}
	if !inserted {
		return false, nil
	}
	s.bus.publish(Change{Collection: Notifications, ID: n.ID})
	return true, nil
}

// InsertNotifications applies InsertNotification semantics to every item in
// one transaction and returns the items that were actually inserted.
func (s *gormStore) InsertNotifications(ctx context.Context, ns []*model.Notification) ([]*model.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}

	var inserted []*model.Notification
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted = inserted[:0]
		owners := make(map[string]bool)
		for _, n := range ns {
			if !owners[n.SubscriptionID] {
				if err := subscriptionExists(tx, n.SubscriptionID); err != nil {
					return err
				}
				owners[n.SubscriptionID] = true
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(n)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				inserted = append(inserted, n)
			}
		}
		return nil
	})
	s.writeMu.Unlock()
	if err != nil {
		return nil, wrap("store.insert_notifications", err)
	}
	if len(inserted) > 0 {
		s.bus.publish(Change{Collection: Notifications})
	}
	return inserted, nil
}

// subscriptionExists returns gorm.ErrRecordNotFound when no subscription has
// the given id.
func subscriptionExists(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&model.Subscription{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *gormStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return nil, wrap("store.get_notification", err)
	}
	return &n, nil
}

// ListNotifications returns the notifications of a subscription, newest first.
func (s *gormStore) ListNotifications(ctx context.Context, subscriptionID string) ([]model.Notification, error) {
	var ns []model.Notification
	if err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("time DESC").
		Find(&ns).Error; err != nil {
		return nil, wrap("store.list_notifications", err)
	}
	return ns, nil
}

func (s *gormStore) CountUnread(ctx context.Context, subscriptionID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("subscription_id = ? AND is_new = ?", subscriptionID, true).
		Count(&count).Error; err != nil {
		return 0, wrap("store.count_unread", err)
	}
	return count, nil
}

func (s *gormStore) MarkNotificationRead(ctx context.Context, id string) error {
	s.writeMu.Lock()
	res := s.db.WithContext(ctx).Model(&model.Notification{}).Where("id = ?", id).Update("is_new", false)
	s.writeMu.Unlock()
	if res.Error != nil {
		return wrap("store.mark_read", res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.Errorf(errs.NotFound, "store.mark_read", "notification %s not found", id)
	}
	s.bus.publish(Change{Collection: Notifications, ID: id})
	return nil
}

func (s *gormStore) MarkNotificationsRead(ctx context.Context, subscriptionID string) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("subscription_id = ? AND is_new = ?", subscriptionID, true).
		Update("is_new", false).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.mark_all_read", err)
	}
	s.bus.publish(Change{Collection: Notifications})
	return nil
}

func (s *gormStore) DeleteNotification(ctx context.Context, id string) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Delete(&model.Notification{}, "id = ?", id).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.delete_notification", err)
	}
	s.bus.publish(Change{Collection: Notifications, ID: id})
	return nil
}

func (s *gormStore) DeleteNotifications(ctx context.Context, subscriptionID string) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Delete(&model.Notification{}).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.delete_notifications", err)
	}
	s.bus.publish(Change{Collection: Notifications})
	return nil
}

// DeleteNotificationsBefore deletes every notification with time < threshold
// and returns how many were removed.
func (s *gormStore) DeleteNotificationsBefore(ctx context.Context, threshold int64) (int64, error) {
	s.writeMu.Lock()
	res := s.db.WithContext(ctx).Where("time < ?", threshold).Delete(&model.Notification{})
	s.writeMu.Unlock()
	if res.Error != nil {
		return 0, wrap("store.prune", res.Error)
	}
	if res.RowsAffected > 0 {
		s.bus.publish(Change{Collection: Notifications})
	}
	return res.RowsAffected, nil
}

// --- Users ---

func (s *gormStore) SaveUser(ctx context.Context, user *model.User) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Save(user).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.save_user", err)
	}
	s.bus.publish(Change{Collection: Users, ID: user.BaseURL})
	return nil
}

func (s *gormStore) GetUser(ctx context.Context, baseURL string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "base_url = ?", baseURL).Error; err != nil {
		return nil, wrap("store.get_user", err)
	}
	return &user, nil
}

func (s *gormStore) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, wrap("store.list_users", err)
	}
	return users, nil
}

func (s *gormStore) DeleteUser(ctx context.Context, baseURL string) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Delete(&model.User{}, "base_url = ?", baseURL).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.delete_user", err)
	}
	s.bus.publish(Change{Collection: Users, ID: baseURL})
	return nil
}

// --- Prefs ---

func (s *gormStore) SetPref(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Save(&model.Pref{Key: key, Value: value}).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.set_pref", err)
	}
	s.bus.publish(Change{Collection: Prefs, ID: key})
	return nil
}

// GetPref returns the value of key and whether it is set.
func (s *gormStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	var pref model.Pref
	err := s.db.WithContext(ctx).First(&pref, "pref_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("store.get_pref", err)
	}
	return pref.Value, true, nil
}

func (s *gormStore) DeletePref(ctx context.Context, key string) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Delete(&model.Pref{}, "pref_key = ?", key).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.delete_pref", err)
	}
	s.bus.publish(Change{Collection: Prefs, ID: key})
	return nil
}

// --- Push targets ---

func (s *gormStore) SavePushTarget(ctx context.Context, target *model.PushTarget) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(target).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.save_push_target", err)
	}
	s.bus.publish(Change{Collection: PushTargets, ID: target.Endpoint})
	return nil
}

func (s *gormStore) GetPushTarget(ctx context.Context, endpoint string) (*model.PushTarget, error) {
	var target model.PushTarget
	if err := s.db.WithContext(ctx).First(&target, "endpoint = ?", endpoint).Error; err != nil {
		return nil, wrap("store.get_push_target", err)
	}
	return &target, nil
}

func (s *gormStore) ListPushTargets(ctx context.Context) ([]model.PushTarget, error) {
	var targets []model.PushTarget
	if err := s.db.WithContext(ctx).Find(&targets).Error; err != nil {
		return nil, wrap("store.list_push_targets", err)
	}
	return targets, nil
}

func (s *gormStore) DeletePushTarget(ctx context.Context, endpoint string) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Delete(&model.PushTarget{}, "endpoint = ?", endpoint).Error
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.delete_push_target", err)
	}
	s.bus.publish(Change{Collection: PushTargets, ID: endpoint})
	return nil
}

// Purge deletes every record of every collection.
func (s *gormStore) Purge(ctx context.Context) error {
	s.writeMu.Lock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.Notification{}, &model.Subscription{}, &model.User{}, &model.Pref{}, &model.PushTarget{}} {
			if err := tx.Where("1 = 1").Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	s.writeMu.Unlock()
	if err != nil {
		return wrap("store.purge", err)
	}

	changes := make([]Change, 0, len(AllCollections))
	for _, c := range AllCollections {
		changes = append(changes, Change{Collection: c})
	}
	s.bus.publish(changes...)
	return nil
}
