// Package prefs reads and writes the user's notification preferences.
package prefs

import (
	"context"
	"strconv"
	"time"

	"notify-sync-client/internal/errs"
	"notify-sync-client/internal/store"
)

const (
	keySound       = "sound"
	keyMinPriority = "minPriority"
	keyDeleteAfter = "deleteAfter"
)

// Defaults used when a preference was never set.
const (
	DefaultSound       = "ding"
	DefaultMinPriority = 1
	DefaultDeleteAfter = 7 * 24 * time.Hour
)

// Prefs is a typed view over the prefs collection.
type Prefs struct {
	store store.Store
}

func New(s store.Store) *Prefs {
	return &Prefs{store: s}
}

// Sound returns the notification sound name; "none" disables sounds.
func (p *Prefs) Sound(ctx context.Context) (string, error) {
	v, ok, err := p.store.GetPref(ctx, keySound)
	if err != nil || !ok {
		return DefaultSound, err
	}
	return v, nil
}

func (p *Prefs) SetSound(ctx context.Context, sound string) error {
	return p.store.SetPref(ctx, keySound, sound)
}

// MinPriority returns the lowest priority that is delivered to the user.
func (p *Prefs) MinPriority(ctx context.Context) (int, error) {
	v, ok, err := p.store.GetPref(ctx, keyMinPriority)
	if err != nil || !ok {
		return DefaultMinPriority, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return DefaultMinPriority, nil
	}
	return n, nil
}

func (p *Prefs) SetMinPriority(ctx context.Context, priority int) error {
	if priority < 1 || priority > 5 {
		return errs.Errorf(errs.Validation, "prefs.min_priority", "priority %d out of range", priority)
	}
	return p.store.SetPref(ctx, keyMinPriority, strconv.Itoa(priority))
}

// DeleteAfter returns how long notifications are kept. Zero keeps them forever.
func (p *Prefs) DeleteAfter(ctx context.Context) (time.Duration, error) {
	v, ok, err := p.store.GetPref(ctx, keyDeleteAfter)
	if err != nil || !ok {
		return DefaultDeleteAfter, err
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return DefaultDeleteAfter, nil
	}
	return time.Duration(secs) * time.Second, nil
}

func (p *Prefs) SetDeleteAfter(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return errs.Errorf(errs.Validation, "prefs.delete_after", "negative retention %s", d)
	}
	return p.store.SetPref(ctx, keyDeleteAfter, strconv.FormatInt(int64(d/time.Second), 10))
}
