// Package runtime holds the process-lifetime registry of live timers and
// triggers. The registry is derived state: it is rebuilt from persisted
// records at startup and discarded at shutdown, and it is never the source
// of truth for what should be running.
package runtime

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// AdKey identifies one live broadcast timer.
type AdKey struct {
	ChatID int64
	AdID   string
}

func (k AdKey) String() string { return fmt.Sprintf("%d-%s", k.ChatID, k.AdID) }

// Registry owns the live handles backing persisted schedule and ad records.
// It is constructed once at startup and passed by reference to the services;
// nothing reaches it through globals.
type Registry struct {
	mu sync.Mutex

	ads      map[AdKey]func()         // cancel func per running ad timer
	triggers map[string]cron.EntryID // schedule id -> live cron entry
}

func New() *Registry {
	return &Registry{
		ads:      map[AdKey]func(){},
		triggers: map[string]cron.EntryID{},
	}
}

// PutAd registers the cancel func for a live ad timer. If a timer is already
// registered under the key it is cancelled first; two live timers for one
// persisted entry must never exist.
func (r *Registry) PutAd(key AdKey, cancel func()) {
	r.mu.Lock()
	prev := r.ads[key]
	r.ads[key] = cancel
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// CancelAd cancels and removes the live timer for key. It reports whether a
// timer existed; a missing timer is not an error (post-crash gap).
func (r *Registry) CancelAd(key AdKey) bool {
	r.mu.Lock()
	cancel, ok := r.ads[key]
	delete(r.ads, key)
	r.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
	return ok
}

// DropAd removes the registry entry without invoking the cancel func. Used
// by a timer goroutine that is already exiting on its own.
func (r *Registry) DropAd(key AdKey) {
	r.mu.Lock()
	delete(r.ads, key)
	r.mu.Unlock()
}

func (r *Registry) HasAd(key AdKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ads[key]
	return ok
}

// AdKeys returns a snapshot of the live ad timer keys.
func (r *Registry) AdKeys() []AdKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AdKey, 0, len(r.ads))
	for k := range r.ads {
		out = append(out, k)
	}
	return out
}

// DrainAds cancels every live ad timer. Called on shutdown.
func (r *Registry) DrainAds() {
	r.mu.Lock()
	cancels := make([]func(), 0, len(r.ads))
	for _, c := range r.ads {
		if c != nil {
			cancels = append(cancels, c)
		}
	}
	r.ads = map[AdKey]func(){}
	r.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// PutTrigger records the live cron entry for a schedule id and returns the
// previous entry id, if any, so the caller can deregister it from cron.
func (r *Registry) PutTrigger(scheduleID string, id cron.EntryID) (cron.EntryID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.triggers[scheduleID]
	r.triggers[scheduleID] = id
	return prev, ok
}

// TakeTrigger removes and returns the live cron entry for a schedule id.
func (r *Registry) TakeTrigger(scheduleID string) (cron.EntryID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.triggers[scheduleID]
	delete(r.triggers, scheduleID)
	return id, ok
}

func (r *Registry) HasTrigger(scheduleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.triggers[scheduleID]
	return ok
}

// Counts reports the number of live ad timers and schedule triggers.
func (r *Registry) Counts() (ads, triggers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ads), len(r.triggers)
}
