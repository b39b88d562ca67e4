package runtime

import (
	"testing"

	"github.com/robfig/cron/v3"
)

func TestPutAdCancelsPrevious(t *testing.T) {
	t.Parallel()
	r := New()
	key := AdKey{ChatID: 1, AdID: "a"}

	firstCancelled := false
	r.PutAd(key, func() { firstCancelled = true })
	r.PutAd(key, func() {})

	if !firstCancelled {
		t.Error("replacing a live timer must cancel the previous one")
	}
	if ads, _ := r.Counts(); ads != 1 {
		t.Errorf("got %d ads, want 1", ads)
	}
}

func TestCancelAd(t *testing.T) {
	t.Parallel()
	r := New()
	key := AdKey{ChatID: 1, AdID: "a"}

	cancelled := false
	r.PutAd(key, func() { cancelled = true })

	if !r.CancelAd(key) {
		t.Error("CancelAd should report the timer existed")
	}
	if !cancelled {
		t.Error("CancelAd must run the cancel func")
	}
	if r.HasAd(key) {
		t.Error("cancelled key should be gone")
	}
	if r.CancelAd(key) {
		t.Error("second CancelAd should report missing")
	}
}

func TestDropAdDoesNotCancel(t *testing.T) {
	t.Parallel()
	r := New()
	key := AdKey{ChatID: 1, AdID: "a"}

	cancelled := false
	r.PutAd(key, func() { cancelled = true })
	r.DropAd(key)

	if cancelled {
		t.Error("DropAd must not run the cancel func")
	}
	if r.HasAd(key) {
		t.Error("dropped key should be gone")
	}
}

func TestDrainAds(t *testing.T) {
	t.Parallel()
	r := New()

	cancelled := 0
	for i := int64(1); i <= 3; i++ {
		r.PutAd(AdKey{ChatID: i, AdID: "x"}, func() { cancelled++ })
	}
	r.DrainAds()

	if cancelled != 3 {
		t.Errorf("cancelled %d timers, want 3", cancelled)
	}
	if ads, _ := r.Counts(); ads != 0 {
		t.Errorf("got %d ads after drain, want 0", ads)
	}
}

func TestAdKeys(t *testing.T) {
	t.Parallel()
	r := New()
	r.PutAd(AdKey{ChatID: 1, AdID: "a"}, func() {})
	r.PutAd(AdKey{ChatID: 2, AdID: "b"}, func() {})

	keys := r.AdKeys()
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
}

func TestTriggers(t *testing.T) {
	t.Parallel()
	r := New()

	if _, ok := r.PutTrigger("1/open", cron.EntryID(1)); ok {
		t.Error("first PutTrigger should have no previous entry")
	}
	prev, ok := r.PutTrigger("1/open", cron.EntryID(2))
	if !ok || prev != cron.EntryID(1) {
		t.Errorf("PutTrigger prev = %v, %v; want 1, true", prev, ok)
	}

	id, ok := r.TakeTrigger("1/open")
	if !ok || id != cron.EntryID(2) {
		t.Errorf("TakeTrigger = %v, %v; want 2, true", id, ok)
	}
	if r.HasTrigger("1/open") {
		t.Error("taken trigger should be gone")
	}
	if _, ok := r.TakeTrigger("1/open"); ok {
		t.Error("second TakeTrigger should report missing")
	}
}
