package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"groupwarden/pkg/logx"
)

var testDrivers = []string{"file", "sqlite"}

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = t.TempDir()
	case "sqlite":
		cfg.Path = filepath.Join(t.TempDir(), "test.db")
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGroupSettingsDefaults(t *testing.T) {
	t.Parallel()
	for _, driver := range testDrivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)

			got, err := st.GroupSettings(context.Background(), 42)
			if err != nil {
				t.Fatalf("GroupSettings: %v", err)
			}
			if got.ChatID != 42 {
				t.Errorf("ChatID = %d, want 42", got.ChatID)
			}
			if !got.Active {
				t.Error("unknown group should default to active")
			}
			if got.PaytimeInterval != 60 {
				t.Errorf("PaytimeInterval = %d, want 60", got.PaytimeInterval)
			}
			if got.WelcomeMessage != DefaultWelcomeMessage {
				t.Errorf("WelcomeMessage = %q", got.WelcomeMessage)
			}
			if got.Admins == nil {
				t.Error("Admins should never be nil")
			}
			if got.AntiLink || got.AntiLinkGroup || got.BanLinkGroup || got.BanExtreme || got.Welcome || got.Paytime {
				t.Errorf("feature flags should default to off: %+v", got)
			}
		})
	}
}

func TestUpdateGroupSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range testDrivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			updated, err := st.UpdateGroupSettings(ctx, 7, func(s *GroupSettings) {
				s.AntiLink = true
				s.Welcome = true
				s.WelcomeMessage = "hi @user"
				s.PaytimeInterval = 15
			})
			if err != nil {
				t.Fatalf("UpdateGroupSettings: %v", err)
			}
			if !updated.AntiLink || !updated.Welcome {
				t.Errorf("returned record missing updates: %+v", updated)
			}
			if updated.LastActivity.IsZero() {
				t.Error("LastActivity should be touched on write")
			}

			got, err := st.GroupSettings(ctx, 7)
			if err != nil {
				t.Fatalf("GroupSettings: %v", err)
			}
			if !got.AntiLink || !got.Welcome || got.WelcomeMessage != "hi @user" || got.PaytimeInterval != 15 {
				t.Errorf("persisted record = %+v", got)
			}
			// untouched fields keep their defaults
			if !got.Active {
				t.Error("Active default lost on update")
			}
		})
	}
}

func TestUpdateGroupSettingsIsReadModifyWrite(t *testing.T) {
	t.Parallel()
	for _, driver := range testDrivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			if _, err := st.UpdateGroupSettings(ctx, 9, func(s *GroupSettings) { s.AntiLink = true }); err != nil {
				t.Fatalf("first update: %v", err)
			}
			if _, err := st.UpdateGroupSettings(ctx, 9, func(s *GroupSettings) { s.Welcome = true }); err != nil {
				t.Fatalf("second update: %v", err)
			}

			got, err := st.GroupSettings(ctx, 9)
			if err != nil {
				t.Fatalf("GroupSettings: %v", err)
			}
			if !got.AntiLink || !got.Welcome {
				t.Errorf("second write lost first one: %+v", got)
			}
		})
	}
}

func TestUpsertScheduleReplacesSameType(t *testing.T) {
	t.Parallel()
	for _, driver := range testDrivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			mk := func(id string, typ ScheduleType) Schedule {
				return Schedule{
					ID: id, ChatID: 1, Type: typ,
					CronExpr: "0 8 * * *", AtTime: "08:00",
					Active: true, Created: time.Now().UTC(),
				}
			}
			if err := st.UpsertSchedule(ctx, mk("a", ScheduleOpen)); err != nil {
				t.Fatalf("upsert a: %v", err)
			}
			if err := st.UpsertSchedule(ctx, mk("b", ScheduleOpen)); err != nil {
				t.Fatalf("upsert b: %v", err)
			}
			if err := st.UpsertSchedule(ctx, mk("c", ScheduleClose)); err != nil {
				t.Fatalf("upsert c: %v", err)
			}

			got, err := st.ListSchedules(ctx, 1)
			if err != nil {
				t.Fatalf("ListSchedules: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("got %d schedules, want 2: %+v", len(got), got)
			}
			open := 0
			for _, sc := range got {
				if sc.Type == ScheduleOpen {
					open++
					if sc.ID != "b" {
						t.Errorf("open schedule id = %q, want b", sc.ID)
					}
				}
			}
			if open != 1 {
				t.Errorf("got %d open schedules, want exactly 1", open)
			}
		})
	}
}

func TestDeleteSchedulesOfType(t *testing.T) {
	t.Parallel()
	for _, driver := range testDrivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			sc := Schedule{ID: "x", ChatID: 3, Type: SchedulePaytime, CronExpr: "@every 60m", Active: true, Created: time.Now().UTC()}
			if err := st.UpsertSchedule(ctx, sc); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			n, err := st.DeleteSchedulesOfType(ctx, 3, SchedulePaytime)
			if err != nil {
				t.Fatalf("delete: %v", err)
			}
			if n != 1 {
				t.Errorf("deleted %d, want 1", n)
			}
			n, err = st.DeleteSchedulesOfType(ctx, 3, SchedulePaytime)
			if err != nil {
				t.Fatalf("delete again: %v", err)
			}
			if n != 0 {
				t.Errorf("second delete removed %d, want 0", n)
			}
		})
	}
}

func TestAllSchedulesAcrossChats(t *testing.T) {
	t.Parallel()
	for _, driver := range testDrivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			for _, chat := range []int64{10, 20} {
				sc := Schedule{ID: chatKey(chat), ChatID: chat, Type: ScheduleOpen, CronExpr: "0 8 * * *", Active: true, Created: time.Now().UTC()}
				if err := st.UpsertSchedule(ctx, sc); err != nil {
					t.Fatalf("upsert chat %d: %v", chat, err)
				}
			}
			all, err := st.AllSchedules(ctx)
			if err != nil {
				t.Fatalf("AllSchedules: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("got %d schedules, want 2", len(all))
			}
			seen := map[int64]bool{}
			for _, sc := range all {
				seen[sc.ChatID] = true
			}
			if !seen[10] || !seen[20] {
				t.Errorf("missing chats in %+v", all)
			}
		})
	}
}

func TestAdLifecycle(t *testing.T) {
	t.Parallel()
	for _, driver := range testDrivers {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			ad := Ad{ID: "ad-1", ChatID: 5, Message: "buy now", Interval: 30 * time.Minute, Active: true, Created: time.Now().UTC()}
			if err := st.AddAd(ctx, ad); err != nil {
				t.Fatalf("AddAd: %v", err)
			}

			got, err := st.ListAds(ctx, 5)
			if err != nil {
				t.Fatalf("ListAds: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("got %d ads, want 1", len(got))
			}
			if got[0].Interval != 30*time.Minute {
				t.Errorf("Interval = %s, want 30m", got[0].Interval)
			}
			if got[0].Message != "buy now" {
				t.Errorf("Message = %q", got[0].Message)
			}

			found, err := st.DeleteAd(ctx, 5, "ad-1")
			if err != nil {
				t.Fatalf("DeleteAd: %v", err)
			}
			if !found {
				t.Error("DeleteAd should report the ad existed")
			}
			found, err = st.DeleteAd(ctx, 5, "ad-1")
			if err != nil {
				t.Fatalf("DeleteAd again: %v", err)
			}
			if found {
				t.Error("second DeleteAd should report not found")
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("Open should reject unknown drivers")
	}
}
