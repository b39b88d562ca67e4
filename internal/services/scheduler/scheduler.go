// Package scheduler owns the recurring group triggers: daily open/close
// restrictions and the periodic paytime announcement. Persisted entries are
// the source of truth; live cron registrations are rebuilt from them at
// startup and swapped atomically on every change.
package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"groupwarden/internal/runtime"
	"groupwarden/internal/store"
	"groupwarden/internal/transport"
	"groupwarden/pkg/logx"
)

var timeOfDayRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// TimeToCron converts a zero-padded "HH:MM" wall-clock time into a
// once-a-day cron expression. Anything else is rejected.
func TimeToCron(at string) (string, error) {
	m := timeOfDayRe.FindStringSubmatch(at)
	if m == nil {
		return "", fmt.Errorf("invalid time of day %q, want HH:MM", at)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%d %d * * *", mm, hh), nil
}

const fireTimeout = 30 * time.Second

// Service drives the cron runner and keeps persisted schedule entries and
// live cron registrations in lockstep.
type Service struct {
	st  store.Store
	tr  transport.Transport
	reg *runtime.Registry
	cr  *cron.Cron
	loc *time.Location
	log logx.Logger
}

func New(st store.Store, tr transport.Transport, reg *runtime.Registry, loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		st:  st,
		tr:  tr,
		reg: reg,
		cr:  cron.New(cron.WithLocation(loc)),
		loc: loc,
		log: log,
	}
}

func (s *Service) Start() { s.cr.Start() }

// Stop halts the runner and waits for in-flight fires, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	done := s.cr.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadAll registers cron entries for every active persisted schedule.
// Missed fires during downtime are skipped, not replayed.
func (s *Service) LoadAll(ctx context.Context) error {
	all, err := s.st.AllSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	var n int
	for _, sc := range all {
		if !sc.Active {
			continue
		}
		if err := s.register(sc); err != nil {
			s.log.Warn("skipping bad schedule entry",
				logx.String("id", sc.ID),
				logx.Int64("chat_id", sc.ChatID),
				logx.String("cron", sc.CronExpr),
				logx.Err(err))
			continue
		}
		n++
	}
	s.log.Info("schedules loaded", logx.Int("count", n))
	return nil
}

// SetDaily installs (or replaces) the group's daily open or close trigger.
// Persist first, then swap the live registration; a crash between the two
// leaves a persisted entry that LoadAll picks up on restart.
func (s *Service) SetDaily(ctx context.Context, chatID int64, typ store.ScheduleType, at string) (store.Schedule, error) {
	if typ != store.ScheduleOpen && typ != store.ScheduleClose {
		return store.Schedule{}, fmt.Errorf("schedule type %q is not a daily trigger", typ)
	}
	expr, err := TimeToCron(at)
	if err != nil {
		return store.Schedule{}, err
	}
	sc := store.Schedule{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		Type:     typ,
		CronExpr: expr,
		AtTime:   at,
		Active:   true,
		Created:  time.Now().UTC(),
	}
	if err := s.st.UpsertSchedule(ctx, sc); err != nil {
		return store.Schedule{}, fmt.Errorf("persist schedule: %w", err)
	}
	if err := s.register(sc); err != nil {
		return store.Schedule{}, err
	}
	s.log.Info("daily trigger set",
		logx.Int64("chat_id", chatID),
		logx.String("type", string(typ)),
		logx.String("at", at))
	return sc, nil
}

// EnablePaytime installs (or replaces) the group's recurring time
// announcement, firing every interval minutes.
func (s *Service) EnablePaytime(ctx context.Context, chatID int64, intervalMin int) (store.Schedule, error) {
	sc := store.Schedule{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		Type:     store.SchedulePaytime,
		CronExpr: fmt.Sprintf("@every %dm", intervalMin),
		Active:   true,
		Created:  time.Now().UTC(),
	}
	if err := s.st.UpsertSchedule(ctx, sc); err != nil {
		return store.Schedule{}, fmt.Errorf("persist schedule: %w", err)
	}
	if err := s.register(sc); err != nil {
		return store.Schedule{}, err
	}
	s.log.Info("paytime enabled",
		logx.Int64("chat_id", chatID), logx.Int("interval_min", intervalMin))
	return sc, nil
}

// Disable removes the group's trigger of the given type, persisted entry
// and live registration both. Removing a type that has no trigger is a
// no-op.
func (s *Service) Disable(ctx context.Context, chatID int64, typ store.ScheduleType) error {
	if _, err := s.st.DeleteSchedulesOfType(ctx, chatID, typ); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	s.unregister(chatID, typ)
	return nil
}

// ClearDaily removes every open and close trigger the group has, persisted
// entries and live registrations both, and reports how many were removed.
// The paytime announcement is untouched; it is owned by its settings flag.
func (s *Service) ClearDaily(ctx context.Context, chatID int64) (int, error) {
	var n int
	for _, typ := range []store.ScheduleType{store.ScheduleOpen, store.ScheduleClose} {
		removed, err := s.st.DeleteSchedulesOfType(ctx, chatID, typ)
		if err != nil {
			return n, fmt.Errorf("delete %s schedule: %w", typ, err)
		}
		s.unregister(chatID, typ)
		n += removed
	}
	if n > 0 {
		s.log.Info("daily triggers cleared",
			logx.Int64("chat_id", chatID), logx.Int("count", n))
	}
	return n, nil
}

// Active returns the group's currently persisted schedule entries.
func (s *Service) Active(ctx context.Context, chatID int64) ([]store.Schedule, error) {
	all, err := s.st.ListSchedules(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sc := range all {
		if sc.Active {
			out = append(out, sc)
		}
	}
	return out, nil
}

func triggerKey(chatID int64, typ store.ScheduleType) string {
	return fmt.Sprintf("%d/%s", chatID, typ)
}

// register adds a cron entry for sc and drops any previous registration
// for the same (group, type) slot, so a slot never holds two live entries.
func (s *Service) register(sc store.Schedule) error {
	chatID, typ := sc.ChatID, sc.Type
	id, err := s.cr.AddFunc(sc.CronExpr, func() { s.fire(chatID, typ) })
	if err != nil {
		return fmt.Errorf("register cron %q: %w", sc.CronExpr, err)
	}
	if prev, ok := s.reg.PutTrigger(triggerKey(chatID, typ), id); ok {
		s.cr.Remove(prev)
	}
	return nil
}

func (s *Service) unregister(chatID int64, typ store.ScheduleType) {
	if prev, ok := s.reg.TakeTrigger(triggerKey(chatID, typ)); ok {
		s.cr.Remove(prev)
	}
}

func (s *Service) fire(chatID int64, typ store.ScheduleType) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	var err error
	switch typ {
	case store.ScheduleOpen:
		err = s.applyRestriction(ctx, chatID, transport.RestrictionOpen)
	case store.ScheduleClose:
		err = s.applyRestriction(ctx, chatID, transport.RestrictionClosed)
	case store.SchedulePaytime:
		now := time.Now().In(s.loc)
		_, err = s.tr.SendText(ctx, chatID, fmt.Sprintf("It is now %s.", now.Format("15:04")))
	}
	if err != nil {
		s.log.Warn("scheduled trigger failed",
			logx.Int64("chat_id", chatID),
			logx.String("type", string(typ)),
			logx.Err(err))
		return
	}
	s.log.Info("scheduled trigger fired",
		logx.Int64("chat_id", chatID), logx.String("type", string(typ)))
}

// ApplyNow flips the group restriction outside of any schedule, for the
// manual open/close commands.
func (s *Service) ApplyNow(ctx context.Context, chatID int64, mode transport.RestrictionMode) error {
	return s.applyRestriction(ctx, chatID, mode)
}

// applyRestriction flips the group's send permission and announces the
// change. The announcement is best-effort once the restriction took hold.
func (s *Service) applyRestriction(ctx context.Context, chatID int64, mode transport.RestrictionMode) error {
	if err := s.tr.SetGroupRestriction(ctx, chatID, mode); err != nil {
		return err
	}
	text := "The group is now open. Everyone can send messages."
	if mode == transport.RestrictionClosed {
		text = "The group is now closed. Only admins can send messages."
	}
	if _, err := s.tr.SendText(ctx, chatID, text); err != nil {
		s.log.Warn("restriction notice failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return nil
}
