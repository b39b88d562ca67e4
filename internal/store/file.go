package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"groupwarden/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files (under the configured directory):
//   - groups.json    chatID -> settings
//   - schedules.json chatID -> ordered schedule records
//   - ads.json       chatID -> ordered ad records
//
// Writes rewrite the whole file through a temp file + rename. The single
// mutex serializes every read-modify-write, so concurrent toggles for the
// same group cannot lose updates.
type fileStore struct {
	log logx.Logger
	dir string

	mu sync.Mutex
}

type fileSchedule struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Cron    string    `json:"cron"`
	Time    string    `json:"time,omitempty"`
	Active  bool      `json:"active"`
	Created time.Time `json:"created"`
}

type fileAd struct {
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	IntervalMS int64     `json:"intervalMs"`
	Active     bool      `json:"active"`
	Created    time.Time `json:"created"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := cfg.Path
	if dir == "" {
		return nil, errors.New("store.path is required for the file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) groupsPath() string    { return filepath.Join(s.dir, "groups.json") }
func (s *fileStore) schedulesPath() string { return filepath.Join(s.dir, "schedules.json") }
func (s *fileStore) adsPath() string       { return filepath.Join(s.dir, "ads.json") }

func chatKey(chatID int64) string { return strconv.FormatInt(chatID, 10) }

func readJSONFile[T any](path string, out *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ---- group settings ----

func (s *fileStore) loadGroupsLocked() (map[string]GroupSettings, error) {
	m := map[string]GroupSettings{}
	if err := readJSONFile(s.groupsPath(), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *fileStore) GroupSettings(ctx context.Context, chatID int64) (GroupSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadGroupsLocked()
	if err != nil {
		return DefaultSettings(chatID), err
	}
	got, ok := m[chatKey(chatID)]
	if !ok {
		return DefaultSettings(chatID), nil
	}
	return mergeDefaults(chatID, got), nil
}

func (s *fileStore) UpdateGroupSettings(ctx context.Context, chatID int64, fn func(*GroupSettings)) (GroupSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadGroupsLocked()
	if err != nil {
		return GroupSettings{}, err
	}
	cur, ok := m[chatKey(chatID)]
	if !ok {
		cur = DefaultSettings(chatID)
	} else {
		cur = mergeDefaults(chatID, cur)
	}
	fn(&cur)
	touchActivity(&cur)
	m[chatKey(chatID)] = cur
	if err := writeJSONFile(s.groupsPath(), m); err != nil {
		return GroupSettings{}, err
	}
	return cur, nil
}

// mergeDefaults fills zero-valued fields that have non-zero defaults, so
// records written by older versions still come back fully populated.
func mergeDefaults(chatID int64, got GroupSettings) GroupSettings {
	got.ChatID = chatID
	if got.WelcomeMessage == "" {
		got.WelcomeMessage = DefaultWelcomeMessage
	}
	if got.PaytimeInterval <= 0 {
		got.PaytimeInterval = 60
	}
	if got.Admins == nil {
		got.Admins = []int64{}
	}
	return got
}

// ---- schedules ----

func (s *fileStore) loadSchedulesLocked() (map[string][]fileSchedule, error) {
	m := map[string][]fileSchedule{}
	if err := readJSONFile(s.schedulesPath(), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func toSchedule(chatID int64, r fileSchedule) Schedule {
	return Schedule{
		ID:       r.ID,
		ChatID:   chatID,
		Type:     ScheduleType(r.Type),
		CronExpr: r.Cron,
		AtTime:   r.Time,
		Active:   r.Active,
		Created:  r.Created,
	}
}

func (s *fileStore) ListSchedules(ctx context.Context, chatID int64) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadSchedulesLocked()
	if err != nil {
		return nil, err
	}
	recs := m[chatKey(chatID)]
	out := make([]Schedule, 0, len(recs))
	for _, r := range recs {
		out = append(out, toSchedule(chatID, r))
	}
	return out, nil
}

func (s *fileStore) AllSchedules(ctx context.Context) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadSchedulesLocked()
	if err != nil {
		return nil, err
	}
	var out []Schedule
	for key, recs := range m {
		chatID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.log.Warn("skipping schedules with bad chat key", logx.String("key", key))
			continue
		}
		for _, r := range recs {
			out = append(out, toSchedule(chatID, r))
		}
	}
	return out, nil
}

func (s *fileStore) UpsertSchedule(ctx context.Context, sc Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadSchedulesLocked()
	if err != nil {
		return err
	}
	key := chatKey(sc.ChatID)
	kept := m[key][:0]
	for _, r := range m[key] {
		if r.Type != string(sc.Type) {
			kept = append(kept, r)
		}
	}
	kept = append(kept, fileSchedule{
		ID:      sc.ID,
		Type:    string(sc.Type),
		Cron:    sc.CronExpr,
		Time:    sc.AtTime,
		Active:  sc.Active,
		Created: sc.Created,
	})
	m[key] = kept
	return writeJSONFile(s.schedulesPath(), m)
}

func (s *fileStore) DeleteSchedule(ctx context.Context, chatID int64, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadSchedulesLocked()
	if err != nil {
		return false, err
	}
	key := chatKey(chatID)
	kept := m[key][:0]
	removed := false
	for _, r := range m[key] {
		if r.ID == id {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return false, nil
	}
	m[key] = kept
	return true, writeJSONFile(s.schedulesPath(), m)
}

func (s *fileStore) DeleteSchedulesOfType(ctx context.Context, chatID int64, typ ScheduleType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadSchedulesLocked()
	if err != nil {
		return 0, err
	}
	key := chatKey(chatID)
	kept := m[key][:0]
	removed := 0
	for _, r := range m[key] {
		if r.Type == string(typ) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	m[key] = kept
	return removed, writeJSONFile(s.schedulesPath(), m)
}

// ---- ads ----

func (s *fileStore) loadAdsLocked() (map[string][]fileAd, error) {
	m := map[string][]fileAd{}
	if err := readJSONFile(s.adsPath(), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func toAd(chatID int64, r fileAd) Ad {
	return Ad{
		ID:       r.ID,
		ChatID:   chatID,
		Message:  r.Message,
		Interval: time.Duration(r.IntervalMS) * time.Millisecond,
		Active:   r.Active,
		Created:  r.Created,
	}
}

func (s *fileStore) ListAds(ctx context.Context, chatID int64) ([]Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadAdsLocked()
	if err != nil {
		return nil, err
	}
	recs := m[chatKey(chatID)]
	out := make([]Ad, 0, len(recs))
	for _, r := range recs {
		out = append(out, toAd(chatID, r))
	}
	return out, nil
}

func (s *fileStore) AllAds(ctx context.Context) ([]Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadAdsLocked()
	if err != nil {
		return nil, err
	}
	var out []Ad
	for key, recs := range m {
		chatID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.log.Warn("skipping ads with bad chat key", logx.String("key", key))
			continue
		}
		for _, r := range recs {
			out = append(out, toAd(chatID, r))
		}
	}
	return out, nil
}

func (s *fileStore) AddAd(ctx context.Context, ad Ad) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadAdsLocked()
	if err != nil {
		return err
	}
	key := chatKey(ad.ChatID)
	m[key] = append(m[key], fileAd{
		ID:         ad.ID,
		Message:    ad.Message,
		IntervalMS: ad.Interval.Milliseconds(),
		Active:     ad.Active,
		Created:    ad.Created,
	})
	return writeJSONFile(s.adsPath(), m)
}

func (s *fileStore) DeleteAd(ctx context.Context, chatID int64, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadAdsLocked()
	if err != nil {
		return false, err
	}
	key := chatKey(chatID)
	kept := m[key][:0]
	removed := false
	for _, r := range m[key] {
		if r.ID == id {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return false, nil
	}
	m[key] = kept
	return true, writeJSONFile(s.adsPath(), m)
}
