// Package adverts runs the per-group recurring broadcast messages. Each
// active ad owns one timer goroutine; the runtime registry tracks cancel
// funcs so a persisted entry never has more than one live timer.
package adverts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"groupwarden/internal/runtime"
	"groupwarden/internal/store"
	"groupwarden/internal/transport"
	"groupwarden/pkg/logx"
)

var intervalRe = regexp.MustCompile(`^(\d+)([smhd])$`)

const (
	MinInterval = 10 * time.Second
	MaxInterval = 7 * 24 * time.Hour
)

// ParseInterval parses a compact interval like "30m", "1h" or "2d".
// Malformed input is an error, never a silent default.
func ParseInterval(s string) (time.Duration, error) {
	m := intervalRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q, want <number><s|m|h|d>", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// Service manages ad persistence and the timer goroutines that deliver
// them. Construct with New, then Start before LoadAll or Add.
type Service struct {
	st  store.Store
	tr  transport.Transport
	reg *runtime.Registry
	lim *rate.Limiter
	log logx.Logger

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(st store.Store, tr transport.Transport, reg *runtime.Registry, log logx.Logger) *Service {
	return &Service{
		st:  st,
		tr:  tr,
		reg: reg,
		// Ticks across all groups share one send budget.
		lim: rate.NewLimiter(rate.Every(time.Second), 5),
		log: log,
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
}

// Stop cancels every running timer and waits for the goroutines, bounded
// by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.reg.DrainAds()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadAll starts a timer for every persisted active ad.
func (s *Service) LoadAll(ctx context.Context) error {
	ads, err := s.st.AllAds(ctx)
	if err != nil {
		return fmt.Errorf("load ads: %w", err)
	}
	var n int
	for _, ad := range ads {
		if !ad.Active {
			continue
		}
		if err := s.startTimer(ad); err != nil {
			s.log.Warn("skipping bad ad entry",
				logx.String("id", ad.ID), logx.Int64("chat_id", ad.ChatID), logx.Err(err))
			continue
		}
		n++
	}
	s.log.Info("ads loaded", logx.Int("count", n))
	return nil
}

// Add persists a new recurring ad and starts its timer. The first delivery
// happens one full interval after creation.
func (s *Service) Add(ctx context.Context, chatID int64, message string, interval time.Duration) (store.Ad, error) {
	if strings.TrimSpace(message) == "" {
		return store.Ad{}, errors.New("ad message is empty")
	}
	if interval < MinInterval || interval > MaxInterval {
		return store.Ad{}, fmt.Errorf("interval %s out of range [%s, %s]", interval, MinInterval, MaxInterval)
	}
	ad := store.Ad{
		ID:       uuid.NewString(),
		ChatID:   chatID,
		Message:  message,
		Interval: interval,
		Active:   true,
		Created:  time.Now().UTC(),
	}
	if err := s.st.AddAd(ctx, ad); err != nil {
		return store.Ad{}, fmt.Errorf("persist ad: %w", err)
	}
	if err := s.startTimer(ad); err != nil {
		return store.Ad{}, err
	}
	s.log.Info("ad added",
		logx.Int64("chat_id", chatID),
		logx.String("id", ad.ID),
		logx.Duration("interval", interval))
	return ad, nil
}

// Remove deletes the ad and cancels its timer. It reports whether an ad
// with that id existed.
func (s *Service) Remove(ctx context.Context, chatID int64, id string) (bool, error) {
	found, err := s.st.DeleteAd(ctx, chatID, id)
	if err != nil {
		return false, fmt.Errorf("delete ad: %w", err)
	}
	s.reg.CancelAd(runtime.AdKey{ChatID: chatID, AdID: id})
	return found, nil
}

// List returns the group's persisted ads.
func (s *Service) List(ctx context.Context, chatID int64) ([]store.Ad, error) {
	return s.st.ListAds(ctx, chatID)
}

func (s *Service) startTimer(ad store.Ad) error {
	if ad.Interval <= 0 {
		return fmt.Errorf("ad %s has non-positive interval", ad.ID)
	}
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	if base == nil {
		return errors.New("adverts service not started")
	}

	ctx, cancel := context.WithCancel(base)
	key := runtime.AdKey{ChatID: ad.ChatID, AdID: ad.ID}
	s.reg.PutAd(key, cancel)

	s.wg.Add(1)
	go s.run(ctx, key, ad)
	return nil
}

// run delivers the ad once per interval until cancelled. A send failure
// stops this timer but leaves the persisted entry intact, so the next
// startup retries it.
func (s *Service) run(ctx context.Context, key runtime.AdKey, ad store.Ad) {
	defer s.wg.Done()
	t := time.NewTicker(ad.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := s.lim.Wait(ctx); err != nil {
			return
		}
		if _, err := s.tr.SendText(ctx, ad.ChatID, ad.Message); err != nil {
			s.log.Warn("ad delivery failed, stopping timer",
				logx.Int64("chat_id", ad.ChatID),
				logx.String("id", ad.ID),
				logx.Err(err))
			s.reg.DropAd(key)
			return
		}
		s.log.Debug("ad delivered",
			logx.Int64("chat_id", ad.ChatID), logx.String("id", ad.ID))
	}
}
