package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"groupwarden/internal/transport"
	"groupwarden/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

const adminCacheTTL = 30 * time.Second

type adminCacheEntry struct {
	ids     map[int64]bool
	expires time.Time
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	out       chan<- transport.Update
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// telebot's stop handshake accepts exactly one Stop call; a second
	// caller blocks forever. Both shutdown paths funnel through stopOnce.
	stopOnce   sync.Once
	stopPoller func()

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the Telegram poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64

	// admin lookups hit getChatAdministrators; cache per chat with a short TTL.
	adminMu    sync.Mutex
	adminCache map[int64]adminCacheEntry
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, adminCache: map[int64]adminCacheEntry{}}
	a.stopPoller = b.Stop
	return a, nil
}

func (a *Adapter) stopBot() {
	a.stopOnce.Do(a.stopPoller)
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Any("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		up := transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
				IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			},
		}
		if m.ReplyTo != nil && m.ReplyTo.Sender != nil {
			up.Message.ReplyToUserID = m.ReplyTo.Sender.ID
			up.Message.ReplyToUsername = displayName(m.ReplyTo.Sender)
		}
		a.push(up)
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		joined := m.UsersJoined
		if len(joined) == 0 && m.UserJoined != nil {
			joined = []tele.User{*m.UserJoined}
		}
		if len(joined) == 0 {
			return nil
		}
		ev := &transport.JoinEvent{ChatID: m.Chat.ID, GroupName: m.Chat.Title}
		for _, u := range joined {
			ev.UserIDs = append(ev.UserIDs, u.ID)
			ev.Usernames = append(ev.Usernames, displayName(&u))
		}
		a.push(transport.Update{Kind: transport.UpdateJoin, Join: ev})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		// Ensure we stop telebot when context is cancelled.
		go func() {
			<-rctx.Done()
			a.stopBot()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()

	return nil
}

func (a *Adapter) push(up transport.Update) {
	select {
	case a.out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown on a Telegram long-poll.
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if a.bot != nil {
		go a.stopBot()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		rem := time.Until(dl)
		if rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) (transport.MessageRef, error) {
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	return a.bot.Delete(tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	})
}

// RemoveParticipant kicks the user without a permanent ban: Telegram models a
// kick as ban+unban, matching the engine's "remove from group" semantics.
func (a *Adapter) RemoveParticipant(ctx context.Context, chatID, userID int64) error {
	chat := &tele.Chat{ID: chatID}
	user := &tele.User{ID: userID}
	if err := a.bot.Ban(chat, &tele.ChatMember{User: user}); err != nil {
		return err
	}
	return a.bot.Unban(chat, user)
}

func (a *Adapter) SetGroupRestriction(ctx context.Context, chatID int64, mode transport.RestrictionMode) error {
	chat := &tele.Chat{ID: chatID}
	switch mode {
	case transport.RestrictionOpen:
		return a.bot.SetGroupPermissions(chat, tele.NoRestrictions())
	case transport.RestrictionClosed:
		return a.bot.SetGroupPermissions(chat, tele.NoRights())
	default:
		return errors.New("unknown restriction mode: " + string(mode))
	}
}

func (a *Adapter) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	now := time.Now()

	a.adminMu.Lock()
	if e, ok := a.adminCache[chatID]; ok && now.Before(e.expires) {
		isAdm := e.ids[userID]
		a.adminMu.Unlock()
		return isAdm, nil
	}
	a.adminMu.Unlock()

	admins, err := a.bot.AdminsOf(&tele.Chat{ID: chatID})
	if err != nil {
		return false, err
	}
	ids := make(map[int64]bool, len(admins))
	for _, m := range admins {
		if m.User != nil {
			ids[m.User.ID] = true
		}
	}

	a.adminMu.Lock()
	a.adminCache[chatID] = adminCacheEntry{ids: ids, expires: now.Add(adminCacheTTL)}
	a.adminMu.Unlock()

	return ids[userID], nil
}

func displayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return strconv.FormatInt(u.ID, 10)
}
