package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"groupwarden/internal/services/guard"
	"groupwarden/internal/services/welcome"
	"groupwarden/internal/store"
	"groupwarden/internal/transport"
	"groupwarden/pkg/logx"
)

const commandPrefix = "!"

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Description string
	Usage       string
	// AdminOnly commands require the sender to be a group admin or listed
	// in the group's admins setting.
	AdminOnly bool
	Handle    HandlerFunc
}

// Request carries one matched command invocation to its handler.
type Request struct {
	Msg *transport.Message
	// Args are the whitespace-split tokens after the command word.
	Args []string
	// ArgLine is the raw remainder after the command word, for commands
	// that take free text.
	ArgLine string

	Transport transport.Transport
	Settings  store.GroupSettings
	Log       logx.Logger
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Transport.SendText(ctx, r.Msg.ChatID, text)
	return err
}

const handlerTimeout = 30 * time.Second

// CommandManager routes inbound updates: commands to their handlers,
// everything else through moderation, joins to the greeter. Handlers run on
// a bounded worker pool so one slow command cannot stall the update stream.
type CommandManager struct {
	mu   sync.RWMutex
	cmds map[string]Command

	tr    transport.Transport
	st    store.Store
	guard *guard.Engine
	welc  *welcome.Service
	log   logx.Logger

	jobs chan func()
}

func NewCommandManager(log logx.Logger, tr transport.Transport, st store.Store, g *guard.Engine, w *welcome.Service) *CommandManager {
	return &CommandManager{
		cmds:  map[string]Command{},
		tr:    tr,
		st:    st,
		guard: g,
		welc:  w,
		log:   log,
		jobs:  make(chan func(), 256),
	}
}

func (m *CommandManager) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		m.cmds[name] = c
	}
}

// Names returns the registered command names, sorted, for help output.
func (m *CommandManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.cmds))
	for n := range m.cmds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (m *CommandManager) Lookup(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[strings.ToLower(name)]
	return c, ok
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	m.log.Info("dispatcher started",
		logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in command worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job != nil {
						job()
					}
				}
			}
		}()
	}
	defer func() {
		wg.Wait()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) route(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil && up.Message.IsGroup {
			m.routeMessage(ctx, up.Message)
		}
	case transport.UpdateJoin:
		if up.Join != nil {
			ev := up.Join
			m.enqueue(func() {
				jctx, cancel := context.WithTimeout(ctx, handlerTimeout)
				defer cancel()
				m.welc.HandleJoin(jctx, ev)
			})
		}
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, msg *transport.Message) {
	// Moderation sees every group message; a command word in front of a
	// link must not exempt it.
	m.enqueue(func() {
		gctx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		m.guard.HandleMessage(gctx, msg)
	})

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, commandPrefix) {
		return
	}
	rest := strings.TrimPrefix(text, commandPrefix)
	word, argLine, _ := strings.Cut(rest, " ")
	cmd, ok := m.Lookup(word)
	if !ok {
		// Not every "!" message is for us; stay quiet on unknown words.
		return
	}
	m.enqueue(func() {
		hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
		defer cancel()
		m.runCommand(hctx, cmd, msg, argLine)
	})
}

func (m *CommandManager) enqueue(job func()) {
	select {
	case m.jobs <- job:
	default:
		m.log.Warn("job queue full, dropping update")
	}
}

func (m *CommandManager) runCommand(ctx context.Context, cmd Command, msg *transport.Message, argLine string) {
	settings, err := m.st.GroupSettings(ctx, msg.ChatID)
	if err != nil {
		m.log.Warn("settings lookup failed",
			logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		return
	}

	if cmd.AdminOnly && !m.senderIsAdmin(ctx, msg, settings) {
		_, _ = m.tr.SendText(ctx, msg.ChatID, "This command is for group admins only.")
		return
	}

	// A disabled group only accepts the command that re-enables it.
	if !settings.Active && cmd.Name != "enable" {
		_, _ = m.tr.SendText(ctx, msg.ChatID, "I am disabled in this group. An admin can run !enable.")
		return
	}

	argLine = strings.TrimSpace(argLine)
	req := &Request{
		Msg:       msg,
		Args:      strings.Fields(argLine),
		ArgLine:   argLine,
		Transport: m.tr,
		Settings:  settings,
		Log:       m.log.With(logx.String("cmd", cmd.Name)),
	}

	if err := cmd.Handle(ctx, req); err != nil {
		m.log.Warn("command failed",
			logx.String("cmd", cmd.Name),
			logx.Int64("chat_id", msg.ChatID),
			logx.Err(err))
		reply := "Something went wrong."
		var ue *UsageError
		if errors.As(err, &ue) {
			usage := ue.Usage
			if usage == "" {
				usage = cmd.Usage
			}
			reply = strings.TrimSpace(fmt.Sprintf("Usage: %s%s %s", commandPrefix, cmd.Name, usage))
		}
		_, _ = m.tr.SendText(ctx, msg.ChatID, reply)
	}
}

// senderIsAdmin accepts either a live transport admin or an id on the
// group's configured admins list.
func (m *CommandManager) senderIsAdmin(ctx context.Context, msg *transport.Message, settings store.GroupSettings) bool {
	for _, id := range settings.Admins {
		if id == msg.FromID {
			return true
		}
	}
	ok, err := m.tr.IsAdmin(ctx, msg.ChatID, msg.FromID)
	if err != nil {
		m.log.Warn("admin lookup failed",
			logx.Int64("chat_id", msg.ChatID), logx.Int64("user_id", msg.FromID), logx.Err(err))
		return false
	}
	return ok
}

// UsageError is returned by handlers when arguments don't parse; the
// dispatcher replies with the command's usage line.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return "usage: " + e.Usage }
