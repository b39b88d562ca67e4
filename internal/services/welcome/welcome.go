// Package welcome greets members joining a group, when the group has
// greetings enabled.
package welcome

import (
	"context"
	"strings"

	"groupwarden/internal/store"
	"groupwarden/internal/transport"
	"groupwarden/pkg/logx"
)

type Service struct {
	st  store.Store
	tr  transport.Transport
	log logx.Logger
}

func New(st store.Store, tr transport.Transport, log logx.Logger) *Service {
	return &Service{st: st, tr: tr, log: log}
}

// Render expands the @user and @group placeholders of a welcome template.
func Render(template, user, group string) string {
	return strings.NewReplacer("@user", user, "@group", group).Replace(template)
}

// HandleJoin greets every user in the join event. Greeting failures are
// logged, not propagated.
func (s *Service) HandleJoin(ctx context.Context, ev *transport.JoinEvent) {
	settings, err := s.st.GroupSettings(ctx, ev.ChatID)
	if err != nil {
		s.log.Warn("settings lookup failed; skipping welcome",
			logx.Int64("chat_id", ev.ChatID), logx.Err(err))
		return
	}
	if !settings.Active || !settings.Welcome {
		return
	}
	template := settings.WelcomeMessage
	if strings.TrimSpace(template) == "" {
		template = store.DefaultWelcomeMessage
	}
	for _, name := range ev.Usernames {
		text := Render(template, name, ev.GroupName)
		if _, err := s.tr.SendText(ctx, ev.ChatID, text); err != nil {
			s.log.Warn("welcome message failed",
				logx.Int64("chat_id", ev.ChatID), logx.String("user", name), logx.Err(err))
		}
	}
}
