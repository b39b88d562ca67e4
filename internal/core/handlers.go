package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"groupwarden/internal/services/adverts"
	"groupwarden/internal/services/scheduler"
	"groupwarden/internal/store"
	"groupwarden/internal/transport"
	"groupwarden/pkg/logx"
)

const (
	minPaytimeIntervalMin = 10
	maxPaytimeIntervalMin = 1440
)

// handlers binds the command surface to the services behind it.
type handlers struct {
	st    store.Store
	sched *scheduler.Service
	ads   *adverts.Service
	log   logx.Logger
}

func (h *handlers) register(m *CommandManager) {
	m.Register(
		Command{Name: "help", Description: "List available commands", Handle: func(ctx context.Context, req *Request) error {
			return h.help(ctx, req, m)
		}},
		Command{Name: "status", Description: "Show the group's automation settings", Handle: h.status},

		Command{Name: "enable", Description: "Enable the bot in this group", AdminOnly: true, Handle: h.enable},
		Command{Name: "disable", Description: "Disable the bot in this group", AdminOnly: true, Handle: h.disable},

		Command{Name: "antilink", Description: "Warn and delete any link", Usage: "[on|off]", AdminOnly: true,
			Handle: h.flagHandler("antilink",
				func(s store.GroupSettings) bool { return s.AntiLink },
				func(s *store.GroupSettings, v bool) { s.AntiLink = v })},
		Command{Name: "antilinkgp", Description: "Warn and delete group invite links", Usage: "[on|off]", AdminOnly: true,
			Handle: h.flagHandler("antilinkgp",
				func(s store.GroupSettings) bool { return s.AntiLinkGroup },
				func(s *store.GroupSettings, v bool) { s.AntiLinkGroup = v })},
		Command{Name: "banlinkgp", Description: "Remove senders of group invite links", Usage: "[on|off]", AdminOnly: true,
			Handle: h.flagHandler("banlinkgp",
				func(s store.GroupSettings) bool { return s.BanLinkGroup },
				func(s *store.GroupSettings, v bool) { s.BanLinkGroup = v })},
		Command{Name: "banextremo", Description: "Remove senders of any link", Usage: "[on|off]", AdminOnly: true,
			Handle: h.flagHandler("banextremo",
				func(s store.GroupSettings) bool { return s.BanExtreme },
				func(s *store.GroupSettings, v bool) { s.BanExtreme = v })},
		Command{Name: "welcome", Description: "Greet new members", Usage: "[on|off]", AdminOnly: true,
			Handle: h.flagHandler("welcome",
				func(s store.GroupSettings) bool { return s.Welcome },
				func(s *store.GroupSettings, v bool) { s.Welcome = v })},
		Command{Name: "setwelcome", Description: "Set the welcome message (@user and @group are expanded)",
			Usage: "<message>", AdminOnly: true, Handle: h.setWelcome},

		Command{Name: "paytime", Description: "Announce the time periodically", Usage: "on|off", AdminOnly: true, Handle: h.paytime},
		Command{Name: "paytimeinterval", Description: "Minutes between time announcements",
			Usage: "<minutes>", AdminOnly: true, Handle: h.paytimeInterval},

		Command{Name: "ban", Description: "Remove the author of the replied-to message",
			Usage: "(reply to their message)", AdminOnly: true, Handle: h.ban},

		Command{Name: "openat", Description: "Open the group daily at a time", Usage: "<HH:MM>|off", AdminOnly: true,
			Handle: h.dailyHandler(store.ScheduleOpen)},
		Command{Name: "closeat", Description: "Close the group daily at a time", Usage: "<HH:MM>|off", AdminOnly: true,
			Handle: h.dailyHandler(store.ScheduleClose)},
		Command{Name: "clearschedules", Description: "Cancel the daily open and close triggers", AdminOnly: true,
			Handle: h.clearSchedules},
		Command{Name: "open", Description: "Open the group now", AdminOnly: true, Handle: h.openNow},
		Command{Name: "close", Description: "Close the group now", AdminOnly: true, Handle: h.closeNow},

		Command{Name: "addad", Description: "Add a recurring message", Usage: "<message> | <interval>", AdminOnly: true, Handle: h.addAd},
		Command{Name: "delad", Description: "Delete a recurring message", Usage: "<id>", AdminOnly: true, Handle: h.delAd},
		Command{Name: "ads", Description: "List recurring messages", AdminOnly: true, Handle: h.listAds},
	)
}

func (h *handlers) help(ctx context.Context, req *Request, m *CommandManager) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range m.Names() {
		cmd, ok := m.Lookup(name)
		if !ok {
			continue
		}
		b.WriteString(commandPrefix)
		b.WriteString(cmd.Name)
		if cmd.Usage != "" {
			b.WriteByte(' ')
			b.WriteString(cmd.Usage)
		}
		b.WriteString(" - ")
		b.WriteString(cmd.Description)
		b.WriteByte('\n')
	}
	return req.Reply(ctx, b.String())
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// parseOnOff interprets an optional on/off argument. No argument means
// toggle.
func parseOnOff(args []string) (value, toggle bool, err error) {
	if len(args) == 0 {
		return false, true, nil
	}
	switch strings.ToLower(args[0]) {
	case "on", "yes", "1":
		return true, false, nil
	case "off", "no", "0":
		return false, false, nil
	default:
		return false, false, &UsageError{}
	}
}

func (h *handlers) flagHandler(label string, get func(store.GroupSettings) bool, set func(*store.GroupSettings, bool)) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		want, toggle, err := parseOnOff(req.Args)
		if err != nil {
			return err
		}
		updated, err := h.st.UpdateGroupSettings(ctx, req.Msg.ChatID, func(s *store.GroupSettings) {
			if toggle {
				set(s, !get(*s))
			} else {
				set(s, want)
			}
		})
		if err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("%s is now %s.", label, onOff(get(updated))))
	}
}

func (h *handlers) enable(ctx context.Context, req *Request) error {
	if _, err := h.st.UpdateGroupSettings(ctx, req.Msg.ChatID, func(s *store.GroupSettings) {
		s.Active = true
	}); err != nil {
		return err
	}
	return req.Reply(ctx, "I am back. Moderation and greetings are active again.")
}

func (h *handlers) disable(ctx context.Context, req *Request) error {
	if _, err := h.st.UpdateGroupSettings(ctx, req.Msg.ChatID, func(s *store.GroupSettings) {
		s.Active = false
	}); err != nil {
		return err
	}
	return req.Reply(ctx, "Going quiet. Scheduled triggers keep running; run !enable to wake me.")
}

func (h *handlers) setWelcome(ctx context.Context, req *Request) error {
	if req.ArgLine == "" {
		return &UsageError{}
	}
	if _, err := h.st.UpdateGroupSettings(ctx, req.Msg.ChatID, func(s *store.GroupSettings) {
		s.WelcomeMessage = req.ArgLine
	}); err != nil {
		return err
	}
	return req.Reply(ctx, "Welcome message updated.")
}

func (h *handlers) paytime(ctx context.Context, req *Request) error {
	want, toggle, err := parseOnOff(req.Args)
	if err != nil {
		return err
	}
	updated, err := h.st.UpdateGroupSettings(ctx, req.Msg.ChatID, func(s *store.GroupSettings) {
		if toggle {
			s.Paytime = !s.Paytime
		} else {
			s.Paytime = want
		}
	})
	if err != nil {
		return err
	}
	if updated.Paytime {
		if _, err := h.sched.EnablePaytime(ctx, req.Msg.ChatID, updated.PaytimeInterval); err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("Time announcements on, every %d minutes.", updated.PaytimeInterval))
	}
	if err := h.sched.Disable(ctx, req.Msg.ChatID, store.SchedulePaytime); err != nil {
		return err
	}
	return req.Reply(ctx, "Time announcements off.")
}

func (h *handlers) paytimeInterval(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return &UsageError{}
	}
	minutes, err := strconv.Atoi(req.Args[0])
	if err != nil || minutes < minPaytimeIntervalMin || minutes > maxPaytimeIntervalMin {
		return req.Reply(ctx, fmt.Sprintf("Interval must be %d-%d minutes.",
			minPaytimeIntervalMin, maxPaytimeIntervalMin))
	}
	updated, err := h.st.UpdateGroupSettings(ctx, req.Msg.ChatID, func(s *store.GroupSettings) {
		s.PaytimeInterval = minutes
	})
	if err != nil {
		return err
	}
	if updated.Paytime {
		if _, err := h.sched.EnablePaytime(ctx, req.Msg.ChatID, minutes); err != nil {
			return err
		}
	}
	return req.Reply(ctx, fmt.Sprintf("Time announcement interval set to %d minutes.", minutes))
}

func (h *handlers) ban(ctx context.Context, req *Request) error {
	target := req.Msg.ReplyToUserID
	if target == 0 {
		return req.Reply(ctx, "Reply to a message from the user you want to remove, then send !ban.")
	}
	if target == req.Msg.FromID {
		return req.Reply(ctx, "You cannot remove yourself.")
	}
	if isAdm, err := req.Transport.IsAdmin(ctx, req.Msg.ChatID, target); err != nil {
		return err
	} else if isAdm {
		return req.Reply(ctx, "You cannot remove another admin.")
	}
	if err := req.Transport.RemoveParticipant(ctx, req.Msg.ChatID, target); err != nil {
		return req.Reply(ctx, "I could not remove that user. Check that I am an admin here.")
	}
	who := req.Msg.ReplyToUsername
	if who == "" {
		who = strconv.FormatInt(target, 10)
	}
	return req.Reply(ctx, fmt.Sprintf("%s was removed from the group.", who))
}

func (h *handlers) clearSchedules(ctx context.Context, req *Request) error {
	n, err := h.sched.ClearDaily(ctx, req.Msg.ChatID)
	if err != nil {
		return err
	}
	if n == 0 {
		return req.Reply(ctx, "No daily triggers to cancel.")
	}
	return req.Reply(ctx, fmt.Sprintf("Cancelled %d daily trigger(s).", n))
}

func (h *handlers) dailyHandler(typ store.ScheduleType) HandlerFunc {
	verb := "open"
	if typ == store.ScheduleClose {
		verb = "close"
	}
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) != 1 {
			return &UsageError{}
		}
		if strings.EqualFold(req.Args[0], "off") {
			if err := h.sched.Disable(ctx, req.Msg.ChatID, typ); err != nil {
				return err
			}
			return req.Reply(ctx, fmt.Sprintf("Daily %s trigger removed.", verb))
		}
		sc, err := h.sched.SetDaily(ctx, req.Msg.ChatID, typ, req.Args[0])
		if err != nil {
			return &UsageError{}
		}
		return req.Reply(ctx, fmt.Sprintf("The group will %s every day at %s.", verb, sc.AtTime))
	}
}

func (h *handlers) openNow(ctx context.Context, req *Request) error {
	return h.sched.ApplyNow(ctx, req.Msg.ChatID, transport.RestrictionOpen)
}

func (h *handlers) closeNow(ctx context.Context, req *Request) error {
	return h.sched.ApplyNow(ctx, req.Msg.ChatID, transport.RestrictionClosed)
}

func (h *handlers) addAd(ctx context.Context, req *Request) error {
	message, rawInterval, ok := strings.Cut(req.ArgLine, "|")
	if !ok {
		return &UsageError{}
	}
	message = strings.TrimSpace(message)
	interval, err := adverts.ParseInterval(rawInterval)
	if err != nil {
		return req.Reply(ctx, "Bad interval. Use a number plus s, m, h or d, like 30m or 1h.")
	}
	ad, err := h.ads.Add(ctx, req.Msg.ChatID, message, interval)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Recurring message added with id %s, every %s.", ad.ID, ad.Interval))
}

func (h *handlers) delAd(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return &UsageError{}
	}
	found, err := h.ads.Remove(ctx, req.Msg.ChatID, req.Args[0])
	if err != nil {
		return err
	}
	if !found {
		return req.Reply(ctx, "No recurring message with that id.")
	}
	return req.Reply(ctx, "Recurring message removed.")
}

func (h *handlers) listAds(ctx context.Context, req *Request) error {
	ads, err := h.ads.List(ctx, req.Msg.ChatID)
	if err != nil {
		return err
	}
	if len(ads) == 0 {
		return req.Reply(ctx, "No recurring messages. Add one with !addad <message> | <interval>.")
	}
	var b strings.Builder
	b.WriteString("Recurring messages:\n")
	for _, ad := range ads {
		preview := ad.Message
		if len(preview) > 40 {
			preview = preview[:40] + "..."
		}
		fmt.Fprintf(&b, "%s - every %s - %s\n", ad.ID, ad.Interval, preview)
	}
	return req.Reply(ctx, b.String())
}

func (h *handlers) status(ctx context.Context, req *Request) error {
	s := req.Settings
	var b strings.Builder
	fmt.Fprintf(&b, "Bot: %s\n", onOff(s.Active))
	fmt.Fprintf(&b, "welcome: %s\n", onOff(s.Welcome))
	fmt.Fprintf(&b, "antilink: %s  antilinkgp: %s\n", onOff(s.AntiLink), onOff(s.AntiLinkGroup))
	fmt.Fprintf(&b, "banlinkgp: %s  banextremo: %s\n", onOff(s.BanLinkGroup), onOff(s.BanExtreme))
	fmt.Fprintf(&b, "paytime: %s (every %d min)\n", onOff(s.Paytime), s.PaytimeInterval)

	schedules, err := h.sched.Active(ctx, req.Msg.ChatID)
	if err == nil {
		for _, sc := range schedules {
			switch sc.Type {
			case store.ScheduleOpen:
				fmt.Fprintf(&b, "opens daily at %s\n", sc.AtTime)
			case store.ScheduleClose:
				fmt.Fprintf(&b, "closes daily at %s\n", sc.AtTime)
			}
		}
	}
	if ads, err := h.ads.List(ctx, req.Msg.ChatID); err == nil {
		fmt.Fprintf(&b, "recurring messages: %d\n", len(ads))
	}
	return req.Reply(ctx, b.String())
}
