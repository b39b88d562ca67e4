package guard

import (
	"context"
	"regexp"

	"groupwarden/internal/store"
	"groupwarden/internal/transport"
	"groupwarden/pkg/logx"
)

// Detection reports the link categories found in a message. The two
// detectors are independent: the invite pattern is matched on its own even
// though every invite link is conceptually also "any link".
type Detection struct {
	AnyLink    bool
	InviteLink bool
}

var (
	// Broad "looks like a URL or bare domain" pattern.
	anyLinkRe = regexp.MustCompile(`(?i)(https?://\S+)|(www\.\S+)|([a-z0-9-]+\.[a-z]{2,}\b)`)
	// Group invite links specifically.
	inviteLinkRe = regexp.MustCompile(`(?i)\b(?:t\.me|telegram\.me)/(?:joinchat/|\+)\S+`)
)

// Detect evaluates both link detectors against the message text.
func Detect(text string) Detection {
	return Detection{
		AnyLink:    anyLinkRe.MatchString(text),
		InviteLink: inviteLinkRe.MatchString(text),
	}
}

type Action int

const (
	ActionNone Action = iota
	ActionWarnDelete
	ActionBanDelete
)

func (a Action) String() string {
	switch a {
	case ActionWarnDelete:
		return "warn+delete"
	case ActionBanDelete:
		return "ban+delete"
	default:
		return "none"
	}
}

// Decision is the outcome of one policy evaluation. At most one rule fires
// per message.
type Decision struct {
	Action Action
	Rule   string
	Notice string
}

var decisionNone = Decision{Action: ActionNone}

// rule is one entry of the prioritized policy. Rules are evaluated
// top-to-bottom with first-match-wins, which structurally guarantees a
// single action per message.
type rule struct {
	name    string
	enabled func(store.GroupSettings) bool
	match   func(Detection) bool
	action  Action
	notice  string
}

var policy = []rule{
	{
		name:    "banextremo",
		enabled: func(s store.GroupSettings) bool { return s.BanExtreme },
		match:   func(d Detection) bool { return d.AnyLink },
		action:  ActionBanDelete,
		notice:  "User removed for posting a link.",
	},
	{
		name:    "banlinkgp",
		enabled: func(s store.GroupSettings) bool { return s.BanLinkGroup },
		match:   func(d Detection) bool { return d.InviteLink },
		action:  ActionBanDelete,
		notice:  "User removed for posting a group invite link.",
	},
	{
		name:    "antilink",
		enabled: func(s store.GroupSettings) bool { return s.AntiLink },
		match:   func(d Detection) bool { return d.AnyLink },
		action:  ActionWarnDelete,
		notice:  "Links are not allowed in this group.",
	},
	{
		name:    "antilinkgp",
		enabled: func(s store.GroupSettings) bool { return s.AntiLinkGroup },
		match:   func(d Detection) bool { return d.InviteLink },
		action:  ActionWarnDelete,
		notice:  "Group invite links are not allowed.",
	},
}

// Evaluate applies the ordered policy. Admins bypass moderation entirely;
// the bypass is checked once, before any rule.
func Evaluate(settings store.GroupSettings, det Detection, senderIsAdmin bool) Decision {
	if senderIsAdmin {
		return decisionNone
	}
	for _, r := range policy {
		if r.enabled(settings) && r.match(det) {
			return Decision{Action: r.action, Rule: r.name, Notice: r.notice}
		}
	}
	return decisionNone
}

// anyModerationFlag reports whether the group has any link rule enabled,
// so clean groups skip the admin lookup entirely.
func anyModerationFlag(s store.GroupSettings) bool {
	return s.AntiLink || s.AntiLinkGroup || s.BanLinkGroup || s.BanExtreme
}

// Engine is the stateless per-message moderation evaluator.
type Engine struct {
	tr  transport.Transport
	st  store.Store
	log logx.Logger
}

func New(tr transport.Transport, st store.Store, log logx.Logger) *Engine {
	return &Engine{tr: tr, st: st, log: log}
}

// HandleMessage runs detection + policy for one inbound group message and
// applies the resulting action. It returns the decision for observability;
// transport failures inside enforcement never propagate.
func (e *Engine) HandleMessage(ctx context.Context, msg *transport.Message) Decision {
	settings, err := e.st.GroupSettings(ctx, msg.ChatID)
	if err != nil {
		e.log.Warn("settings lookup failed; skipping moderation",
			logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		return decisionNone
	}
	if !settings.Active || !anyModerationFlag(settings) {
		return decisionNone
	}

	det := Detect(msg.Text)
	if !det.AnyLink && !det.InviteLink {
		return decisionNone
	}

	isAdmin, err := e.tr.IsAdmin(ctx, msg.ChatID, msg.FromID)
	if err != nil {
		// Fail open: an unknown admin status must not get a member banned.
		e.log.Warn("admin lookup failed; treating sender as admin",
			logx.Int64("chat_id", msg.ChatID), logx.Int64("user_id", msg.FromID), logx.Err(err))
		isAdmin = true
	}

	dec := Evaluate(settings, det, isAdmin)
	if dec.Action == ActionNone {
		return dec
	}

	e.enforce(ctx, msg, dec)
	return dec
}

// enforce applies one decision. Delete and remove are best-effort: a failure
// is logged and the flow continues; the rule's notification is attempted
// unconditionally afterward.
func (e *Engine) enforce(ctx context.Context, msg *transport.Message, dec Decision) {
	ref := transport.MessageRef{ChatID: msg.ChatID, MessageID: msg.ID}
	if err := e.tr.DeleteMessage(ctx, ref); err != nil {
		e.log.Warn("delete failed", logx.Int64("chat_id", msg.ChatID),
			logx.Int("message_id", msg.ID), logx.Err(err))
	}

	if dec.Action == ActionBanDelete {
		if err := e.tr.RemoveParticipant(ctx, msg.ChatID, msg.FromID); err != nil {
			e.log.Warn("remove participant failed", logx.Int64("chat_id", msg.ChatID),
				logx.Int64("user_id", msg.FromID), logx.Err(err))
		}
	}

	if _, err := e.tr.SendText(ctx, msg.ChatID, dec.Notice); err != nil {
		e.log.Warn("moderation notice failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}

	e.log.Info("moderation action applied",
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("user_id", msg.FromID),
		logx.String("rule", dec.Rule),
		logx.String("action", dec.Action.String()))
}
