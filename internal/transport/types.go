package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateJoin    UpdateKind = "join"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Join    *JoinEvent
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool

	// ReplyToUserID is the author of the quoted message when this message
	// is a reply, zero otherwise. Moderation commands target it.
	ReplyToUserID   int64
	ReplyToUsername string
}

// JoinEvent reports members added to a group.
type JoinEvent struct {
	ChatID    int64
	GroupName string
	UserIDs   []int64
	Usernames []string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// RestrictionMode controls who may post in a group.
type RestrictionMode string

const (
	// RestrictionOpen lets every member post.
	RestrictionOpen RestrictionMode = "open"
	// RestrictionClosed limits posting to admins.
	RestrictionClosed RestrictionMode = "closed"
)

// Transport is the group-operations contract the automation and moderation
// services consume. Calls may fail independently; callers in automation
// flows treat failures as non-fatal (log and continue).
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
	RemoveParticipant(ctx context.Context, chatID, userID int64) error
	SetGroupRestriction(ctx context.Context, chatID int64, mode RestrictionMode) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Adapter is a Transport bound to a concrete platform connection that also
// produces the inbound update stream.
type Adapter interface {
	Transport

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
