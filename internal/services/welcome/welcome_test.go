package welcome

import (
	"context"
	"sync"
	"testing"

	"groupwarden/internal/store"
	"groupwarden/internal/transport"
	"groupwarden/pkg/logx"
)

func TestRender(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		template string
		user     string
		group    string
		want     string
	}{
		{
			name:     "both placeholders",
			template: "Welcome to @group, @user!",
			user:     "alice",
			group:    "Gophers",
			want:     "Welcome to Gophers, alice!",
		},
		{
			name:     "repeated placeholder",
			template: "@user @user",
			user:     "bob",
			group:    "G",
			want:     "bob bob",
		},
		{
			name:     "no placeholders",
			template: "hello",
			user:     "x",
			group:    "y",
			want:     "hello",
		},
		{
			name:     "empty template",
			template: "",
			want:     "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Render(tt.template, tt.user, tt.group); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeTransport) SendText(ctx context.Context, chatID int64, text string) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: chatID, MessageID: len(f.sent)}, nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	return nil
}

func (f *fakeTransport) RemoveParticipant(ctx context.Context, chatID, userID int64) error {
	return nil
}

func (f *fakeTransport) SetGroupRestriction(ctx context.Context, chatID int64, mode transport.RestrictionMode) error {
	return nil
}

func (f *fakeTransport) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	return false, nil
}

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestHandleJoinGreetsEachUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	if _, err := st.UpdateGroupSettings(ctx, 1, func(s *store.GroupSettings) {
		s.Welcome = true
		s.WelcomeMessage = "hey @user, this is @group"
	}); err != nil {
		t.Fatal(err)
	}
	tr := &fakeTransport{}
	svc := New(st, tr, logx.Nop())

	svc.HandleJoin(ctx, &transport.JoinEvent{
		ChatID:    1,
		GroupName: "Gophers",
		UserIDs:   []int64{10, 11},
		Usernames: []string{"alice", "bob"},
	})

	if len(tr.sent) != 2 {
		t.Fatalf("sent %d greetings, want 2", len(tr.sent))
	}
	if tr.sent[0] != "hey alice, this is Gophers" {
		t.Errorf("first greeting = %q", tr.sent[0])
	}
	if tr.sent[1] != "hey bob, this is Gophers" {
		t.Errorf("second greeting = %q", tr.sent[1])
	}
}

func TestHandleJoinDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	tr := &fakeTransport{}
	svc := New(st, tr, logx.Nop())

	// welcome defaults to off
	svc.HandleJoin(ctx, &transport.JoinEvent{ChatID: 1, GroupName: "G", Usernames: []string{"alice"}})
	if len(tr.sent) != 0 {
		t.Errorf("disabled welcome sent %d messages", len(tr.sent))
	}
}

func TestHandleJoinInactiveGroup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	if _, err := st.UpdateGroupSettings(ctx, 1, func(s *store.GroupSettings) {
		s.Welcome = true
		s.Active = false
	}); err != nil {
		t.Fatal(err)
	}
	tr := &fakeTransport{}
	svc := New(st, tr, logx.Nop())

	svc.HandleJoin(ctx, &transport.JoinEvent{ChatID: 1, GroupName: "G", Usernames: []string{"alice"}})
	if len(tr.sent) != 0 {
		t.Errorf("inactive group sent %d messages", len(tr.sent))
	}
}

func TestHandleJoinEmptyTemplateFallsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)
	if _, err := st.UpdateGroupSettings(ctx, 1, func(s *store.GroupSettings) {
		s.Welcome = true
		s.WelcomeMessage = "   "
	}); err != nil {
		t.Fatal(err)
	}
	tr := &fakeTransport{}
	svc := New(st, tr, logx.Nop())

	svc.HandleJoin(ctx, &transport.JoinEvent{ChatID: 1, GroupName: "Gophers", Usernames: []string{"alice"}})
	if len(tr.sent) != 1 {
		t.Fatalf("sent %d greetings, want 1", len(tr.sent))
	}
	want := Render(store.DefaultWelcomeMessage, "alice", "Gophers")
	if tr.sent[0] != want {
		t.Errorf("greeting = %q, want %q", tr.sent[0], want)
	}
}
