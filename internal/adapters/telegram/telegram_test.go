package telegram

import (
	"sync"
	"sync/atomic"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestStopBotRunsPollerStopOnce(t *testing.T) {
	t.Parallel()

	var calls int32
	a := &Adapter{stopPoller: func() { atomic.AddInt32(&calls, 1) }}

	// Shutdown has two racing stop paths: the context watcher and Stop
	// itself. Neither may reach the poller a second time.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.stopBot()
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("poller stopped %d times, want 1", n)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		user *tele.User
		want string
	}{
		{name: "nil", user: nil, want: ""},
		{name: "username", user: &tele.User{ID: 7, Username: "ana", FirstName: "Ana"}, want: "@ana"},
		{name: "full name", user: &tele.User{ID: 7, FirstName: "Ana", LastName: "Lima"}, want: "Ana Lima"},
		{name: "first only", user: &tele.User{ID: 7, FirstName: "Ana"}, want: "Ana"},
		{name: "id fallback", user: &tele.User{ID: 7}, want: "7"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := displayName(tt.user); got != tt.want {
				t.Errorf("displayName = %q, want %q", got, tt.want)
			}
		})
	}
}
