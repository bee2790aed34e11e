package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// fakeSender records delivered frames and can simulate a broken pipe.
type fakeSender struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeSender) ID() string { return f.id }

func (f *fakeSender) Send(payload []byte) error {
	if f.fail {
		return errors.New("pipe broken")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, payload)
	return nil
}

func (f *fakeSender) events(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []string
	for _, raw := range f.frames {
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("decode delivered frame: %v", err)
		}
		events = append(events, frame.Event)
	}
	return events
}

func TestRegistry_JoinAndBroadcast(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeSender{id: "conn-a"}
	b := &fakeSender{id: "conn-b"}
	c := &fakeSender{id: "conn-c"}

	for _, s := range []*fakeSender{a, b, c} {
		r.Attach(s)
	}
	if err := r.Join(a, "room-1", "user-a", "user"); err != nil {
		t.Fatalf("Join(a): %v", err)
	}
	if err := r.Join(b, "room-1", "user-b", "viewer"); err != nil {
		t.Fatalf("Join(b): %v", err)
	}
	if err := r.Join(c, "room-2", "user-c", "user"); err != nil {
		t.Fatalf("Join(c): %v", err)
	}

	delivered := r.Broadcast("room-1", []byte(`{"event":"x"}`), "conn-a")
	if delivered != 1 {
		t.Errorf("Broadcast delivered %d, want 1 (sender excluded)", delivered)
	}
	if len(a.frames) != 0 {
		t.Errorf("excluded sender received %d frames", len(a.frames))
	}
	if len(b.frames) != 1 {
		t.Errorf("member b received %d frames, want 1", len(b.frames))
	}
	if len(c.frames) != 0 {
		t.Errorf("other room received %d frames, want 0", len(c.frames))
	}
}

func TestRegistry_JoinEmptyRoomID(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Join(&fakeSender{id: "conn-a"}, "", "user-a", "user"); !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("Join: got %v, want ErrInvalidRoom", err)
	}
}

func TestRegistry_RejoinIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeSender{id: "conn-a"}
	r.Attach(a)

	for i := 0; i < 3; i++ {
		if err := r.Join(a, "room-1", "user-a", "user"); err != nil {
			t.Fatalf("Join #%d: %v", i, err)
		}
	}
	if got := r.MemberCount("room-1"); got != 1 {
		t.Errorf("MemberCount: got %d, want 1 after rejoin", got)
	}
}

func TestRegistry_LeaveUnjoinedRoomIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeSender{id: "conn-a"}
	r.Attach(a)

	if _, ok := r.Leave(a, "room-1"); ok {
		t.Error("Leave of never-joined room reported a membership")
	}
}

func TestRegistry_DisconnectLeavesEverything(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeSender{id: "conn-a"}
	b := &fakeSender{id: "conn-b"}
	r.Attach(a)
	r.Attach(b)
	r.Join(a, "room-1", "user-a", "user")
	r.Join(a, "room-2", "user-a", "user")
	r.Join(b, "room-1", "user-b", "user")

	departed := r.Disconnect(a)
	if len(departed) != 2 {
		t.Fatalf("Disconnect returned %d memberships, want 2", len(departed))
	}
	for _, m := range departed {
		if m.UserID != "user-a" {
			t.Errorf("departed membership has user %q", m.UserID)
		}
	}
	if got := r.MemberCount("room-1"); got != 1 {
		t.Errorf("room-1 members after disconnect: got %d, want 1", got)
	}
	if got := r.MemberCount("room-2"); got != 0 {
		t.Errorf("room-2 members after disconnect: got %d, want 0", got)
	}
	if got := r.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount: got %d, want 1", got)
	}
}

func TestRegistry_BroadcastSkipsFailingRecipients(t *testing.T) {
	r := NewRegistry(nil)
	ok1 := &fakeSender{id: "conn-1"}
	bad := &fakeSender{id: "conn-2", fail: true}
	ok2 := &fakeSender{id: "conn-3"}
	for _, s := range []*fakeSender{ok1, bad, ok2} {
		r.Attach(s)
		r.Join(s, "room-1", s.id, "user")
	}

	delivered := r.Broadcast("room-1", []byte("{}"), "")
	if delivered != 2 {
		t.Errorf("Broadcast delivered %d, want 2 (one recipient failing)", delivered)
	}
	// The failing recipient must not evict the others.
	if got := r.MemberCount("room-1"); got != 3 {
		t.Errorf("MemberCount after failed delivery: got %d, want 3", got)
	}
}

func TestRegistry_Emit(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeSender{id: "conn-a"}
	r.Attach(a)
	r.Join(a, "room-1", "user-a", "user")

	if delivered := r.Emit("room-1", EventUserJoined, PresencePayload{UserID: "user-b"}, ""); delivered != 1 {
		t.Fatalf("Emit delivered %d, want 1", delivered)
	}

	var frame Frame
	if err := json.Unmarshal(a.frames[0], &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Event != EventUserJoined {
		t.Errorf("event: got %q, want %q", frame.Event, EventUserJoined)
	}
	var p PresencePayload
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.UserID != "user-b" {
		t.Errorf("payload user: got %q", p.UserID)
	}
}

func TestRegistry_ConcurrentJoinsAndBroadcasts(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &fakeSender{id: fmt.Sprintf("conn-%d", i)}
			r.Attach(s)
			r.Join(s, "room-1", fmt.Sprintf("user-%d", i), "user")
			r.Broadcast("room-1", []byte("{}"), "")
			if i%2 == 0 {
				r.Disconnect(s)
			}
		}(i)
	}
	wg.Wait()

	if got := r.MemberCount("room-1"); got != 8 {
		t.Errorf("MemberCount: got %d, want 8", got)
	}
}
