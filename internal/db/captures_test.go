package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/ragol/internal/events"
	"github.com/energizer-project/ragol/internal/msg"
)

func openStore(t *testing.T, bodies bool) *CaptureStore {
	t.Helper()
	s, err := NewCaptureStore(filepath.Join(t.TempDir(), "captures.db"), bodies)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndRecent(t *testing.T) {
	s := openStore(t, true)
	ctx := context.Background()

	redirect := msg.Redirect4{IP: [4]byte{10, 0, 0, 1}, Port: 9000}
	captures := []Capture{
		{Session: "a", Direction: events.ServerToClient, Variant: "b", Code: msg.PktLoginWelcome, Name: "login_welcome", Size: 268},
		{Session: "a", Direction: events.ServerToClient, Variant: "b", Code: msg.PktRedirect, Name: "redirect4", Size: 12,
			Body: []byte{10, 0, 0, 1, 0x28, 0x23, 0, 0}, Summary: msg.Describe(redirect)},
		{Session: "b", Direction: events.ClientToServer, Variant: "b", Code: 0x93, Flags: 4, Name: "unknown", Size: 8},
	}
	for _, c := range captures {
		if _, err := s.Insert(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, 10, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d captures", len(got))
	}
	if got[0].Code != 0x93 || got[0].Flags != 4 || got[0].Direction != events.ClientToServer {
		t.Fatalf("newest %+v", got[0])
	}
	if got[1].Summary.Fields["target"] != "10.0.0.1:9000" || len(got[1].Body) != 8 {
		t.Fatalf("redirect %+v", got[1])
	}

	got, err = s.Recent(ctx, 10, Filter{Session: "a"})
	if err != nil || len(got) != 2 {
		t.Fatalf("session filter: %d, %v", len(got), err)
	}

	code := msg.PktRedirect
	got, err = s.Recent(ctx, 10, Filter{Code: &code})
	if err != nil || len(got) != 1 || got[0].Name != "redirect4" {
		t.Fatalf("code filter: %+v, %v", got, err)
	}

	got, err = s.Recent(ctx, 1, Filter{})
	if err != nil || len(got) != 1 {
		t.Fatalf("limit: %d, %v", len(got), err)
	}
}

func TestStoreWithoutBodies(t *testing.T) {
	s := openStore(t, false)
	ctx := context.Background()
	if _, err := s.Insert(ctx, Capture{Session: "a", Code: 1, Name: "unknown", Body: []byte{1, 2, 3, 4}}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Recent(ctx, 1, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got[0].Body) != 0 {
		t.Fatalf("body stored: % x", got[0].Body)
	}
}

func TestCountByCode(t *testing.T) {
	s := openStore(t, false)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.Insert(ctx, Capture{Session: "a", Code: msg.PktDisconnect, Name: "disconnect", Size: 4})
	}
	s.Insert(ctx, Capture{Session: "a", Code: msg.PktHlCheck, Name: "hl_check", Size: 224})

	counts, err := s.CountByCode(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("got %+v", counts)
	}
	if counts[0].Code != msg.PktDisconnect || counts[0].Count != 3 || counts[0].Bytes != 12 {
		t.Fatalf("first %+v", counts[0])
	}
	if counts[1].Name != "hl_check" || counts[1].Bytes != 224 {
		t.Fatalf("second %+v", counts[1])
	}
}

func TestPrune(t *testing.T) {
	s := openStore(t, false)
	ctx := context.Background()
	now := time.Now()
	s.Insert(ctx, Capture{Session: "old", Name: "unknown", CapturedAt: now.Add(-48 * time.Hour)})
	s.Insert(ctx, Capture{Session: "new", Name: "unknown", CapturedAt: now})

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("pruned %d: %v", n, err)
	}
	got, _ := s.Recent(ctx, 10, Filter{})
	if len(got) != 1 || got[0].Session != "new" {
		t.Fatalf("left %+v", got)
	}
}

func TestSubscribeStoresFrames(t *testing.T) {
	s := openStore(t, true)
	bus := events.NewBus()
	s.Subscribe(bus)

	err := bus.EmitSync(context.Background(), events.Event{
		Type:    events.FrameCaptured,
		Session: "s1",
		Time:    time.Now(),
		Payload: events.FramePayload{
			Direction: events.ClientToServer,
			Variant:   "b",
			Code:      msg.PktDisconnect,
			Size:      4,
			Summary:   msg.Describe(msg.Type05Disconnect{}),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(context.Background(), 10, Filter{Session: "s1"})
	if err != nil || len(got) != 1 || got[0].Name != "disconnect" {
		t.Fatalf("got %+v, %v", got, err)
	}
}
