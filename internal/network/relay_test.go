package network

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/events"
	"github.com/energizer-project/ragol/internal/msg"
	"github.com/energizer-project/ragol/internal/msg/legacy"
)

// startUpstream accepts one connection and hands it to serve.
func startUpstream(t *testing.T, serve func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}()
	return ln.Addr().String()
}

func startRelay(t *testing.T, variant, upstream string, bus *events.Bus) *Relay {
	t.Helper()
	relay, err := NewRelay(RelayConfig{
		Listen:      "127.0.0.1:0",
		Upstream:    upstream,
		Variant:     variant,
		ReadTimeout: 5 * time.Second,
		DialTimeout: time.Second,
		MaxSessions: 4,
	}, bus)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := relay.Listen(ctx); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- relay.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("relay did not stop")
		}
	})
	return relay
}

func collect(bus *events.Bus, types ...events.Type) <-chan events.Event {
	ch := make(chan events.Event, 64)
	for _, typ := range types {
		bus.Subscribe(typ, "test", func(_ context.Context, e events.Event) error {
			ch <- e
			return nil
		})
	}
	return ch
}

func waitFor(t *testing.T, ch <-chan events.Event, typ events.Type) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestRelayForwardsFrames(t *testing.T) {
	welcome := msg.LoginWelcome{Welcome: msg.Welcome{
		Copyright:    msg.LoginCopyright,
		ServerVector: 0x11223344,
		ClientVector: 0x55667788,
	}}
	unknown := []byte{0x93, 0x00, 0x0C, 0x00, 1, 2, 3, 4, 5, 6, 7, 8}

	received := make(chan []byte, 1)
	upstream := startUpstream(t, func(conn net.Conn) {
		if err := msg.Serialize(conn, welcome); err != nil {
			t.Errorf("upstream write: %v", err)
			return
		}
		buf := make([]byte, len(unknown))
		if _, err := io.ReadFull(conn, buf); err != nil {
			t.Errorf("upstream read: %v", err)
			return
		}
		received <- buf
	})

	bus := events.NewBus()
	ch := collect(bus, events.SessionOpened, events.FrameCaptured, events.SessionClosed)
	relay := startRelay(t, config.VariantB, upstream, bus)

	client, err := net.Dial("tcp", relay.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	got, err := msg.Deserialize(client)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if got != welcome {
		t.Fatalf("got %#v", got)
	}

	if _, err := client.Write(unknown); err != nil {
		t.Fatal(err)
	}
	select {
	case buf := <-received:
		if !bytes.Equal(buf, unknown) {
			t.Fatalf("upstream got % x", buf)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upstream received nothing")
	}

	opened := waitFor(t, ch, events.SessionOpened)
	if opened.Session == "" {
		t.Fatal("session id missing")
	}

	seen := map[events.Direction]events.FramePayload{}
	for len(seen) < 2 {
		e := waitFor(t, ch, events.FrameCaptured)
		p := e.Payload.(events.FramePayload)
		seen[p.Direction] = p
	}
	if p := seen[events.ServerToClient]; p.Summary.Name != "login_welcome" || p.Code != msg.PktLoginWelcome {
		t.Fatalf("s2c %+v", p.Summary)
	}
	if p := seen[events.ClientToServer]; p.Summary.Name != "unknown" || p.Size != len(unknown) {
		t.Fatalf("c2s %+v", p)
	}

	client.Close()
	closed := waitFor(t, ch, events.SessionClosed)
	if closed.Session != opened.Session {
		t.Fatalf("closed %s, opened %s", closed.Session, opened.Session)
	}
	if p := closed.Payload.(events.SessionPayload); p.Err != "" || p.Frames != 2 {
		t.Fatalf("closed payload %+v", p)
	}
}

func TestRelayClosesOnDecodeFailure(t *testing.T) {
	upstream := startUpstream(t, func(conn net.Conn) {
		// A redirect whose body is too short for its layout.
		conn.Write([]byte{msg.PktRedirect, 0x00, 0x08, 0x00, 1, 2, 3, 4})
		io.Copy(io.Discard, conn)
	})

	bus := events.NewBus()
	ch := collect(bus, events.DecodeFailed, events.SessionClosed)
	relay := startRelay(t, config.VariantB, upstream, bus)

	client, err := net.Dial("tcp", relay.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if n, err := client.Read(make([]byte, 16)); err == nil {
		t.Fatalf("client read %d bytes of a malformed frame", n)
	}

	e := waitFor(t, ch, events.DecodeFailed)
	if p := e.Payload.(events.DecodeFailedPayload); p.Code != msg.PktRedirect || p.Direction != events.ServerToClient {
		t.Fatalf("payload %+v", p)
	}
	closed := waitFor(t, ch, events.SessionClosed)
	if closed.Payload.(events.SessionPayload).Err == "" {
		t.Fatal("session closed without error")
	}
}

func TestRelayLegacyVariant(t *testing.T) {
	frame := legacy.Msg{Code: 0x0E, Flags: 0x01, Body: []byte{9, 8, 7, 6, 5}}
	upstream := startUpstream(t, func(conn net.Conn) {
		legacy.Serialize(conn, frame)
		io.Copy(io.Discard, conn)
	})

	bus := events.NewBus()
	ch := collect(bus, events.FrameCaptured)
	relay := startRelay(t, config.VariantA, upstream, bus)

	client, err := net.Dial("tcp", relay.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	got, err := legacy.Deserialize(client, legacy.Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != frame.Code || got.Flags != frame.Flags || !bytes.Equal(got.Body, []byte{9, 8, 7, 6, 5, 0, 0, 0}) {
		t.Fatalf("got %+v", got)
	}

	e := waitFor(t, ch, events.FrameCaptured)
	if p := e.Payload.(events.FramePayload); p.Variant != config.VariantA || p.Size != 12 {
		t.Fatalf("payload %+v", p)
	}
}

func TestRelayTracksSessions(t *testing.T) {
	hold := make(chan struct{})
	upstream := startUpstream(t, func(conn net.Conn) { <-hold })
	defer close(hold)

	bus := events.NewBus()
	ch := collect(bus, events.SessionOpened)
	relay := startRelay(t, config.VariantB, upstream, bus)

	client, err := net.Dial("tcp", relay.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	opened := waitFor(t, ch, events.SessionOpened)
	list := relay.Sessions().List()
	if len(list) != 1 || list[0].ID != opened.Session || list[0].Variant != config.VariantB {
		t.Fatalf("sessions %+v", list)
	}
	if _, ok := relay.Sessions().Get(opened.Session); !ok {
		t.Fatal("session not found")
	}
}

func TestNewRelayRejectsBadConfig(t *testing.T) {
	if _, err := NewRelay(RelayConfig{Upstream: "127.0.0.1:1", Variant: "z"}, nil); err == nil {
		t.Fatal("accepted unknown variant")
	}
	if _, err := NewRelay(RelayConfig{Variant: config.VariantB}, nil); err == nil {
		t.Fatal("accepted empty upstream")
	}
}

func TestRelayForwardsDeclaredSizeUnchanged(t *testing.T) {
	cases := []struct {
		variant string
		raw     []byte
	}{
		// Declared size 6 is read as a 4 byte body.
		{config.VariantB, []byte{0x99, 0x01, 0x06, 0x00, 0xAA, 0xBB, 0x00, 0x00}},
		// Legacy length 5 is not a multiple of 4.
		{config.VariantA, []byte{0x0E, 0x01, 0x00, 0x05, 1, 2, 3, 4, 5}},
	}

	for _, c := range cases {
		t.Run(c.variant, func(t *testing.T) {
			received := make(chan []byte, 1)
			upstream := startUpstream(t, func(conn net.Conn) {
				buf := make([]byte, len(c.raw))
				if _, err := io.ReadFull(conn, buf); err != nil {
					t.Errorf("upstream read: %v", err)
					return
				}
				received <- buf
				io.Copy(io.Discard, conn)
			})

			bus := events.NewBus()
			ch := collect(bus, events.FrameCaptured)
			relay := startRelay(t, c.variant, upstream, bus)

			client, err := net.Dial("tcp", relay.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer client.Close()

			if _, err := client.Write(c.raw); err != nil {
				t.Fatal(err)
			}
			select {
			case buf := <-received:
				if !bytes.Equal(buf, c.raw) {
					t.Fatalf("upstream got % x, want % x", buf, c.raw)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("upstream received nothing")
			}

			e := waitFor(t, ch, events.FrameCaptured)
			if p := e.Payload.(events.FramePayload); p.Size != len(c.raw) {
				t.Fatalf("captured size %d, want %d", p.Size, len(c.raw))
			}
		})
	}
}
