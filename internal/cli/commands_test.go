package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/db"
	"github.com/energizer-project/ragol/internal/msg"
	"github.com/energizer-project/ragol/internal/network"
)

type stubSessions []network.SessionInfo

func (s stubSessions) List() []network.SessionInfo { return s }

type stubCaptures struct {
	captures []db.Capture
	counts   []db.CodeCount
}

func (s stubCaptures) Recent(_ context.Context, limit int, _ db.Filter) ([]db.Capture, error) {
	if limit < len(s.captures) {
		return s.captures[:limit], nil
	}
	return s.captures, nil
}

func (s stubCaptures) CountByCode(context.Context) ([]db.CodeCount, error) {
	return s.counts, nil
}

func framerB(t *testing.T) network.Framer {
	t.Helper()
	f, err := network.NewFramer(config.VariantB, 0)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestDecodeFile(t *testing.T) {
	var buf bytes.Buffer
	msg.Serialize(&buf, msg.Redirect4{IP: [4]byte{10, 1, 2, 3}, Port: 9100})
	msg.Serialize(&buf, msg.Type05Disconnect{})

	path := filepath.Join(t.TempDir(), "capture.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := DecodeFile(&out, path, framerB(t)); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{"redirect4", "target=10.1.2.3:9100", "disconnect", "2 FRAMES"} {
		if !strings.Contains(strings.ToUpper(text), strings.ToUpper(want)) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestDecodeFileTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	os.WriteFile(path, []byte{0x05, 0x00, 0x04, 0x00, 0x19, 0x00}, 0644)

	var out bytes.Buffer
	err := DecodeFile(&out, path, framerB(t))
	if err == nil {
		t.Fatal("truncated file decoded without error")
	}
	if !strings.Contains(out.String(), "disconnect") {
		t.Fatalf("leading frame not printed:\n%s", out.String())
	}

	if err := DecodeFile(&out, filepath.Join(t.TempDir(), "missing"), framerB(t)); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestFormatFields(t *testing.T) {
	got := formatFields(map[string]any{"b": 2, "a": "x"})
	if got != "a=x b=2" {
		t.Fatalf("got %q", got)
	}
	if formatFields(nil) != "" {
		t.Fatal("nil fields rendered")
	}
}

func TestConsoleCommands(t *testing.T) {
	var out bytes.Buffer
	stopped := false
	c := NewConsole(
		stubSessions{{ID: "0123456789abcdef", Client: "1.2.3.4:5", Variant: "b", StartedAt: time.Now()}},
		stubCaptures{
			captures: []db.Capture{{ID: 7, Session: "s1", Direction: "c2s", Code: 0x19, Name: "redirect4", Size: 12, CapturedAt: time.Now()}},
			counts:   []db.CodeCount{{Code: 0x19, Name: "redirect4", Count: 1234, Bytes: 2048}},
		},
		framerB(t), &out, func() { stopped = true },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := strings.NewReader("help\nsessions\ncaptures 5\nstats\ndecode 05000400\nbogus\nquit\n")
	c.Start(ctx, in)

	text := out.String()
	for _, want := range []string{"01234567", "REDIRECT4", "1,234", "disconnect", "Unknown command: 'bogus'"} {
		if !strings.Contains(strings.ToUpper(text), strings.ToUpper(want)) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if !stopped {
		t.Fatal("quit did not call shutdown")
	}
}

func TestConsoleErrors(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(stubSessions{}, nil, framerB(t), &out, nil)
	ctx := context.Background()

	if err := c.execute(ctx, "captures", nil); err == nil {
		t.Fatal("captures without store succeeded")
	}
	if err := c.execute(ctx, "decode", []string{"xyz"}); err == nil {
		t.Fatal("bad hex accepted")
	}
	if err := c.execute(ctx, "decode", nil); err == nil {
		t.Fatal("decode without argument accepted")
	}
}
