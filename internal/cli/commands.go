// Package cli prints frames, captures and sessions as tables, and runs the
// interactive console attached to a running relay.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/ragol/internal/db"
	"github.com/energizer-project/ragol/internal/network"
)

// SessionSource lists live relay sessions.
type SessionSource interface {
	List() []network.SessionInfo
}

// CaptureSource reads stored frames.
type CaptureSource interface {
	Recent(ctx context.Context, limit int, f db.Filter) ([]db.Capture, error)
	CountByCode(ctx context.Context) ([]db.CodeCount, error)
}

// DecodeFile decodes every frame in the file at path and prints them. Frames
// read before a truncated tail are still printed; the truncation is returned.
func DecodeFile(w io.Writer, path string, framer network.Framer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	frames, err := network.DecodeStream(bufio.NewReader(f), framer)
	PrintFrames(w, frames)
	return err
}

// PrintFrames renders decoded frames as a table.
func PrintFrames(w io.Writer, frames []network.DecodedFrame) {
	tw := newTable(w, "Offset", "Code", "Flags", "Name", "Size", "Fields")
	var total int
	for _, f := range frames {
		fields := formatFields(f.Summary.Fields)
		if f.Error != "" {
			fields = "error: " + f.Error
		}
		tw.Append([]string{
			fmt.Sprintf("0x%06X", f.Offset),
			fmt.Sprintf("0x%02X", f.Code),
			fmt.Sprintf("0x%02X", f.Flags),
			f.Summary.Name,
			humanize.Bytes(uint64(f.Size)),
			fields,
		})
		total += f.Size
	}
	tw.SetFooter([]string{"", "", "", fmt.Sprintf("%d frames", len(frames)), humanize.Bytes(uint64(total)), ""})
	tw.Render()
}

// PrintCaptures renders stored frames, newest first.
func PrintCaptures(w io.Writer, captures []db.Capture) {
	tw := newTable(w, "ID", "Captured", "Session", "Dir", "Code", "Name", "Size", "Fields")
	for _, c := range captures {
		tw.Append([]string{
			strconv.FormatInt(c.ID, 10),
			humanize.Time(c.CapturedAt),
			shortID(c.Session),
			string(c.Direction),
			fmt.Sprintf("0x%02X/%d", c.Code, c.Flags),
			c.Name,
			humanize.Bytes(uint64(c.Size)),
			formatFields(c.Summary.Fields),
		})
	}
	tw.Render()
}

// PrintStats renders per-opcode capture totals.
func PrintStats(w io.Writer, counts []db.CodeCount) {
	tw := newTable(w, "Code", "Name", "Frames", "Bytes")
	for _, c := range counts {
		tw.Append([]string{
			fmt.Sprintf("0x%02X", c.Code),
			c.Name,
			humanize.Comma(c.Count),
			humanize.Bytes(uint64(c.Bytes)),
		})
	}
	tw.Render()
}

// PrintSessions renders live relay sessions.
func PrintSessions(w io.Writer, sessions []network.SessionInfo) {
	tw := newTable(w, "Session", "Client", "Upstream", "Variant", "Started", "Frames", "Bytes")
	for _, s := range sessions {
		tw.Append([]string{
			shortID(s.ID),
			s.Client,
			s.Upstream,
			s.Variant,
			humanize.Time(s.StartedAt),
			humanize.Comma(s.Frames),
			humanize.Bytes(uint64(s.Bytes)),
		})
	}
	tw.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// formatFields renders summary fields as sorted key=value pairs.
func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Console is the interactive command loop attached to a running relay.
type Console struct {
	sessions SessionSource
	captures CaptureSource
	framer   network.Framer
	out      io.Writer
	shutdown func()
}

// NewConsole creates a console. captures may be nil when the store is
// disabled; shutdown is called by the quit command.
func NewConsole(sessions SessionSource, captures CaptureSource, framer network.Framer, out io.Writer, shutdown func()) *Console {
	return &Console{
		sessions: sessions,
		captures: captures,
		framer:   framer,
		out:      out,
		shutdown: shutdown,
	}
}

// Start reads commands from in until it is exhausted or ctx is cancelled.
func (c *Console) Start(ctx context.Context, in io.Reader) {
	fmt.Fprintln(c.out, "\nragol console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "ragol> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

func (c *Console) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "sessions", "status", "s":
		PrintSessions(c.out, c.sessions.List())
	case "captures", "c":
		return c.cmdCaptures(ctx, args)
	case "stats":
		return c.cmdStats(ctx)
	case "decode", "d":
		return c.cmdDecode(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down ragol...")
		if c.shutdown != nil {
			c.shutdown()
		}
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
  sessions           List live relay sessions
  captures [n]       Show the n most recent captured frames (default 20)
  stats              Show captured frame totals per opcode
  decode <hex>       Decode a hex frame stream
  quit               Stop the relay
  help               Show this help message`)
}

func (c *Console) cmdCaptures(ctx context.Context, args []string) error {
	if c.captures == nil {
		return fmt.Errorf("capture store is disabled")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	captures, err := c.captures.Recent(ctx, limit, db.Filter{})
	if err != nil {
		return err
	}
	PrintCaptures(c.out, captures)
	return nil
}

func (c *Console) cmdStats(ctx context.Context) error {
	if c.captures == nil {
		return fmt.Errorf("capture store is disabled")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	counts, err := c.captures.CountByCode(ctx)
	if err != nil {
		return err
	}
	PrintStats(c.out, counts)
	return nil
}

func (c *Console) cmdDecode(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: decode <hex>")
	}
	raw, err := hex.DecodeString(strings.Join(args, ""))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	frames, err := network.DecodeStream(bytes.NewReader(raw), c.framer)
	PrintFrames(c.out, frames)
	return err
}

