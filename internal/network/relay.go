package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/events"
)

// DefaultMaxConnPerSec bounds new client connections per source IP.
const DefaultMaxConnPerSec = 10

// errPeerClosed ends a session when either side hangs up cleanly.
var errPeerClosed = errors.New("peer closed connection")

// RelayConfig holds the settings of one relay listener.
type RelayConfig struct {
	Listen        string
	Upstream      string
	Variant       string
	MaxFrameBody  int
	ReadTimeout   time.Duration
	DialTimeout   time.Duration
	MaxSessions   int
	MaxConnPerSec int
}

// RelayConfigFrom maps the relay section of the configuration file.
func RelayConfigFrom(c config.RelayConfig) RelayConfig {
	return RelayConfig{
		Listen:        c.Listen,
		Upstream:      c.Upstream,
		Variant:       c.Variant,
		MaxFrameBody:  c.MaxFrameBody,
		ReadTimeout:   c.ReadTimeout(),
		DialTimeout:   c.DialTimeout(),
		MaxSessions:   c.MaxSessions,
		MaxConnPerSec: DefaultMaxConnPerSec,
	}
}

// Relay accepts game clients, dials the upstream server for each of them and
// forwards whole frames in both directions. Every frame is described and
// published on the bus; frames are forwarded as read, never re-encoded from
// their decoded form.
type Relay struct {
	cfg      RelayConfig
	framer   Framer
	bus      *events.Bus
	sessions *SessionRegistry
	limiter  *rateTracker
	logger   zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewRelay validates cfg and builds a Relay publishing to bus.
func NewRelay(cfg RelayConfig, bus *events.Bus) (*Relay, error) {
	framer, err := NewFramer(cfg.Variant, cfg.MaxFrameBody)
	if err != nil {
		return nil, err
	}
	if cfg.Upstream == "" {
		return nil, fmt.Errorf("relay upstream address is required")
	}
	return &Relay{
		cfg:      cfg,
		framer:   framer,
		bus:      bus,
		sessions: NewSessionRegistry(),
		limiter:  newRateTracker(cfg.MaxConnPerSec),
		logger: log.With().
			Str("component", "relay").
			Str("variant", framer.Variant()).
			Logger(),
	}, nil
}

// Sessions returns the live session registry.
func (r *Relay) Sessions() *SessionRegistry {
	return r.sessions
}

// Framer returns the wire format the relay speaks.
func (r *Relay) Framer() Framer {
	return r.framer
}

// Listen binds the listen address. It is separate from Serve so callers can
// learn the bound address before accepting.
func (r *Relay) Listen(ctx context.Context) error {
	lc := listenConfig()
	ln, err := lc.Listen(ctx, "tcp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to start relay listener on %s: %w", r.cfg.Listen, err)
	}

	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	r.logger.Info().
		Str("listen", ln.Addr().String()).
		Str("upstream", r.cfg.Upstream).
		Msg("relay listening")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Run listens and serves until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Listen(ctx); err != nil {
		return err
	}
	return r.Serve(ctx)
}

// Serve accepts clients until ctx is cancelled, then closes every session
// and waits for them to finish.
func (r *Relay) Serve(ctx context.Context) error {
	r.mu.Lock()
	ln := r.listener
	r.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("relay is not listening")
	}

	r.emit(ctx, events.Event{Type: events.RelayStarted, Payload: events.RelayPayload{
		Listen:   ln.Addr().String(),
		Upstream: r.cfg.Upstream,
		Variant:  r.framer.Variant(),
	}})

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer func() {
		r.sessions.CloseAll()
		r.wg.Wait()
		r.emit(ctx, events.Event{Type: events.RelayStopped, Payload: events.RelayPayload{
			Listen:   ln.Addr().String(),
			Upstream: r.cfg.Upstream,
			Variant:  r.framer.Variant(),
		}})
		r.logger.Info().Msg("relay stopped")
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		src := extractIP(conn.RemoteAddr())
		if !r.limiter.allow(src) {
			r.logger.Warn().Str("src", src).Msg("connection rate limit exceeded, dropping")
			conn.Close()
			continue
		}
		if r.cfg.MaxSessions > 0 && r.sessions.Count() >= r.cfg.MaxSessions {
			r.logger.Warn().Str("src", src).Int("sessions", r.sessions.Count()).Msg("session limit reached, dropping")
			conn.Close()
			continue
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handle(ctx, conn)
		}()
	}
}

func (r *Relay) handle(ctx context.Context, clientConn net.Conn) {
	dialer := net.Dialer{Timeout: r.cfg.DialTimeout}
	upstreamConn, err := dialer.DialContext(ctx, "tcp", r.cfg.Upstream)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("client", clientConn.RemoteAddr().String()).
			Msg("failed to dial upstream")
		clientConn.Close()
		return
	}

	s := newSession(NewFrameConn(clientConn, r.framer), NewFrameConn(upstreamConn, r.framer))
	r.sessions.Register(s)
	defer r.sessions.Unregister(s.ID)

	logger := r.logger.With().Str("session", s.ID).Logger()
	logger.Info().
		Str("client", clientConn.RemoteAddr().String()).
		Str("upstream", upstreamConn.RemoteAddr().String()).
		Msg("session opened")
	r.emit(ctx, events.Event{Type: events.SessionOpened, Session: s.ID, Payload: events.SessionPayload{
		Client:   clientConn.RemoteAddr().String(),
		Upstream: upstreamConn.RemoteAddr().String(),
		Variant:  r.framer.Variant(),
	}})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.pump(gctx, s, s.Client, s.Upstream, events.ClientToServer) })
	g.Go(func() error { return r.pump(gctx, s, s.Upstream, s.Client, events.ServerToClient) })
	go func() {
		<-gctx.Done()
		s.Close()
	}()

	err = g.Wait()
	s.Close()

	frames, bytes := s.Client.Stats()
	payload := events.SessionPayload{
		Client:   clientConn.RemoteAddr().String(),
		Upstream: upstreamConn.RemoteAddr().String(),
		Variant:  r.framer.Variant(),
		Frames:   int(frames),
		Bytes:    bytes,
	}
	if err != nil && !errors.Is(err, errPeerClosed) {
		payload.Err = err.Error()
		logger.Warn().Err(err).Int64("frames", frames).Msg("session closed with error")
	} else {
		logger.Info().Int64("frames", frames).Msg("session closed")
	}
	r.emit(ctx, events.Event{Type: events.SessionClosed, Session: s.ID, Payload: payload})
}

// pump forwards frames from src to dst until either side fails.
func (r *Relay) pump(ctx context.Context, s *Session, src, dst *FrameConn, dir events.Direction) error {
	for {
		f, err := src.ReadFrame(r.cfg.ReadTimeout)
		if err != nil {
			if ctx.Err() != nil || src.IsClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return errPeerClosed
			}
			return fmt.Errorf("%s read: %w", dir, err)
		}

		summary, err := r.framer.Describe(f)
		if err != nil {
			r.emit(ctx, events.Event{Type: events.DecodeFailed, Session: s.ID, Payload: events.DecodeFailedPayload{
				Direction: dir,
				Code:      f.Code,
				Err:       err.Error(),
			}})
			return fmt.Errorf("%s decode: %w", dir, err)
		}

		if err := dst.WriteFrame(f); err != nil {
			if dst.IsClosed() {
				return errPeerClosed
			}
			return fmt.Errorf("%s write: %w", dir, err)
		}

		r.emit(ctx, events.Event{Type: events.FrameCaptured, Session: s.ID, Payload: events.FramePayload{
			Direction: dir,
			Variant:   r.framer.Variant(),
			Code:      f.Code,
			Flags:     f.Flags,
			Size:      r.framer.WireSize(f),
			Body:      f.Body,
			Summary:   summary,
		}})
	}
}

// emit publishes e. Handlers outlive the session that produced the event, so
// they get a context that is not cancelled with it.
func (r *Relay) emit(ctx context.Context, e events.Event) {
	if r.bus == nil {
		return
	}
	e.Time = time.Now().UTC()
	r.bus.Emit(context.WithoutCancel(ctx), e)
}
