// Package device drives the plotter over a newline-delimited serial link.
//
// Every command line is acknowledged by the firmware with "OK <checksum>",
// where the checksum is the XOR of the line's bytes. Between commands the
// firmware prints readiness chatter ("ready", "ok", "start ...") which the
// host uses as flow control.
package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"hydrawlics/internal/errs"
	"hydrawlics/internal/metrics"
)

// State is the lifecycle stage of a Session.
type State int32

const (
	Disconnected State = iota
	Handshaking
	Ready
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

var (
	errNoLine = errors.New("no line received")
	errClosed = errors.New("transport closed")
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.DeviceMetrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Session is an open link to one plotter. It is owned by a single caller;
// concurrent sends are serialized so only one line is ever in flight.
type Session struct {
	cfg     Config
	log     *slog.Logger
	metrics metrics.DeviceMetrics
	limiter *rate.Limiter

	mu        sync.Mutex // held for a whole line or program exchange
	transport Transport
	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

// Open connects to the plotter and performs the handshake: after the board
// settles, any non-empty line within ConnectTimeout proves it is alive.
// A failed handshake closes the transport.
func Open(ctx context.Context, opener Opener, cfg Config, opts ...Option) (*Session, error) {
	const op = "device.Open"
	if err := cfg.Validate(); err != nil {
		return nil, errs.New(errs.Input, op, fmt.Errorf("invalid device config: %w", err))
	}

	s := &Session{
		cfg:     cfg,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: metrics.Nop{},
		lines:   make(chan string, 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	limit := rate.Inf
	if cfg.LineDelay > 0 {
		limit = rate.Every(cfg.LineDelay)
	}
	s.limiter = rate.NewLimiter(limit, 1)

	s.setState(Handshaking)
	t, err := opener.Open(ctx, cfg.Port, cfg.BaudRate)
	if err != nil {
		s.setState(Disconnected)
		return nil, errs.New(errs.Handshake, op, err)
	}
	s.transport = t
	go s.readLoop()

	if err := sleep(ctx, cfg.SettleDelay); err != nil {
		s.Close()
		return nil, errs.New(errs.Canceled, op, err)
	}

	greeting, err := s.poll(ctx, cfg.ConnectTimeout, func(line string) bool {
		return strings.TrimSpace(line) != ""
	})
	if err != nil {
		s.Close()
		return nil, errs.New(errs.Handshake, op,
			fmt.Errorf("plotter did not answer within %s: %w", cfg.ConnectTimeout, err))
	}

	s.setState(Ready)
	s.log.Info("plotter connected", "port", cfg.Port, "baud", cfg.BaudRate, "greeting", greeting)
	return s, nil
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Close releases the transport. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.setState(Disconnected)
		if s.transport != nil {
			err = s.transport.Close()
		}
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.lines)
	scanner := bufio.NewScanner(s.transport)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil && s.State() != Disconnected {
		s.log.Warn("serial read failed", "error", err)
	}
}

// readLine waits up to wait for the next line from the plotter.
func (s *Session) readLine(ctx context.Context, wait time.Duration) (string, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", errClosed
		}
		s.log.Debug("plotter line", "line", line)
		return line, nil
	case <-timer.C:
		return "", errNoLine
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// poll consumes lines until accept matches one or within elapses. Lines
// that are not accepted are discarded.
func (s *Session) poll(ctx context.Context, within time.Duration, accept func(string) bool) (string, error) {
	deadline := time.Now().Add(within)
	var found string

	operation := func() error {
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return &backoff.PermanentError{Err: errNoLine}
			}
			line, err := s.readLine(ctx, min(s.cfg.PollInterval, remaining))
			switch {
			case errors.Is(err, errNoLine):
				return err
			case err != nil:
				return &backoff.PermanentError{Err: err}
			}
			if accept(line) {
				found = line
				return nil
			}
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.PollInterval
	b.MaxInterval = s.cfg.PollInterval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = within

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}
	return found, nil
}

// AwaitReady blocks until the plotter prints a readiness line.
func (s *Session) AwaitReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitReady(ctx)
}

func (s *Session) awaitReady(ctx context.Context) error {
	const op = "device.AwaitReady"
	if _, err := s.poll(ctx, s.cfg.ReadinessWait, isReady); err != nil {
		return s.fail(ctx, op, errs.ReadinessTimeout, err)
	}
	return nil
}

// SendLine writes one command and waits for its acknowledgement.
func (s *Session) SendLine(ctx context.Context, line string) (LineResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLine(ctx, line)
}

func (s *Session) sendLine(ctx context.Context, line string) (LineResult, error) {
	const op = "device.SendLine"

	payload := strings.TrimSpace(line)
	res := LineResult{
		Line:   payload,
		Bytes:  len(payload),
		Local:  Checksum([]byte(payload)),
		Remote: -1,
	}
	if st := s.State(); st != Ready {
		return res, errs.Newf(errs.Internal, op, "session is %s", st)
	}
	if res.Bytes > s.cfg.SoftLimit {
		s.log.Warn("line size approaching plotter buffer limit",
			"bytes", res.Bytes, "soft_limit", s.cfg.SoftLimit, "peer_buffer", s.cfg.PeerBuffer)
	}

	if _, err := io.WriteString(s.transport, payload+"\n"); err != nil {
		return res, s.fail(ctx, op, errs.Internal, fmt.Errorf("failed to write line: %w", err))
	}

	deadline := time.Now().Add(s.cfg.AckWait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			res.Status = TimedOut
			s.metrics.IncAckTimeouts()
			return res, errs.Newf(errs.AckTimeout, op, "no acknowledgement for %q within %s", payload, s.cfg.AckWait)
		}
		resp, err := s.readLine(ctx, remaining)
		if errors.Is(err, errNoLine) {
			continue
		}
		if err != nil {
			return res, s.fail(ctx, op, errs.Internal, err)
		}

		resp = strings.TrimSpace(resp)
		remote, ok := parseAck(resp)
		if !ok {
			if !isPing(resp) {
				s.log.Debug("ignoring plotter output while awaiting ack", "line", resp)
			}
			continue
		}

		res.Remote = remote
		if remote != res.Local {
			res.Status = Mismatched
			s.metrics.IncChecksumMismatches()
			return res, errs.Newf(errs.ChecksumMismatch, op,
				"checksum mismatch for %q: sent %d, plotter reported %d", payload, res.Local, remote)
		}
		res.Status = Acked
		s.metrics.IncLinesSent()
		return res, nil
	}
}

// Report summarizes a program transfer.
type Report struct {
	Total   int
	Acked   int
	Results []LineResult
}

// SendProgram streams a motion program line by line. Each line waits for
// readiness, is paced by LineDelay, and must be acknowledged before the next
// one goes out. The first failure aborts the transfer.
func (s *Session) SendProgram(ctx context.Context, text string) (Report, error) {
	const op = "device.SendProgram"

	s.mu.Lock()
	defer s.mu.Unlock()

	lines := ProgramLines(text, s.cfg.CommentMarker)
	report := Report{Total: len(lines), Results: make([]LineResult, 0, len(lines))}
	s.log.Info("sending program", "lines", report.Total)

	for i, line := range lines {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, errs.New(errs.TransferAborted, fmt.Sprintf("%s: line %d", op, i+1),
				s.fail(ctx, op, errs.Canceled, err))
		}
		if err := s.awaitReady(ctx); err != nil {
			return report, errs.New(errs.TransferAborted, fmt.Sprintf("%s: line %d", op, i+1), err)
		}
		res, err := s.sendLine(ctx, line)
		report.Results = append(report.Results, res)
		if err != nil {
			s.log.Error("transfer aborted", "line", i+1, "of", report.Total, "error", err)
			return report, errs.New(errs.TransferAborted, fmt.Sprintf("%s: line %d", op, i+1), err)
		}
		report.Acked++
	}

	s.log.Info("program sent", "lines", report.Acked)
	return report, nil
}

// fail tags err and, when the caller has gone away or the link is broken,
// releases the transport.
func (s *Session) fail(ctx context.Context, op string, kind errs.Kind, err error) error {
	if ctx.Err() != nil {
		s.Close()
		return errs.New(errs.Canceled, op, err)
	}
	if errors.Is(err, errClosed) {
		s.Close()
	}
	return errs.New(kind, op, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
