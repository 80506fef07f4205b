package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrawlics/internal/errs"
)

// fakePlotter is an in-memory firmware peer. It prints a greeting, then
// answers each received line with whatever respond returns.
type fakePlotter struct {
	hostR *io.PipeReader
	plotW *io.PipeWriter
	plotR *io.PipeReader
	hostW *io.PipeWriter

	closed atomic.Bool

	mu       sync.Mutex
	received []string
}

func newFakePlotter(t *testing.T, greeting []string, respond func(n int, line string) []string) *fakePlotter {
	t.Helper()
	hostR, plotW := io.Pipe()
	plotR, hostW := io.Pipe()
	f := &fakePlotter{hostR: hostR, plotW: plotW, plotR: plotR, hostW: hostW}

	go func() {
		defer plotW.Close()
		for _, g := range greeting {
			if _, err := io.WriteString(plotW, g+"\n"); err != nil {
				return
			}
		}
		scanner := bufio.NewScanner(plotR)
		for n := 0; scanner.Scan(); n++ {
			line := scanner.Text()
			f.mu.Lock()
			f.received = append(f.received, line)
			f.mu.Unlock()
			for _, r := range respond(n, line) {
				if _, err := io.WriteString(plotW, r+"\n"); err != nil {
					return
				}
			}
		}
	}()

	t.Cleanup(func() { f.Close() })
	return f
}

func (f *fakePlotter) Read(p []byte) (int, error)  { return f.hostR.Read(p) }
func (f *fakePlotter) Write(p []byte) (int, error) { return f.hostW.Write(p) }

func (f *fakePlotter) Close() error {
	f.closed.Store(true)
	f.hostR.Close()
	f.plotR.Close()
	return f.hostW.Close()
}

func (f *fakePlotter) Received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakePlotter) opener() Opener {
	return OpenerFunc(func(context.Context, string, int) (Transport, error) {
		return f, nil
	})
}

func ack(_ int, line string) []string {
	return []string{fmt.Sprintf("OK %d", Checksum([]byte(line))), "ready"}
}

func silent(int, string) []string { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = "fake"
	cfg.SettleDelay = 0
	cfg.ConnectTimeout = 300 * time.Millisecond
	cfg.ReadinessWait = 300 * time.Millisecond
	cfg.AckWait = 300 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.LineDelay = 0
	return cfg
}

func openSession(t *testing.T, f *fakePlotter, cfg Config, opts ...Option) *Session {
	t.Helper()
	s, err := Open(context.Background(), f.opener(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Checksum(nil))
	assert.Equal(t, 65, Checksum([]byte("A")))
	assert.Equal(t, 65^66, Checksum([]byte("AB")))
	assert.Equal(t, 0, Checksum([]byte("GG")))

	line := []byte("G1 X10 Y5 F1500")
	want := 0
	for _, b := range line {
		want ^= int(b)
	}
	assert.Equal(t, want, Checksum(line))
}

func TestParseAck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line   string
		remote int
		ok     bool
	}{
		{"OK 12", 12, true},
		{"ok 7", 7, true},
		{"OK checksum 9", 9, true},
		{"OK abc", -1, true},
		{"  OK 5\r ", 5, true},
		{"OK:117", -1, true},
		{"OK117", -1, true},
		{"OK", -1, true},
		{"okay 3", 3, true},
		{"ok", 0, false},
		{"ready", 0, false},
		{"start", 0, false},
		{"O", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		tt := tt
		remote, ok := parseAck(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		if tt.ok {
			assert.Equal(t, tt.remote, remote, tt.line)
		}
	}
}

func TestProgramLines(t *testing.T) {
	t.Parallel()

	text := "; hydrawlics z_safe=5\n\nG0 Z5\r\n  G0 X1 Y2  \n   \n; trailing comment\nG1 Z0 F300\n"
	assert.Equal(t, []string{"G0 Z5", "G0 X1 Y2", "G1 Z0 F300"}, ProgramLines(text, ";"))
	assert.Empty(t, ProgramLines("\n\n; only comments\n", ";"))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.BaudRate = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PeerBuffer = cfg.SoftLimit - 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AckWait = 0
	assert.Error(t, cfg.Validate())
}

func TestOpenHandshake(t *testing.T) {
	t.Parallel()

	f := newFakePlotter(t, []string{"", "   ", "Connected"}, silent)
	s := openSession(t, f, testConfig())
	assert.Equal(t, Ready, s.State())
}

func TestOpenHandshakeFailure(t *testing.T) {
	t.Parallel()

	f := newFakePlotter(t, []string{"", ""}, silent)
	start := time.Now()
	s, err := Open(context.Background(), f.opener(), testConfig())
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errs.Is(err, errs.Handshake))
	assert.True(t, f.closed.Load(), "transport must be released")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenerFailure(t *testing.T) {
	t.Parallel()

	opener := OpenerFunc(func(context.Context, string, int) (Transport, error) {
		return nil, errors.New("no such port")
	})
	_, err := Open(context.Background(), opener, testConfig())
	require.Error(t, err)
	assert.Equal(t, errs.Handshake, errs.KindOf(err))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PollInterval = 0
	f := newFakePlotter(t, []string{"Connected"}, silent)
	_, err := Open(context.Background(), f.opener(), cfg)
	require.Error(t, err)
	assert.Equal(t, errs.Input, errs.KindOf(err))
}

func TestSendLineAcked(t *testing.T) {
	t.Parallel()

	f := newFakePlotter(t, []string{"Connected"}, ack)
	s := openSession(t, f, testConfig())

	res, err := s.SendLine(context.Background(), "  G1 X10 Y5 F1500  ")
	require.NoError(t, err)
	assert.Equal(t, Acked, res.Status)
	assert.Equal(t, res.Local, res.Remote)
	assert.Equal(t, "G1 X10 Y5 F1500", res.Line)
	assert.Equal(t, []string{"G1 X10 Y5 F1500"}, f.Received())
}

func TestSendLineChecksumMismatch(t *testing.T) {
	t.Parallel()

	corruptDigit := func(_ int, line string) []string {
		digits := []byte(strconv.Itoa(Checksum([]byte(line))))
		last := len(digits) - 1
		digits[last] = '0' + (digits[last]-'0'+1)%10
		return []string{"OK " + string(digits)}
	}
	flipBit := func(_ int, line string) []string {
		return []string{fmt.Sprintf("OK %d", Checksum([]byte(line))^1)}
	}
	notANumber := func(int, string) []string {
		return []string{"OK garbled"}
	}
	colon := func(_ int, line string) []string {
		return []string{fmt.Sprintf("OK:%d", Checksum([]byte(line)))}
	}
	glued := func(_ int, line string) []string {
		return []string{fmt.Sprintf("OK%d", Checksum([]byte(line)))}
	}
	bare := func(int, string) []string {
		return []string{"OK"}
	}

	tests := []struct {
		name    string
		respond func(int, string) []string
	}{
		{"corrupted digit", corruptDigit},
		{"flipped bit", flipBit},
		{"non numeric", notANumber},
		{"colon separated", colon},
		{"no separator", glued},
		{"bare uppercase", bare},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFakePlotter(t, []string{"Connected"}, tt.respond)
			s := openSession(t, f, testConfig())

			res, err := s.SendLine(context.Background(), "G0 X1 Y2")
			require.Error(t, err)
			assert.Equal(t, Mismatched, res.Status)
			assert.NotEqual(t, res.Local, res.Remote)
			assert.Equal(t, errs.ChecksumMismatch, errs.KindOf(err))
		})
	}
}

func TestSendLineAckTimeout(t *testing.T) {
	t.Parallel()

	f := newFakePlotter(t, []string{"Connected"}, silent)
	s := openSession(t, f, testConfig())

	start := time.Now()
	res, err := s.SendLine(context.Background(), "G0 Z5")
	require.Error(t, err)
	assert.Equal(t, TimedOut, res.Status)
	assert.Equal(t, errs.AckTimeout, errs.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Ready, s.State())
}

func TestSendLineSkipsChatter(t *testing.T) {
	t.Parallel()

	chatty := func(_ int, line string) []string {
		return []string{"start", "ok", "moving pen", fmt.Sprintf("OK %d", Checksum([]byte(line)))}
	}
	f := newFakePlotter(t, []string{"Connected"}, chatty)
	s := openSession(t, f, testConfig())

	res, err := s.SendLine(context.Background(), "G1 Z0 F300")
	require.NoError(t, err)
	assert.Equal(t, Acked, res.Status)
}

func TestSendLineSizeGuard(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := testConfig()
	cfg.SoftLimit = 8
	cfg.PeerBuffer = 16

	f := newFakePlotter(t, []string{"Connected"}, ack)
	s := openSession(t, f, cfg, WithLogger(logger))

	res, err := s.SendLine(context.Background(), "G1 X100 Y200")
	require.NoError(t, err, "the size guard only warns")
	assert.Equal(t, Acked, res.Status)
	assert.Contains(t, buf.String(), "approaching plotter buffer limit")
}

func TestSendLineAfterClose(t *testing.T) {
	t.Parallel()

	f := newFakePlotter(t, []string{"Connected"}, ack)
	s := openSession(t, f, testConfig())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.SendLine(context.Background(), "G0 Z5")
	require.Error(t, err)
	assert.Equal(t, Disconnected, s.State())
}

func TestSendLineCancelReleasesTransport(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AckWait = 5 * time.Second

	f := newFakePlotter(t, []string{"Connected"}, silent)
	s := openSession(t, f, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.SendLine(ctx, "G0 Z5")
	require.Error(t, err)
	assert.Equal(t, errs.Canceled, errs.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Disconnected, s.State())
	assert.True(t, f.closed.Load())
}

func TestSendProgram(t *testing.T) {
	t.Parallel()

	f := newFakePlotter(t, []string{"Connected", "ready"}, ack)
	s := openSession(t, f, testConfig())

	program := "; hydrawlics z_safe=5 z_cut=0 feed_xy=1500 feed_z=300\nG0 Z5\n\nG0 X1 Y1\nG1 Z0 F300\n"
	report, err := s.SendProgram(context.Background(), program)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Acked)
	assert.Equal(t, []string{"G0 Z5", "G0 X1 Y1", "G1 Z0 F300"}, f.Received())
	for _, r := range report.Results {
		assert.Equal(t, Acked, r.Status)
	}
}

func TestSendProgramPacing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LineDelay = 20 * time.Millisecond

	f := newFakePlotter(t, []string{"Connected", "ready"}, ack)
	s := openSession(t, f, cfg)

	start := time.Now()
	report, err := s.SendProgram(context.Background(), "G0 Z5\nG0 X1 Y1\nG0 X2 Y2\nG0 X3 Y3\n")
	require.NoError(t, err)
	assert.Equal(t, 4, report.Acked)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSendProgramAbortsOnFirstFailure(t *testing.T) {
	t.Parallel()

	failSecond := func(n int, line string) []string {
		sum := Checksum([]byte(line))
		if n == 1 {
			sum ^= 0x10
		}
		return []string{fmt.Sprintf("OK %d", sum), "ready"}
	}
	f := newFakePlotter(t, []string{"Connected", "ready"}, failSecond)
	s := openSession(t, f, testConfig())

	report, err := s.SendProgram(context.Background(), "G0 Z5\nG0 X1 Y1\nG1 Z0 F300\n")
	require.Error(t, err)
	assert.Equal(t, errs.TransferAborted, errs.KindOf(err))
	assert.True(t, errs.Is(err, errs.ChecksumMismatch))
	assert.Equal(t, 1, report.Acked)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, []string{"G0 Z5", "G0 X1 Y1"}, f.Received(), "no line after the failure is sent")
}

func TestSendProgramReadinessTimeout(t *testing.T) {
	t.Parallel()

	f := newFakePlotter(t, []string{"Connected"}, ack)
	s := openSession(t, f, testConfig())

	report, err := s.SendProgram(context.Background(), "G0 Z5\n")
	require.Error(t, err)
	assert.Equal(t, errs.TransferAborted, errs.KindOf(err))
	assert.True(t, errs.Is(err, errs.ReadinessTimeout))
	assert.Zero(t, report.Acked)
	assert.Empty(t, f.Received())
}

func TestSendProgramCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ReadinessWait = 5 * time.Second

	f := newFakePlotter(t, []string{"Connected"}, ack)
	s := openSession(t, f, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := s.SendProgram(ctx, "G0 Z5\n")
	require.Error(t, err)
	assert.Equal(t, errs.TransferAborted, errs.KindOf(err))
	assert.True(t, errs.Is(err, errs.Canceled))
	assert.Equal(t, Disconnected, s.State())
	assert.True(t, f.closed.Load())
}
