package console

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// promptRe matches the readline prompt the console prints between
	// commands, with or without a module selected ("msf6 > ",
	// "msf6 exploit(windows/smb/ms17_010_eternalblue) > ").
	promptRe = regexp.MustCompile(`msf\w*[^>\n]*>\s*$`)

	ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
)

// Session is a long-lived interactive console process. Commands write to
// its stdin and output is read until the next prompt appears. One
// command runs at a time; Execute serializes callers.
//
// A Session that times out mid-command is poisoned: the pending command
// may still be running inside the console. Close it and start a new one.
type Session struct {
	KillGrace time.Duration // escalation window for Close
	MaxOutput int           // bytes retained per command

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   chan []byte
	done  chan struct{}
}

// NewSession starts the console in quiet interactive mode. Call Ready to
// consume the startup banner before the first Execute.
func NewSession(consolePath string, args ...string) (*Session, error) {
	if consolePath == "" {
		return nil, fmt.Errorf("console path not set")
	}
	cmd := exec.Command(consolePath, append([]string{"-q"}, args...)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", consolePath, err)
	}

	s := &Session{
		cmd:   cmd,
		stdin: stdin,
		out:   make(chan []byte, 16),
		done:  make(chan struct{}),
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(stdout, &wg)
	go s.pump(stderr, &wg)
	go func() {
		wg.Wait()
		cmd.Wait()
		close(s.done)
		close(s.out)
	}()
	return s, nil
}

// pump forwards raw reads into the output channel until the pipe closes.
func (s *Session) pump(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			s.out <- b
		}
		if err != nil {
			return
		}
	}
}

// Ready consumes startup output through the first prompt.
func (s *Session) Ready(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, timedOut, _, err := s.collect(ctx, timeout)
	if err != nil {
		return err
	}
	if timedOut {
		return fmt.Errorf("console prompt not seen within %s", timeout)
	}
	return nil
}

// Execute writes one command and reads until the following prompt. On
// timeout the attempt comes back with TimedOut set; the session should
// then be closed and replaced.
func (s *Session) Execute(ctx context.Context, command string, timeout time.Duration) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive() {
		return nil, fmt.Errorf("console exited")
	}
	s.drain()

	started := time.Now()
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return nil, fmt.Errorf("writing command: %w", err)
	}
	out, timedOut, truncated, err := s.collect(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return &Attempt{
		RunID:     uuid.New().String(),
		Strategy:  StrategyPersistent,
		Stdout:    []byte(stripPrompt(stripANSI(out))),
		TimedOut:  timedOut,
		Truncated: truncated,
		Duration:  time.Since(started),
		StartedAt: started,
	}, nil
}

// collect accumulates output until a prompt, the timeout, or context
// cancellation. The retained output is capped at MaxOutput; prompt
// detection keeps working past the cap via a small tail window.
func (s *Session) collect(ctx context.Context, timeout time.Duration) (out string, timedOut, truncated bool, err error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var b []byte
	var window []byte
	for {
		select {
		case chunk, ok := <-s.out:
			if !ok {
				return string(b), false, truncated, fmt.Errorf("console exited")
			}
			if len(b) < s.maxOutput() {
				b = append(b, chunk...)
			} else {
				truncated = true
			}
			window = append(window, chunk...)
			if len(window) > 256 {
				window = window[len(window)-256:]
			}
			if promptRe.Match(window) {
				return string(b), false, truncated, nil
			}
		case <-timer.C:
			return string(b), true, truncated, nil
		case <-ctx.Done():
			return string(b), false, truncated, ctx.Err()
		}
	}
}

// drain discards output left over from a previous command.
func (s *Session) drain() {
	for {
		select {
		case _, ok := <-s.out:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close asks the console to exit and escalates to SIGKILL once the grace
// window elapses. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive() {
		return nil
	}
	io.WriteString(s.stdin, "exit\n")
	s.stdin.Close()

	timer := time.NewTimer(s.killGrace())
	defer timer.Stop()
	for {
		select {
		case _, ok := <-s.out:
			if !ok {
				<-s.done
				return nil
			}
		case <-s.done:
			return nil
		case <-timer.C:
			s.cmd.Process.Kill()
			for range s.out {
			}
			<-s.done
			return nil
		}
	}
}

// Alive reports whether the console process is still running.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive()
}

func (s *Session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Session) killGrace() time.Duration {
	if s.KillGrace > 0 {
		return s.KillGrace
	}
	return 5 * time.Second
}

func (s *Session) maxOutput() int {
	if s.MaxOutput > 0 {
		return s.MaxOutput
	}
	return 1 << 20
}

// stripPrompt removes the trailing prompt readline leaves at the end of
// each command's output.
func stripPrompt(out string) string {
	if loc := promptRe.FindStringIndex(out); loc != nil && loc[1] == len(out) {
		out = out[:loc[0]]
	}
	return strings.TrimRight(out, " \n")
}

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}
