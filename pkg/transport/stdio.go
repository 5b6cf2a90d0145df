package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/tidewater-labs/skiff/pkg/jsonrpc"
)

// StdioOptions describe how to launch a local MCP server process.
type StdioOptions struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

// Stdio runs an MCP server as a child process and exchanges one JSON-RPC
// message per newline-terminated line on its stdin/stdout. The command is run
// through the user's shell so that commands relying on PATH lookups, shims,
// or shell profiles behave the same as when launched from a terminal.
type Stdio struct {
	opts   StdioOptions
	events Events
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	buf    lineBuffer
	closed bool

	closeOnce sync.Once
}

// NewStdio builds a stdio transport; Start spawns the process.
func NewStdio(opts StdioOptions, events Events, logger *slog.Logger) *Stdio {
	return &Stdio{opts: opts, events: events, logger: orDefault(logger)}
}

// Start spawns the configured command and begins reading its stdout.
func (t *Stdio) Start(ctx context.Context) error {
	if t.opts.Command == "" {
		return fmt.Errorf("stdio: command is required")
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	line := shellJoin(t.opts.Command, t.opts.Args)

	cmd := exec.Command(shell, "-c", line)
	cmd.Dir = t.opts.Dir
	if len(t.opts.Env) > 0 {
		env := os.Environ()
		for k, v := range t.opts.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdio: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stdio: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("stdio: start %q: %w", t.opts.Command, err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.mu.Unlock()

	go t.readLoop(stdout)
	go t.drainStderr(stderr)
	return nil
}

// Send writes one message as a newline-terminated JSON line.
func (t *Stdio) Send(ctx context.Context, msg *jsonrpc.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.stdin == nil {
		return ErrClosed
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("stdio: write: %w", err)
	}
	return nil
}

// Close kills the child process, clears the framing buffer, and fires
// OnClose. Safe to call more than once.
func (t *Stdio) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cmd := t.cmd
	stdin := t.stdin
	t.buf.Reset()
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	t.closeOnce.Do(t.events.closed)
	return nil
}

func (t *Stdio) readLoop(stdout io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			t.mu.Lock()
			lines := t.buf.Feed(chunk[:n])
			t.mu.Unlock()
			for _, line := range lines {
				t.deliver(line)
			}
		}
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed && err != io.EOF {
				t.events.error(fmt.Errorf("stdio: read: %w", err))
			}
			// Process stdout went away; tear the transport down so pending
			// requests fail instead of waiting out their timeout.
			t.Close()
			return
		}
	}
}

func (t *Stdio) deliver(line []byte) {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		t.logger.Warn("dropping malformed stdio line",
			"command", t.opts.Command,
			"error", err,
		)
		return
	}
	t.events.message(msg)
}

func (t *Stdio) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("mcp server stderr",
			"command", t.opts.Command,
			"line", scanner.Text(),
		)
	}
}

// lineBuffer accumulates stdout chunks and yields complete newline-terminated
// lines, retaining any trailing partial line for the next Feed. Re-chunking
// the same byte stream arbitrarily yields the same sequence of lines.
type lineBuffer struct {
	buf []byte
}

// Feed appends chunk and returns every complete line it closed, with line
// endings stripped and empty lines skipped.
func (b *lineBuffer) Feed(chunk []byte) [][]byte {
	b.buf = append(b.buf, chunk...)
	var lines [][]byte
	for {
		idx := bytes.IndexByte(b.buf, '\n')
		if idx < 0 {
			return lines
		}
		line := bytes.TrimRight(b.buf[:idx], "\r")
		b.buf = b.buf[idx+1:]
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		lines = append(lines, out)
	}
}

// Reset discards any buffered partial line.
func (b *lineBuffer) Reset() {
	b.buf = nil
}

// shellJoin renders command+args as one shell-escaped command line so the
// whole invocation can be handed to `$SHELL -c`.
func shellJoin(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(command))
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\&|;<>()*?[]#~%{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
