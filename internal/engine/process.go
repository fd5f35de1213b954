package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/numlab/matlab-mcp-go/internal/errors"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading engine output
	// lines. jsonencode of large arrays can produce very long lines.
	maxScanTokenSize = 4 * 1024 * 1024

	// maxStderrBufferSize caps the stderr buffer kept for error reporting.
	maxStderrBufferSize = 256 * 1024

	// closeGrace is how long Close waits for a clean engine exit before
	// killing the process.
	closeGrace = 3 * time.Second
)

// Output markers injected around every submission. The engine echoes them
// on stdout, delimiting one command's output from the next.
const (
	markerEnd   = "<<<matlab-mcp:end:"
	markerErr   = "<<<matlab-mcp:err:"
	markerValue = "<<<matlab-mcp:val:"
	markerClose = ">>>"
)

// ProcessConfig holds configuration for the subprocess engine.
type ProcessConfig struct {
	// MatlabPath is the MATLAB installation root. Empty means discover.
	MatlabPath string

	// StartupTimeout bounds Start. Zero disables the bound.
	StartupTimeout time.Duration

	// Logger receives engine operation logs. Required.
	Logger *slog.Logger
}

// Process implements Engine by owning a single long-lived MATLAB subprocess
// started with -nodesktop -nosplash. Commands are written to its stdin and
// output is scanned from stdout until a marker line signals completion.
//
// All methods serialize on an internal mutex; the engine evaluates exactly
// one submission at a time.
type Process struct {
	log *slog.Logger
	cfg ProcessConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	evalDir string
	started bool
	closed  bool

	eg       *errgroup.Group
	waitDone chan struct{}
	waitErr  error

	stderrMu  sync.Mutex
	stderrBuf strings.Builder
}

// Compile-time verification that Process implements Engine.
var _ Engine = (*Process)(nil)

// NewProcess creates a subprocess engine. The engine is not running until
// Start is called.
func NewProcess(cfg ProcessConfig) *Process {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Process{
		log:      log.With("component", "engine"),
		cfg:      cfg,
		waitDone: make(chan struct{}),
	}
}

// Start launches the MATLAB subprocess and waits for it to accept commands.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.ErrSessionClosed
	}

	if p.started {
		return nil
	}

	if p.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StartupTimeout)
		defer cancel()
	}

	execPath, err := NewDiscoverer(DiscoveryConfig{
		MatlabPath: p.cfg.MatlabPath,
		Logger:     p.log,
	}).Discover()
	if err != nil {
		return err
	}

	evalDir, err := os.MkdirTemp("", "matlab-mcp-")
	if err != nil {
		return &errors.EngineStartError{Err: fmt.Errorf("create eval dir: %w", err)}
	}

	p.evalDir = evalDir

	// Failures before the process is running leave nothing to close, but
	// the eval dir must not outlive the attempt.
	startFail := func(err error) error {
		_ = os.RemoveAll(evalDir)
		p.evalDir = ""

		return &errors.EngineStartError{Err: err}
	}

	p.log.Info("Starting MATLAB engine", "path", execPath)

	//nolint:gosec // G204: the executable path comes from discovery/config
	cmd := exec.Command(execPath, "-nodesktop", "-nosplash")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return startFail(fmt.Errorf("stdin pipe: %w", err))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return startFail(fmt.Errorf("stdout pipe: %w", err))
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return startFail(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return startFail(fmt.Errorf("start process: %w", err))
	}

	p.cmd = cmd
	p.stdin = stdin
	p.lines = make(chan string, 64)
	p.eg = &errgroup.Group{}

	lines := p.lines

	p.eg.Go(func() error {
		defer close(lines)

		scanner := bufio.NewScanner(stdout)
		buf := make([]byte, 64*1024)
		scanner.Buffer(buf, maxScanTokenSize)

		for scanner.Scan() {
			lines <- scanner.Text()
		}

		if err := scanner.Err(); err != nil {
			p.log.Debug("Stdout scanner error", "error", err)
		}

		return nil
	})

	p.eg.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()

			p.stderrMu.Lock()

			if p.stderrBuf.Len() < maxStderrBufferSize {
				if p.stderrBuf.Len() > 0 {
					p.stderrBuf.WriteString("\n")
				}

				p.stderrBuf.WriteString(line)
			}

			p.stderrMu.Unlock()
		}

		return nil
	})

	go func() {
		_ = p.eg.Wait()
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()

	// Probe past the startup banner: the first end marker proves the
	// engine is interpreting commands.
	if _, err := p.submit(ctx, "", ulid.Make().String()); err != nil {
		stderrOut := p.stderrSnapshot()
		p.closeLocked()

		return &errors.EngineStartError{Err: fmt.Errorf("engine did not become ready: %w (stderr: %s)", err, stderrOut)}
	}

	p.started = true
	p.log.Info("MATLAB engine ready", "pid", cmd.Process.Pid)

	return nil
}

// Eval evaluates engine-language statements and returns captured output.
//
// The statements are written to a scratch .m file and executed with run()
// inside a try/catch, so multi-line user code keeps its exact semantics and
// an error never takes down the engine process.
func (p *Process) Eval(ctx context.Context, code string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ready(); err != nil {
		return "", err
	}

	id := ulid.Make().String()

	scratch := filepath.Join(p.evalDir, "eval_"+id+".m")
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}

	if err := os.WriteFile(scratch, []byte(code), 0o600); err != nil {
		return "", fmt.Errorf("write scratch script: %w", err)
	}

	defer func() {
		_ = os.Remove(scratch)
	}()

	command := fmt.Sprintf("try, run(%s); %s, end, %s",
		Quote(scratch), catchClause(id), endStatement(id))

	res, err := p.submit(ctx, command, id)
	if err != nil {
		return "", err
	}

	return res.output, res.execError()
}

// CallFunction invokes a function with positional arguments.
//
// Arguments cross the boundary as JSON and are decoded inside the engine
// with jsondecode; return values come back through jsonencode. With
// nargout above one the outputs are requested as a bracketed list and
// returned as a single array value.
func (p *Process) CallFunction(ctx context.Context, name string, args []any, nargout int) (any, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ready(); err != nil {
		return nil, "", err
	}

	id := ulid.Make().String()

	var b strings.Builder

	b.WriteString("try, ")

	argNames := make([]string, len(args))

	for i, arg := range args {
		encoded, err := json.Marshal(arg)
		if err != nil {
			return nil, "", fmt.Errorf("encode argument %d: %w", i, err)
		}

		argNames[i] = fmt.Sprintf("arg%d__", i)
		fmt.Fprintf(&b, "%s = jsondecode(%s); ", argNames[i], Quote(string(encoded)))
	}

	call := fmt.Sprintf("%s(%s)", name, strings.Join(argNames, ", "))

	switch {
	case nargout == 1:
		fmt.Fprintf(&b, "out0__ = %s; disp([%s, jsonencode(out0__)]); ",
			call, Quote(markerValue+id+markerClose))
	case nargout > 1:
		outNames := make([]string, nargout)
		for i := range outNames {
			outNames[i] = fmt.Sprintf("out%d__", i)
		}

		outs := strings.Join(outNames, ", ")
		fmt.Fprintf(&b, "[%s] = %s; disp([%s, jsonencode({%s})]); ",
			outs, call, Quote(markerValue+id+markerClose), outs)
	default:
		fmt.Fprintf(&b, "%s; ", call)
	}

	fmt.Fprintf(&b, "%s, end, %s", catchClause(id), endStatement(id))

	res, err := p.submit(ctx, b.String(), id)
	if err != nil {
		return nil, "", err
	}

	if err := res.execError(); err != nil {
		return nil, res.output, err
	}

	if nargout == 0 {
		return nil, res.output, nil
	}

	value, err := decodeValue(res.value)
	if err != nil {
		return nil, res.output, fmt.Errorf("decode return value: %w", err)
	}

	return value, res.output, nil
}

// ReadVariable reads a workspace variable as a language-neutral value.
func (p *Process) ReadVariable(ctx context.Context, name string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ready(); err != nil {
		return nil, err
	}

	id := ulid.Make().String()

	command := fmt.Sprintf("try, disp([%s, jsonencode(%s)]); %s, end, %s",
		Quote(markerValue+id+markerClose), name, catchClause(id), endStatement(id))

	res, err := p.submit(ctx, command, id)
	if err != nil {
		return nil, err
	}

	if err := res.execError(); err != nil {
		return nil, err
	}

	return decodeValue(res.value)
}

// ListFigures returns the numbers of all open figure windows.
func (p *Process) ListFigures(ctx context.Context) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ready(); err != nil {
		return nil, err
	}

	id := ulid.Make().String()

	command := fmt.Sprintf(
		"try, disp([%s, jsonencode(sort(arrayfun(@(h) h.Number, findall(groot, 'Type', 'figure'))))]); %s, end, %s",
		Quote(markerValue+id+markerClose), catchClause(id), endStatement(id))

	res, err := p.submit(ctx, command, id)
	if err != nil {
		return nil, err
	}

	if err := res.execError(); err != nil {
		return nil, err
	}

	value, err := decodeValue(res.value)
	if err != nil {
		return nil, err
	}

	return toIntSlice(value), nil
}

// ExportFigure writes a figure as a PNG file.
func (p *Process) ExportFigure(ctx context.Context, handle int, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ready(); err != nil {
		return err
	}

	id := ulid.Make().String()

	command := fmt.Sprintf("try, print(figure(%d), %s, '-dpng'); %s, end, %s",
		handle, Quote(path), catchClause(id), endStatement(id))

	res, err := p.submit(ctx, command, id)
	if err != nil {
		return err
	}

	return res.execError()
}

// Close terminates the engine process. It asks for a clean exit first and
// kills the process if it does not comply within closeGrace.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closeLocked()
}

// closeLocked is Close without locking. Caller must hold p.mu.
func (p *Process) closeLocked() error {
	if p.closed {
		return nil
	}

	p.closed = true

	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	p.log.Debug("Stopping MATLAB engine", "pid", p.cmd.Process.Pid)

	// Drain remaining output so the stdout pump can finish. A dying
	// command may still be printing; with no reader the pump would block
	// on the channel send and the process wait below would never return.
	go func() {
		for range p.lines {
		}
	}()

	if p.stdin != nil {
		_, _ = io.WriteString(p.stdin, "exit\n")
		_ = p.stdin.Close()
	}

	select {
	case <-p.waitDone:
		if p.waitErr != nil {
			p.log.Debug("Engine exited", "error", p.waitErr)
		}
	case <-time.After(closeGrace):
		p.log.Debug("Engine did not exit cleanly, killing", "pid", p.cmd.Process.Pid)

		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill engine process (pid %d): %w", p.cmd.Process.Pid, err)
		}

		<-p.waitDone
	}

	if p.evalDir != "" {
		_ = os.RemoveAll(p.evalDir)
	}

	return nil
}

// ready reports whether commands may be submitted. Caller must hold p.mu.
func (p *Process) ready() error {
	if p.closed {
		return errors.ErrSessionClosed
	}

	if !p.started {
		return errors.ErrSessionNotStarted
	}

	return nil
}

// submission is the parsed result of one engine command.
type submission struct {
	output  string
	value   string
	errID   string
	errText string
	failed  bool
}

// execError converts a captured error marker into an ExecutionError.
func (s *submission) execError() error {
	if !s.failed {
		return nil
	}

	return &errors.ExecutionError{
		Identifier: s.errID,
		Diagnostic: s.errText,
		Output:     s.output,
	}
}

// submit writes one command line to the engine and scans output until the
// end marker for id appears. Caller must hold p.mu.
//
// If the context is cancelled mid-command the engine's state is unknown, so
// the process is torn down rather than left desynchronized.
func (p *Process) submit(ctx context.Context, command, id string) (*submission, error) {
	line := command
	if line == "" {
		line = endStatement(id)
	}

	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return nil, fmt.Errorf("write to engine: %w", err)
	}

	var (
		res       submission
		out       strings.Builder
		endMark   = markerEnd + id + markerClose
		errMark   = markerErr + id + markerClose
		valueMark = markerValue + id + markerClose
	)

	for {
		select {
		case <-ctx.Done():
			p.log.Warn("Cancelled mid-command, terminating engine")
			_ = p.closeLocked()

			return nil, ctx.Err()

		case text, ok := <-p.lines:
			if !ok {
				stderrOut := p.stderrSnapshot()
				_ = p.closeLocked()

				return nil, fmt.Errorf("engine process exited unexpectedly: %s", stderrOut)
			}

			text = stripPrompt(text)

			if idx := strings.Index(text, endMark); idx >= 0 {
				if idx > 0 {
					out.WriteString(text[:idx])
					out.WriteString("\n")
				}

				res.output = out.String()

				return &res, nil
			}

			if idx := strings.Index(text, errMark); idx >= 0 {
				payload := text[idx+len(errMark):]
				res.failed = true
				res.errID, res.errText, _ = strings.Cut(payload, "|")

				continue
			}

			if idx := strings.Index(text, valueMark); idx >= 0 {
				res.value = text[idx+len(valueMark):]

				continue
			}

			out.WriteString(text)
			out.WriteString("\n")
		}
	}
}

// stderrSnapshot returns the buffered stderr output.
func (p *Process) stderrSnapshot() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()

	return p.stderrBuf.String()
}

// catchClause renders the single-line catch block reporting an engine error
// through the err marker for id.
func catchClause(id string) string {
	return fmt.Sprintf(
		"catch err__, disp([%s, err__.identifier, '|', strrep(err__.message, newline, ' ')])",
		Quote(markerErr+id+markerClose))
}

// endStatement renders the statement that echoes the end marker for id.
func endStatement(id string) string {
	return fmt.Sprintf("disp(%s)", Quote(markerEnd+id+markerClose))
}

// Quote renders s as a single-quoted MATLAB char literal, doubling any
// embedded quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// stripPrompt removes echoed ">> " prompts from an output line.
func stripPrompt(line string) string {
	for strings.HasPrefix(line, ">> ") {
		line = line[3:]
	}

	if line == ">>" {
		return ""
	}

	return line
}

// decodeValue decodes a jsonencode'd engine value into a Go value: scalars
// as float64 or bool, arrays as nested []any, text as string.
func decodeValue(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("invalid engine value %q: %w", raw, err)
	}

	return value, nil
}

// toIntSlice flattens a decoded figure enumeration into ints. jsonencode
// renders an empty set as [], a single figure as a scalar, and several
// figures as an array.
func toIntSlice(value any) []int {
	switch v := value.(type) {
	case nil:
		return nil
	case float64:
		return []int{int(v)}
	case []any:
		out := make([]int, 0, len(v))

		for _, item := range v {
			if n, ok := item.(float64); ok {
				out = append(out, int(n))
			}
		}

		return out
	default:
		return nil
	}
}
