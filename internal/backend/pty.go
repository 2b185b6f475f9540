package backend

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/helmdesk/helmdesk/internal/git"
)

// OutputFunc receives raw output chunks read from a terminal process.
type OutputFunc func(id string, chunk []byte)

type ptyProc struct {
	cmd     *exec.Cmd
	pty     *os.File
	closing chan struct{} // closed when teardown starts, silences the reader
	done    chan struct{} // closed by the reaper once Wait returns
}

// PtyClient is the local ProcessClient: one shell process per terminal id,
// each started in its working directory on a pty.
type PtyClient struct {
	mu       sync.Mutex
	shell    string
	rows     int
	cols     int
	onOutput OutputFunc
	procs    map[string]*ptyProc
	logger   *slog.Logger
}

// NewPtyClient creates a process client spawning the given shell.
func NewPtyClient(shell string, rows, cols int, onOutput OutputFunc, logger *slog.Logger) *PtyClient {
	if shell == "" {
		shell = "/bin/bash"
	}
	if rows < 1 {
		rows = 24
	}
	if cols < 1 {
		cols = 80
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PtyClient{
		shell:    shell,
		rows:     rows,
		cols:     cols,
		onOutput: onOutput,
		procs:    make(map[string]*ptyProc),
		logger:   logger.With("component", "pty"),
	}
}

// CreateTerminalProcess starts a shell for the terminal id in workingDir.
// Creating an id that is already running is a no-op.
func (c *PtyClient) CreateTerminalProcess(ctx context.Context, id, workingDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.procs[id]; ok {
		return nil
	}

	cmd := exec.Command(c.shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	pty.Setsize(f, &pty.Winsize{
		Rows: uint16(c.rows),
		Cols: uint16(c.cols),
	})

	p := &ptyProc{
		cmd:     cmd,
		pty:     f,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.procs[id] = p

	go c.readOutput(id, p)
	// The reaper owns the single Wait; everyone else blocks on done.
	go func() {
		cmd.Wait()
		close(p.done)
	}()

	c.logger.Info("terminal process started", "terminal", id, "dir", workingDir)
	return nil
}

// readOutput pumps raw pty output into the output callback until the
// process exits or the handle is closed.
func (c *PtyClient) readOutput(id string, p *ptyProc) {
	buf := make([]byte, 32*1024)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 && c.onOutput != nil {
			c.onOutput(id, buf[:n])
		}
		if err != nil {
			select {
			case <-p.closing:
			default:
				c.logger.Debug("terminal output ended", "terminal", id, "err", err)
			}
			return
		}
	}
}

// CloseTerminalProcess terminates the process for a terminal id. Closing
// an unknown id is a no-op.
func (c *PtyClient) CloseTerminalProcess(ctx context.Context, id string) error {
	c.mu.Lock()
	p, ok := c.procs[id]
	if ok {
		delete(c.procs, id)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}

	close(p.closing)
	if p.pty != nil {
		p.pty.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	<-p.done
	c.logger.Info("terminal process closed", "terminal", id)
	return nil
}

// Resize updates the pty size for a terminal id.
func (c *PtyClient) Resize(id string, rows, cols int) error {
	c.mu.Lock()
	p, ok := c.procs[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return pty.Setsize(p.pty, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// WriteInput forwards user keystrokes to the terminal process.
func (c *PtyClient) WriteInput(id string, p []byte) error {
	c.mu.Lock()
	proc, ok := c.procs[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := proc.pty.Write(p)
	return err
}

// PathExists reports whether a path exists on disk.
func (c *PtyClient) PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirectoryIsVersionControlled reports whether the path is a valid git
// working copy.
func (c *PtyClient) DirectoryIsVersionControlled(path string) bool {
	return git.IsWorkingCopy(path)
}

// CloseAll terminates every running terminal process.
func (c *PtyClient) CloseAll(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.procs))
	for id := range c.procs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.CloseTerminalProcess(ctx, id); err != nil {
			c.logger.Warn("closing terminal process", "terminal", id, "err", err)
		}
	}
}
