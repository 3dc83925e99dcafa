package service

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Handle is an opaque handle to one spawned service process. The supervisor
// holds at most one live Handle per service name. Child stdout/stderr are
// forwarded line by line to the logging sink tagged with the service name,
// and optionally captured to rotating files.
type Handle struct {
	name string
	cmd  *exec.Cmd
	log  *slog.Logger

	mu       sync.Mutex
	exitErr  error
	waitDone chan struct{} // closed when cmd.Wait has returned
	closers  []io.Closer
}

// Launch spawns the process described by d with the given fully merged
// environment. The returned Handle is already running; the caller is
// responsible for observing Done() and for stopping it.
func Launch(d Descriptor, environ []string, log *slog.Logger) (*Handle, error) {
	// #nosec G204 -- descriptors are operator-supplied configuration
	cmd := exec.Command(d.Command, d.Args...)
	if d.WorkDir != "" {
		cmd.Dir = d.WorkDir
	}
	if len(environ) > 0 {
		cmd.Env = environ
	}
	cmd.SysProcAttr = sysProcAttr()

	h := &Handle{
		name:     d.Name,
		cmd:      cmd,
		log:      log,
		waitDone: make(chan struct{}),
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Name: d.Name, Command: d.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Name: d.Name, Command: d.Command, Err: err}
	}

	// Optional rotating file capture in addition to the log sink.
	var outFile, errFile io.WriteCloser
	if d.Log.Dir != "" || d.Log.StdoutPath != "" || d.Log.StderrPath != "" {
		outFile, errFile, _ = d.Log.Writers(d.Name)
		if outFile != nil {
			h.closers = append(h.closers, outFile)
		}
		if errFile != nil {
			h.closers = append(h.closers, errFile)
		}
	}

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, &SpawnError{Name: d.Name, Command: d.Command, Err: err}
	}

	var fwd sync.WaitGroup
	fwd.Add(2)
	go h.forward(stdout, outFile, "stdout", &fwd)
	go h.forward(stderr, errFile, "stderr", &fwd)

	go func() {
		fwd.Wait() // drain pipes before Wait closes them
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		h.closeWriters()
		close(h.waitDone)
	}()

	return h, nil
}

// forward copies one child stream to the log sink line by line, teeing to
// file when capture is configured.
func (h *Handle) forward(r io.Reader, file io.Writer, stream string, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		h.log.Info(fmt.Sprintf("[%s] %s", h.name, line), "stream", stream)
		if file != nil {
			_, _ = fmt.Fprintln(file, line)
		}
	}
}

// PID returns the OS process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.waitDone }

// ExitCode returns the process exit code after Done is closed. It reports
// -1 when the process was killed by a signal.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	err := h.exitErr
	h.mu.Unlock()
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// ExitErr returns the raw error from cmd.Wait, valid after Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Stop terminates the process: graceful signal first, escalating to a
// forceful kill when the process is still alive after grace. Exceeding the
// grace period is normal shutdown policy, not an error.
func (h *Handle) Stop(grace time.Duration) {
	if h.cmd.Process == nil {
		return
	}
	if err := h.terminate(); err != nil {
		h.log.Warn("graceful terminate failed", "service", h.name, "error", err)
	}
	select {
	case <-h.waitDone:
		return
	case <-time.After(grace):
	}
	_ = h.kill()
	select {
	case <-h.waitDone:
	case <-time.After(500 * time.Millisecond):
		// reaped by the wait goroutine eventually; do not block shutdown
	}
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
}
