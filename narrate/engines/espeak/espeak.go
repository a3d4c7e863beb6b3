// Package espeak provides a narration engine backed by the espeak-ng
// command line synthesizer. Each request runs as one subprocess; pause
// and resume map to SIGSTOP/SIGCONT.
package espeak

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/narrate"
	"github.com/dgnsrekt/readaloud/narrate/sentence"
)

// DefaultBinary is the synthesizer binary looked up on PATH.
const DefaultBinary = "espeak-ng"

// espeak-ng baselines: -s is words per minute, -p and -a are 0-99/0-200
// scales.
const (
	baseWordsPerMinute = 175
	basePitch          = 50
	baseAmplitude      = 100
)

// Engine shells out to espeak-ng for each narration request.
type Engine struct {
	mu sync.Mutex

	binary    string
	path      string
	config    narrate.EngineConfig
	available bool
	logger    *log.Logger

	cmd       *exec.Cmd
	currentID string
	cancelled map[string]bool
}

// New creates an engine using the given binary name, or DefaultBinary
// when empty.
func New(binary string, logger *log.Logger) *Engine {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		binary:    binary,
		logger:    logger,
		cancelled: make(map[string]bool),
	}
}

// Initialize verifies the binary exists and stores the voice parameters.
func (e *Engine) Initialize(config narrate.EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path, err := exec.LookPath(e.binary)
	if err != nil {
		return fmt.Errorf("%w: %s not found: %v", narrate.ErrEngineNotAvailable, e.binary, err)
	}
	e.path = path
	e.config = config
	e.available = true
	return nil
}

// Speak starts one synthesis subprocess. The done callback fires from
// the process waiter goroutine unless the request is cancelled first.
func (e *Engine) Speak(req narrate.Request, done func(id string, err error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.available {
		return narrate.ErrEngineNotAvailable
	}
	if e.cmd != nil {
		e.killLocked()
	}

	// One sentence per line; espeak-ng pauses at line breaks.
	cmd := exec.Command(e.path, e.args(req)...)
	cmd.Stdin = strings.NewReader(strings.Join(sentence.Split(req.Text), "\n"))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", e.binary, err)
	}
	e.cmd = cmd
	e.currentID = req.ID

	go func() {
		err := cmd.Wait()

		e.mu.Lock()
		cancelled := e.cancelled[req.ID]
		delete(e.cancelled, req.ID)
		if e.currentID == req.ID {
			e.cmd = nil
			e.currentID = ""
		}
		e.mu.Unlock()

		if cancelled {
			return
		}
		done(req.ID, err)
	}()
	return nil
}

// args maps request parameters onto espeak-ng flags.
func (e *Engine) args(req narrate.Request) []string {
	args := []string{
		"-s", strconv.Itoa(int(float64(baseWordsPerMinute) * req.Rate)),
		"-p", strconv.Itoa(clamp(int(float64(basePitch)*req.Pitch), 0, 99)),
		"-a", strconv.Itoa(clamp(int(float64(baseAmplitude)*req.Volume), 0, 200)),
	}
	if req.Voice != "" && req.Voice != "default" {
		args = append(args, "-v", req.Voice)
	}
	return args
}

// Pause suspends the running subprocess.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signalLocked(syscall.SIGSTOP)
}

// Resume continues a suspended subprocess.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signalLocked(syscall.SIGCONT)
}

func (e *Engine) signalLocked(sig syscall.Signal) error {
	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}
	if err := e.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("signal %s: %w", sig, err)
	}
	return nil
}

// Cancel kills the subprocess for the given request. Its done callback
// will not fire.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelled[id] = true
	if e.currentID == id {
		e.killLocked()
	}
	return nil
}

func (e *Engine) killLocked() {
	if e.cmd != nil && e.cmd.Process != nil {
		if err := e.cmd.Process.Kill(); err != nil {
			e.logger.Debug("kill synthesizer", "err", err)
		}
	}
	if e.currentID != "" {
		e.cancelled[e.currentID] = true
	}
	e.cmd = nil
	e.currentID = ""
}

// IsAvailable reports whether Initialize found the binary.
func (e *Engine) IsAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Shutdown kills any running subprocess and marks the engine unusable.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.killLocked()
	e.available = false
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
