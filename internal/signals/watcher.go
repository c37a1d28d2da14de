// Package signals lets other processes control background runs by dropping
// files into the workspace signals directory: <runID>.cancel, <runID>.pause
// and <runID>.resume.
package signals

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Action is what a signal file asks the supervisor to do.
type Action string

const (
	ActionCancel Action = "cancel"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
)

// Signal is one parsed signal file.
type Signal struct {
	RunID  string
	Action Action
}

// Controller applies signals to runs. *orchestrator.Supervisor implements it.
type Controller interface {
	Cancel(runID string) error
	Pause(runID string) error
	Resume(runID string) error
}

// pollInterval is used when the directory cannot be watched.
const pollInterval = time.Second

// Dir returns the signals directory of a workspace.
func Dir(workspace string) string {
	return filepath.Join(workspace, ".stepwise", "signals")
}

// ParseSignal parses a signal file name.
func ParseSignal(name string) (Signal, bool) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	runID := strings.TrimSuffix(base, ext)
	if runID == "" || strings.HasPrefix(runID, ".") {
		return Signal{}, false
	}
	switch a := Action(strings.TrimPrefix(ext, ".")); a {
	case ActionCancel, ActionPause, ActionResume:
		return Signal{RunID: runID, Action: a}, true
	default:
		return Signal{}, false
	}
}

// Send writes a signal file for runID into the workspace.
func Send(workspace, runID string, action Action) error {
	if _, ok := ParseSignal(runID + "." + string(action)); !ok {
		return fmt.Errorf("invalid signal %s for run %q", action, runID)
	}
	dir := Dir(workspace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	path := filepath.Join(dir, runID+"."+string(action))
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Watcher applies signal files to a Controller as they appear. A file is
// removed once its signal is applied; signals for unknown runs stay until
// a later Scan.
type Watcher struct {
	dir string
	ctl Controller

	// OnSignal, when set, is called after every applied or failed signal.
	OnSignal func(Signal, error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewWatcher creates the signals directory and starts watching it. When the
// directory cannot be watched, it is polled instead.
func NewWatcher(workspace string, ctl Controller) (*Watcher, error) {
	dir := Dir(workspace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	w := &Watcher{
		dir:     dir,
		ctl:     ctl,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fw.Add(dir); err != nil {
			fw.Close()
		}
	}
	if err != nil {
		log.Printf("[signals] WARNING: cannot watch %s, polling instead: %v", dir, err)
		go w.poll()
		return w, nil
	}
	w.watcher = fw
	go w.watch()
	return w, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

func (w *Watcher) watch() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handle(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[signals] WARNING: watch error: %v", err)
		}
	}
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.Scan()
		}
	}
}

// Scan applies every signal file currently in the directory.
func (w *Watcher) Scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("[signals] WARNING: read %s: %v", w.dir, err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.handle(filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *Watcher) handle(path string) {
	sig, ok := ParseSignal(path)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// A create and a write for the same file arrive as two events.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}

	err := w.apply(sig)
	if err == nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Printf("[signals] WARNING: remove %s: %v", path, rmErr)
		}
		log.Printf("[signals] applied %s to run %s", sig.Action, sig.RunID)
	} else {
		log.Printf("[signals] WARNING: %s run %s: %v", sig.Action, sig.RunID, err)
	}
	if w.OnSignal != nil {
		w.OnSignal(sig, err)
	}
}

func (w *Watcher) apply(sig Signal) error {
	switch sig.Action {
	case ActionCancel:
		return w.ctl.Cancel(sig.RunID)
	case ActionPause:
		return w.ctl.Pause(sig.RunID)
	case ActionResume:
		return w.ctl.Resume(sig.RunID)
	}
	return fmt.Errorf("unknown action %q", sig.Action)
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
		<-w.stopped
	})
	return err
}
