package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go-synth/config"
)

// PackageLogger writes one port's build output to its own per-origin log
// file, spec.md §4.6's "worker output is captured into a per-origin log
// file" requirement. portDir's slashes are replaced with "___" to keep the
// log a flat file under cfg.LogsPath (e.g. "devel/git" -> "devel___git.log").
type PackageLogger struct {
	cfg     *config.Config
	portDir string

	mu   sync.Mutex
	file *os.File
}

// NewPackageLogger opens (creating if needed) the log file for portDir
// under cfg.LogsPath. A failure to open is swallowed, not returned: every
// PackageLogger method tolerates a nil file so a logging failure never
// aborts a build (mirrors the teacher's Logger.Close()'s own best-effort
// tolerance of a missing file).
func NewPackageLogger(cfg *config.Config, portDir string) *PackageLogger {
	pl := &PackageLogger{cfg: cfg, portDir: portDir}

	name := strings.ReplaceAll(portDir, "/", "___") + ".log"
	path := filepath.Join(cfg.LogsPath, name)

	if err := os.MkdirAll(cfg.LogsPath, 0o755); err == nil {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
			pl.file = f
		}
	}

	return pl
}

// Write implements io.Writer, for wiring into environment.ExecCommand's
// Stdout/Stderr (build/phases.go's loggerWriter pattern).
func (pl *PackageLogger) Write(p []byte) (int, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return len(p), nil
	}
	n, err := pl.file.Write(p)
	pl.file.Sync()
	return n, err
}

// WriteString writes msg verbatim, with no added prefix or framing.
func (pl *PackageLogger) WriteString(msg string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return
	}
	fmt.Fprint(pl.file, msg)
	pl.file.Sync()
}

// WriteCommand records an external command about to be dispatched.
func (pl *PackageLogger) WriteCommand(cmd string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return
	}
	fmt.Fprintf(pl.file, ">>> %s\n", cmd)
	pl.file.Sync()
}

// WriteWarning records a non-fatal condition.
func (pl *PackageLogger) WriteWarning(msg string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return
	}
	fmt.Fprintf(pl.file, "WARNING: %s\n", msg)
	pl.file.Sync()
}

// WriteError records a fatal condition.
func (pl *PackageLogger) WriteError(msg string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return
	}
	fmt.Fprintf(pl.file, "ERROR: %s\n", msg)
	pl.file.Sync()
}

// Close closes the underlying file, if one was opened. Safe to call more
// than once.
func (pl *PackageLogger) Close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.file == nil {
		return nil
	}
	err := pl.file.Close()
	pl.file = nil
	return err
}
