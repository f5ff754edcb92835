package log

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "2006-01-02T15-04-05.000"

// AsyncFileWriter buffers writes in memory and flushes them to disk on a
// background goroutine, rotating to a timestamped backup file every
// rotateHours hours and pruning backups beyond maxBackups. It implements
// io.Writer so it can be handed to slog.NewJSONHandler or a terminal
// handler as the log sink for long-running hosts that embed cachekit.
type AsyncFileWriter struct {
	filePath    string
	maxBackups  int
	rotateHours uint
	flushSecs   uint

	mu      sync.Mutex
	buf     bytes.Buffer
	file    *os.File
	rotated time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAsyncFileWriter constructs a writer for filePath, keeping at most
// maxBackups rotated files and rotating every rotateHours hours. flushSecs
// controls how often the in-memory buffer is flushed to disk.
func NewAsyncFileWriter(filePath string, flushSecs uint, maxBackups int, rotateHours uint) *AsyncFileWriter {
	if rotateHours == 0 {
		rotateHours = 24
	}
	return &AsyncFileWriter{
		filePath:    filePath,
		maxBackups:  maxBackups,
		rotateHours: rotateHours,
		flushSecs:   flushSecs,
	}
}

// Write appends p to the in-memory buffer. It never blocks on I/O.
func (w *AsyncFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// Start opens the backing file and launches the flush/rotate loop.
func (w *AsyncFileWriter) Start() error {
	if err := os.MkdirAll(filepath.Dir(w.filePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.rotated = now()
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	interval := time.Duration(w.flushSecs) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	go w.loop(interval)
	return nil
}

func (w *AsyncFileWriter) loop(interval time.Duration) {
	defer close(w.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush()
			w.rotateIfDue()
		case <-w.stopCh:
			w.flush()
			return
		}
	}
}

func (w *AsyncFileWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 || w.file == nil {
		return
	}
	_, _ = w.file.Write(w.buf.Bytes())
	w.buf.Reset()
}

func (w *AsyncFileWriter) rotateIfDue() {
	w.mu.Lock()
	due := now().Sub(w.rotated) >= time.Duration(w.rotateHours)*time.Hour
	w.mu.Unlock()
	if due {
		w.rotate()
	}
}

func (w *AsyncFileWriter) rotate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	_ = w.file.Close()
	backup := w.filePath + "." + now().Format(backupTimeFormat)
	_ = os.Rename(w.filePath, backup)

	f, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		w.file = f
	}
	w.rotated = now()
	w.removeExpiredFileLocked()
}

// Stop flushes any buffered data, closes the backing file, and stops the
// background loop. It is a no-op if Start was never called; after a
// Start, Stop may be called only once (a second call panics).
func (w *AsyncFileWriter) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
}

// getNextRotationHour returns the next hour-of-day (0-23) at which a
// rotation boundary lands, delta hours after now.
func getNextRotationHour(t time.Time, delta uint) int {
	return t.Add(time.Duration(delta) * time.Hour).Hour()
}

// backupFiles lists this writer's rotated backups, oldest first.
func (w *AsyncFileWriter) backupFiles() []string {
	dir := filepath.Dir(w.filePath)
	base := filepath.Base(w.filePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, base+".") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files
}

// getExpiredFile returns the oldest backup once more than maxBackups
// exist for filePath, or "" if pruning isn't due yet.
func (w *AsyncFileWriter) getExpiredFile(_ string, maxBackups int, _ uint) string {
	files := w.backupFiles()
	if maxBackups <= 0 || len(files) <= maxBackups {
		return ""
	}
	return files[0]
}

func (w *AsyncFileWriter) removeExpiredFile() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeExpiredFileLocked()
}

func (w *AsyncFileWriter) removeExpiredFileLocked() {
	for {
		files := w.backupFiles()
		if w.maxBackups <= 0 || len(files) <= w.maxBackups {
			return
		}
		if err := os.Remove(files[0]); err != nil {
			return
		}
	}
}
