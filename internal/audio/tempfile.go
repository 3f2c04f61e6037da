package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TempBuffer is a session-scoped, append-only audio file.
// The file is created lazily on the first Append and removed by Remove.
type TempBuffer struct {
	path string

	mu      sync.Mutex
	file    *os.File
	written int64
	chunks  int
	removed bool
}

// NewTempBuffer reserves a unique path in dir (os.TempDir when empty).
// Nothing is created on disk until the first Append.
func NewTempBuffer(dir, ext string) *TempBuffer {
	if dir == "" {
		dir = os.TempDir()
	}
	if ext == "" {
		ext = "mp3"
	}
	name := fmt.Sprintf("speech-%d-%s.%s", time.Now().UnixNano(), uuid.New().String()[:8], ext)
	return &TempBuffer{path: filepath.Join(dir, name)}
}

// Path returns the buffer's file path
func (b *TempBuffer) Path() string {
	return b.path
}

// Append writes p at the end of the buffer, creating the file on first use
func (b *TempBuffer) Append(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.removed {
		return 0, fmt.Errorf("append to removed buffer %s", b.path)
	}
	if b.file == nil {
		f, err := os.OpenFile(b.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return 0, fmt.Errorf("create buffer: %w", err)
		}
		b.file = f
	}

	n, err := b.file.Write(p)
	b.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write buffer: %w", err)
	}
	b.chunks++
	return n, nil
}

// Size returns the number of bytes appended so far
func (b *TempBuffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Chunks returns the number of successful appends
func (b *TempBuffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks
}

// Exists reports whether the buffer file is present on disk
func (b *TempBuffer) Exists() bool {
	_, err := os.Stat(b.path)
	return err == nil
}

// Remove closes and deletes the buffer file. Calling it again, or on a buffer
// that was never written, is a no-op.
func (b *TempBuffer) Remove() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.removed {
		return nil
	}
	b.removed = true

	var closeErr error
	if b.file != nil {
		closeErr = b.file.Close()
		b.file = nil
	}

	if err := os.Remove(b.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove buffer: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close buffer: %w", closeErr)
	}
	return nil
}
