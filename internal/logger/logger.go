// Package logger routes the standard logger to stdout plus a size-rotated
// file, so a long-running trader keeps a bounded on-disk history.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Rotator is an io.Writer that rotates its file once it grows past MaxSize
// bytes, keeping up to MaxBackups numbered backups (trader.log.1 is newest).
type Rotator struct {
	Filename   string
	MaxSize    int64
	MaxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// Setup points the standard logger at stdout and a rotating file. If the file
// cannot be opened the trader still runs with stdout only.
func Setup(filename string, maxSizeMB int64, maxBackups int) {
	r := &Rotator{
		Filename:   filename,
		MaxSize:    maxSizeMB * 1024 * 1024,
		MaxBackups: maxBackups,
	}
	if err := r.open(); err != nil {
		log.Printf("Failed to open log file, using stdout only: %v", err)
		return
	}

	log.SetOutput(io.MultiWriter(os.Stdout, r))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// open attaches to an existing log file in append mode, or creates it.
func (r *Rotator) open() error {
	info, err := os.Stat(r.Filename)
	if os.IsNotExist(err) {
		return r.create()
	}
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) create() error {
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			// Keep writing to the oversized file rather than drop logs.
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate shifts trader.log.N to trader.log.N+1, moves the live file to .1 and
// starts a fresh one. The oldest backup falls off the end.
func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
	}

	for i := r.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", r.Filename, i)
		if _, err := os.Stat(oldPath); os.IsNotExist(err) {
			continue
		}
		os.Rename(oldPath, fmt.Sprintf("%s.%d", r.Filename, i+1))
	}
	if _, err := os.Stat(r.Filename); err == nil {
		os.Rename(r.Filename, r.Filename+".1")
	}

	return r.create()
}
