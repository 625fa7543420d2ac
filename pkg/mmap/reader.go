// Package mmap reads files through memory mappings. Index snapshots are
// decoded straight from the mapped pages.
package mmap

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// Reader exposes the contents of a mapped file.
type Reader struct {
	mu     sync.RWMutex
	file   *os.File
	data   []byte
	mapped bool
}

// Open maps filename read-only. An empty file yields an empty reader.
func Open(filename string) (*Reader, error) {
	file, err := os.Open(filename) //nolint:gosec // G304: path chosen by the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open file").
			WithDetail("path", filename)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat file").
			WithDetail("path", filename)
	}
	size := stat.Size()
	if size == 0 {
		return &Reader{file: file}, nil
	}
	if int64(int(size)) != size {
		file.Close()
		return nil, errors.New(errors.ErrorTypeFile, "file too large to map").
			WithDetail("path", filename)
	}

	data, mapped, err := mapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to map file").
			WithDetail("path", filename)
	}
	if mapped {
		// Advisory only.
		_ = adviseSequential(data)
	}
	return &Reader{file: file, data: data, mapped: mapped}, nil
}

// Bytes returns the file contents. The slice is invalid after Close.
func (r *Reader) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

// Len returns the file size.
func (r *Reader) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// NewReader returns a stream over the contents, valid until Close.
func (r *Reader) NewReader() io.Reader {
	return bytes.NewReader(r.Bytes())
}

// Close unmaps and closes the file. It is safe to call more than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.data != nil && r.mapped {
		err = unmap(r.data)
	}
	r.data = nil
	if r.file != nil {
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		r.file = nil
	}
	return err
}
