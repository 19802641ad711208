// util/store.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrRecorderClosed = errors.New("recorder closed")

// StoreObject writes obj to path as zstd-compressed msgpack, creating
// parent directories as needed.
func StoreObject(path string, obj any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := msgpack.NewEncoder(zw).Encode(obj); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// RetrieveObject decodes an object previously written by StoreObject.
func RetrieveObject(path string, obj any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return err
	}
	defer zr.Close()

	return msgpack.NewDecoder(zr).Decode(obj)
}

///////////////////////////////////////////////////////////////////////////
// Recorder

// Recorder appends a stream of msgpack-encoded values to a single zstd
// frame. It is safe for concurrent use; the engine driver records one
// snapshot per tick while the status server may be reading snapshots
// concurrently.
type Recorder struct {
	mu     sync.Mutex
	w      io.WriteCloser
	zw     *zstd.Encoder
	enc    *msgpack.Encoder
	count  int
	closed bool
}

func NewRecorder(w io.WriteCloser) (*Recorder, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &Recorder{w: w, zw: zw, enc: msgpack.NewEncoder(zw)}, nil
}

// CreateRecorder is a convenience wrapper that records to a new file.
func CreateRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) Record(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	if err := r.enc.Encode(v); err != nil {
		return err
	}
	r.count++
	return nil
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	err := r.zw.Close()
	if cerr := r.w.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadRecording decodes every value in a recording made by Recorder,
// calling fn with a decoder positioned at each one. fn should decode
// exactly one value.
func ReadRecording(rd io.Reader, fn func(dec *msgpack.Decoder) error) error {
	zr, err := zstd.NewReader(rd)
	if err != nil {
		return err
	}
	defer zr.Close()

	dec := msgpack.NewDecoder(zr)
	for {
		if _, err := dec.PeekCode(); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if err := fn(dec); err != nil {
			return err
		}
	}
}
