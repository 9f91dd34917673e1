package speech

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileSource returns an AudioOpener for path.
//
// A regular file is consumed once across all sessions: each open resumes at
// the offset the previous session stopped reading at, and once the whole
// file has been read further opens fail with [ErrSourceExhausted]. Any other
// file (a FIFO or a capture device) is reopened for every session.
//
// Opening honours ctx, so a FIFO without a writer does not hold up a stop.
func FileSource(path string) AudioOpener {
	s := &fileSource{path: path}
	return s.open
}

type fileSource struct {
	path string

	mu     sync.Mutex
	opened bool
	offset int64
}

func (s *fileSource) open(ctx context.Context) (io.ReadCloser, error) {
	f, err := openContext(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("speech: open audio source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("speech: stat audio source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return f, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened && s.offset >= info.Size() {
		_ = f.Close()
		return nil, ErrSourceExhausted
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("speech: seek audio source: %w", err)
	}
	s.opened = true
	return &offsetReader{f: f, src: s}, nil
}

// offsetReader advances the shared offset as audio is read.
type offsetReader struct {
	f   *os.File
	src *fileSource
}

func (r *offsetReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if n > 0 {
		r.src.mu.Lock()
		r.src.offset += int64(n)
		r.src.mu.Unlock()
	}
	return n, err
}

func (r *offsetReader) Close() error { return r.f.Close() }

// openContext opens path in the background and gives up when ctx ends. A file
// that opens after ctx ended is closed again.
func openContext(ctx context.Context, path string) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := os.Open(path)
		done <- result{f, err}
	}()

	select {
	case r := <-done:
		return r.f, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.f != nil {
				_ = r.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
