// Package storage resolves and opens the files of a model bundle: grammars,
// language models and weights laid out next to a config file.
package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Storage wraps the model bundle folder.
type Storage struct {
	Folder string
}

// NewStorage creates a Storage for the given bundle folder.
func NewStorage(folder string) *Storage {
	return &Storage{Folder: folder}
}

// Path resolves name against the folder. Absolute names and the empty name
// are returned unchanged.
func (s *Storage) Path(name string) string {
	if name == "" || filepath.IsAbs(name) || s.Folder == "" {
		return name
	}
	return filepath.Join(s.Folder, name)
}

// Exists reports whether name resolves to an existing file or directory.
func (s *Storage) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Open opens name for reading. Gzip-compressed files are decompressed
// transparently, whatever their extension.
func (s *Storage) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if !bytes.Equal(head, gzipMagic) {
		return &file{Reader: br, f: f}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gunzip %s: %w", name, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type file struct {
	io.Reader
	f *os.File
}

func (r *file) Close() error {
	return r.f.Close()
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (r *gzipFile) Close() error {
	zerr := r.Reader.Close()
	if err := r.f.Close(); err != nil {
		return err
	}
	return zerr
}

// Find looks for name in the current directory and its parents, stopping at
// the module root (where go.mod lives).
func Find(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		// Stop at module root
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found", name)
}
