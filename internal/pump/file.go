// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pump

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const recordingExt = ".ts"

var hostile = strings.NewReplacer("/", "_", "\\", "_", "`", "_", "$", "_", "\x00", "_")

// SanitizeFilename replaces characters that are unsafe in a path or a shell.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(hostile.Replace(name))
	if name == "" || name == "." || name == ".." {
		return "recording"
	}
	return name
}

// LazyFile creates its file on the first Write. The name is sanitized and
// suffixed with _1, _2, ... while a file of that name exists.
type LazyFile struct {
	Dir  string
	Name string
	// OnCreate is called once with the chosen path.
	OnCreate func(path string)

	f    *os.File
	path string
}

func (l *LazyFile) Write(p []byte) (int, error) {
	if l.f == nil {
		f, path, err := createUnique(l.Dir, SanitizeFilename(l.Name))
		if err != nil {
			return 0, err
		}
		l.f, l.path = f, path
		if l.OnCreate != nil {
			l.OnCreate(path)
		}
	}
	return l.f.Write(p)
}

// Path is empty until the first Write.
func (l *LazyFile) Path() string { return l.path }

func (l *LazyFile) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func createUnique(dir, base string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", fmt.Errorf("pump: create %s: %w", dir, err)
	}
	for i := 0; i < 10000; i++ {
		name := base + recordingExt
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, recordingExt)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("pump: create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("pump: no free file name for %q in %s", base, dir)
}
