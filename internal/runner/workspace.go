package runner

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mutiny/internal/logging"
)

// skippedDirs are never copied into a worker workspace.
var skippedDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	"__pycache__":   true,
	".mutiny":       true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".ruff_cache":   true,
	".tox":          true,
	".nox":          true,
	".venv":         true,
	"venv":          true,
	"node_modules":  true,
}

// Workspace is a private copy of the project owned by one worker. Mutants
// are written into the copy, so the user's tree is never modified.
type Workspace struct {
	Root string

	target   string
	original []byte
}

// NewWorkspace copies src into a fresh directory under parent. exclude
// holds src-relative paths (such as the output directory) that are skipped
// in addition to the usual caches and virtualenvs. target is the
// src-relative path of the file under mutation.
func NewWorkspace(src, parent, target string, exclude []string) (*Workspace, error) {
	root, err := os.MkdirTemp(parent, "worker-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := copyTree(src, root, exclude); err != nil {
		os.RemoveAll(root)
		return nil, err
	}

	ws := &Workspace{Root: root, target: filepath.Join(root, target)}
	ws.original, err = os.ReadFile(ws.target)
	if err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("target %s missing from workspace copy: %w", target, err)
	}
	logging.RunnerDebug("Workspace ready: %s", root)
	return ws, nil
}

// Write replaces the target file content.
func (w *Workspace) Write(content []byte) error {
	if err := os.WriteFile(w.target, content, 0644); err != nil {
		return fmt.Errorf("failed to write mutant to %s: %w", w.target, err)
	}
	return nil
}

// Restore puts the unmutated target back.
func (w *Workspace) Restore() error {
	return w.Write(w.original)
}

// Remove deletes the workspace directory.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Root)
}

// walkProject visits every entry of src that belongs in a worker copy:
// caches, virtualenvs and excluded paths are skipped.
func walkProject(src string, exclude []string, fn func(path, rel string, d fs.DirEntry) error) error {
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		if e == "" {
			continue
		}
		excluded[filepath.Clean(e)] = true
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded[rel] || (d.IsDir() && (skippedDirs[d.Name()] || isVirtualenv(path))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), ".pyc") {
			return nil
		}
		return fn(path, rel, d)
	})
}

func copyTree(src, dst string, exclude []string) error {
	return walkProject(src, exclude, func(path, rel string, d fs.DirEntry) error {
		out := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(out, 0755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, out)
		case d.Type().IsRegular():
			return copyFile(path, out)
		}
		return nil
	})
}

func isVirtualenv(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "pyvenv.cfg"))
	return err == nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
