package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// pytestConfigFiles change test collection or behavior when present in the
// project root.
var pytestConfigFiles = []string{"conftest.py", "pytest.ini", "pyproject.toml", "setup.cfg", "tox.ini"}

// writeField writes a length-prefixed field so concatenated fields cannot
// collide.
func writeField(h hash.Hash, s string) {
	h.Write([]byte(strconv.Itoa(len(s))))
	h.Write([]byte{':'})
	h.Write([]byte(s))
}

// CacheKey identifies one mutant outcome. A change to the target file, the
// mutation, the rest of the project, the command line or the interpreter
// yields a different key.
func CacheKey(target []byte, mutatedLine string, lineNumber int, projectDigest, command, pythonVersion string) string {
	h := sha256.New()
	writeField(h, string(target))
	writeField(h, mutatedLine)
	writeField(h, strconv.Itoa(lineNumber))
	writeField(h, projectDigest)
	writeField(h, command)
	writeField(h, pythonVersion)
	return hex.EncodeToString(h.Sum(nil))
}

// DigestProject hashes what a mutant outcome depends on besides the target
// itself: every Python module that goes into a worker copy, every file
// under the test paths and the pytest config files in root. exclude takes
// the same root-relative paths as NewWorkspace. Files are visited in
// lexical order.
func DigestProject(root string, tests, exclude []string) (string, error) {
	var files []string
	err := walkProject(root, exclude, func(path, _ string, d fs.DirEntry) error {
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), ".py") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to walk project %s: %w", root, err)
	}
	for _, name := range pytestConfigFiles {
		p := filepath.Join(root, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			files = append(files, p)
		}
	}
	for _, t := range tests {
		p := t
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, t)
		}
		// pytest node ids such as tests/test_a.py::test_x name a file.
		if i := strings.Index(p, "::"); i >= 0 {
			p = p[:i]
		}
		err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "__pycache__" {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to walk tests %s: %w", t, err)
		}
	}
	sort.Strings(files)

	h := sha256.New()
	prev := ""
	for _, f := range files {
		if f == prev {
			continue
		}
		prev = f
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", f, err)
		}
		rel, err := filepath.Rel(root, f)
		if err != nil {
			rel = f
		}
		writeField(h, filepath.ToSlash(rel))
		writeField(h, string(data))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
