// Package legacy implements the LegacyStore port over shell profile files
// that older releases wrote the token into in plaintext.
package legacy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

const (
	// Marker is the comment line older releases wrote above the export.
	Marker = "# Added by CDP Runbooker"

	exportPrefix = "export QUIP_API_TOKEN="

	// minLegacyTokenLen filters out placeholders and truncated values.
	minLegacyTokenLen = 30
)

// Compile-time interface satisfaction check.
var _ driven.LegacyStore = (*ShellProfileStore)(nil)

// ShellProfileStore scans a fixed, ordered list of profile files.
type ShellProfileStore struct {
	files []string
}

// NewShellProfileStore creates a store over the profile files relevant to
// shell: zsh uses .zshrc and .zprofile, bash uses .bashrc and .bash_profile,
// and anything else checks all four.
func NewShellProfileStore(home, shell string) *ShellProfileStore {
	return NewShellProfileStoreForFiles(ProfileFiles(home, shell))
}

// NewShellProfileStoreForFiles creates a store over an explicit file list.
func NewShellProfileStoreForFiles(files []string) *ShellProfileStore {
	return &ShellProfileStore{files: files}
}

// ProfileFiles returns the profile files to inspect for the given shell.
func ProfileFiles(home, shell string) []string {
	var names []string
	switch {
	case strings.Contains(shell, "zsh"):
		names = []string{".zshrc", ".zprofile"}
	case strings.Contains(shell, "bash"):
		names = []string{".bashrc", ".bash_profile"}
	default:
		names = []string{".zshrc", ".bashrc", ".bash_profile", ".zprofile"}
	}

	files := make([]string, 0, len(names))
	for _, n := range names {
		files = append(files, filepath.Join(home, n))
	}
	return files
}

// Scan returns at most one entry per file: the first marker line directly
// followed by a token export.
func (s *ShellProfileStore) Scan(ctx context.Context) ([]model.LegacyEntry, error) {
	var entries []model.LegacyEntry

	for _, path := range s.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", path, err)
		}

		if token, ok := findToken(data); ok {
			entries = append(entries, model.LegacyEntry{Location: path, Token: token})
		}
	}

	return entries, nil
}

// Remove rewrites location without any marker line and the export line
// immediately following it. The file mode is preserved. It reports whether
// anything was stripped; a missing or already-clean file returns false.
func (s *ShellProfileStore) Remove(_ context.Context, location string) (bool, error) {
	info, err := os.Stat(location)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat profile %s: %w", location, err)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return false, fmt.Errorf("read profile %s: %w", location, err)
	}

	cleaned, changed := stripEntries(data)
	if !changed {
		return false, nil
	}

	if err := atomic.WriteFile(location, bytes.NewReader(cleaned)); err != nil {
		return false, fmt.Errorf("rewrite profile %s: %w", location, err)
	}
	if err := os.Chmod(location, info.Mode().Perm()); err != nil {
		return true, fmt.Errorf("restore mode of %s: %w", location, err)
	}
	return true, nil
}

func findToken(data []byte) (string, bool) {
	lines := splitLines(data)
	for i, line := range lines {
		if strings.TrimSpace(line) != Marker || i+1 >= len(lines) {
			continue
		}
		next := strings.TrimSpace(lines[i+1])
		if !strings.HasPrefix(next, exportPrefix) {
			continue
		}
		if token := extractToken(next); len(token) > minLegacyTokenLen {
			return token, true
		}
	}
	return "", false
}

// extractToken returns the value of an export line with matching quotes removed.
func extractToken(line string) string {
	_, value, ok := strings.Cut(line, "=")
	if !ok {
		return ""
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			value = value[1 : len(value)-1]
		}
	}
	return value
}

func stripEntries(data []byte) ([]byte, bool) {
	lines := splitLines(data)
	var out bytes.Buffer
	changed := false

	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == Marker {
			changed = true
			if i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), exportPrefix) {
				i++
			}
			continue
		}
		out.WriteString(lines[i])
	}
	return out.Bytes(), changed
}

// splitLines splits data into lines that keep their terminators. Joining
// the result reproduces data byte for byte, whatever the line lengths.
func splitLines(data []byte) []string {
	var lines []string
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	return lines
}
