package pagestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const pageExt = ".wiki"

// Dir stores each page as <root>/<key>.wiki. Change summaries and
// actors have no representation on a plain filesystem and are dropped.
type Dir struct {
	Root string
}

// NewDir creates the root directory if needed and returns the store.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	return &Dir{Root: root}, nil
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.Root, key+pageExt)
}

// List returns the keys of all pages in the directory, sorted.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), pageExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), pageExt))
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Dir) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(d.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d *Dir) ReadBody(ctx context.Context, key string) (string, error) {
	data, err := os.ReadFile(d.path(key))
	if err != nil {
		return "", fmt.Errorf("read page %s: %w", key, err)
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("page %s: %w", key, ErrNotText)
	}
	return string(data), nil
}

func (d *Dir) ReplaceBody(ctx context.Context, key, body, summary, actor string) error {
	if err := os.WriteFile(d.path(key), []byte(body), 0644); err != nil {
		return fmt.Errorf("write page %s: %w", key, err)
	}
	return nil
}
