package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hyperjump/chatdigest/pkg/utils"
)

const recordExt = ".yaml"

// DiskBackend keeps one YAML file per record under dir/<chat>/<stage>/<key>.yaml.
type DiskBackend struct {
	dir string
}

// NewDiskBackend returns a backend rooted at dir, creating it if needed.
func NewDiskBackend(dir string) (*DiskBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &DiskBackend{dir: dir}, nil
}

// Dir returns the root directory.
func (d *DiskBackend) Dir() string {
	return d.dir
}

func (d *DiskBackend) bucketDir(b Bucket) string {
	return filepath.Join(d.dir, b.Chat, b.Stage)
}

func (d *DiskBackend) path(b Bucket, key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid record key %q", key)
	}
	return filepath.Join(d.bucketDir(b), key+recordExt), nil
}

// Read returns the stored bytes for key.
func (d *DiskBackend) Read(ctx context.Context, b Bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.path(b, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", b, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces the record for key via a synced temp file renamed over the target.
func (d *DiskBackend) Write(ctx context.Context, b Bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := d.path(b, key)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(p, data, 0644)
}

// Keys lists record keys in the bucket, ascending. A missing bucket has no keys.
func (d *DiskBackend) Keys(ctx context.Context, b Bucket) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.bucketDir(b))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", b, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordExt))
	}
	slices.Sort(keys)
	return keys, nil
}

// Close is a no-op.
func (d *DiskBackend) Close() error {
	return nil
}

// UsageBytes sums the sizes of the regular files at or below each path.
// Empty and missing paths count as zero.
func UsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, root := range paths {
		if root == "" {
			continue
		}
		err := filepath.WalkDir(root, func(p string, de fs.DirEntry, err error) error {
			if err != nil {
				if p == root && errors.Is(err, fs.ErrNotExist) {
					return fs.SkipAll
				}
				return err
			}
			if !de.Type().IsRegular() {
				return nil
			}
			info, err := de.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to measure %s: %w", root, err)
		}
	}
	return total, nil
}
