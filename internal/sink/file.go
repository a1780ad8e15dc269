package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/diskspace"
	"github.com/rescale/runwatch/internal/fsutil"
)

// FilePublisher writes each message to its own file in a directory.
type FilePublisher struct {
	dir string
}

// NewFilePublisher creates dir if needed.
func NewFilePublisher(dir string) (*FilePublisher, error) {
	if dir == "" {
		return nil, fmt.Errorf("file sink: target directory is required")
	}
	resolved, err := fsutil.ResolvePath(dir)
	if err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	if err := os.MkdirAll(resolved, 0755); err != nil {
		return nil, fmt.Errorf("file sink: failed to create %s: %w", resolved, err)
	}
	return &FilePublisher{dir: resolved}, nil
}

func (p *FilePublisher) Name() string   { return KindFile }
func (p *FilePublisher) Target() string { return p.dir }

// Publish writes to a temp file and renames it so readers never observe a
// partial message.
func (p *FilePublisher) Publish(ctx context.Context, m *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := diskspace.Check(p.dir, int64(len(m.Body)), constants.SinkDiskSafetyMargin); err != nil {
		return err
	}
	path := filepath.Join(p.dir, m.objectName())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, m.Body, 0644); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}
