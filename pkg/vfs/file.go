package vfs

import (
	"context"
	"io"
)

// ReadFile returns the full contents of the regular file at p.
func (fs *FS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	h, err := fs.Open(ctx, p, FlagRead)
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Close() }()

	data, err := io.ReadAll(h)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile replaces the contents of the file at p, creating it when
// missing. The parent directory must exist.
func (fs *FS) WriteFile(ctx context.Context, p string, data []byte) error {
	h, err := fs.Open(ctx, p, FlagWrite|FlagCreate|FlagTrunc)
	if err != nil {
		return err
	}
	if _, err := h.Write(data); err != nil {
		_ = h.Close()
		return err
	}
	return h.Close()
}
