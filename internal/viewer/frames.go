package viewer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgnsrekt/RemoteLoginCore/internal/screencast"
)

// WriteFrame replaces path with the frame's image. Readers never observe a
// partially written file.
func WriteFrame(path string, f screencast.Frame) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("viewer: frame %d is empty", f.Seq)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".frame-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(f.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
