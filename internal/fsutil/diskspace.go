package fsutil

import (
	"fmt"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/openpst/pstbench/internal/monitoring"
)

const fillBlockSize = 1024

// DiskUsage reports the disk usage of a mount. All values are in bytes.
type DiskUsage struct {
	Total uint64
	Free  uint64
	Used  uint64
}

// CurrentDiskUsage returns the disk usage of the filesystem holding path.
// Free is the space available to unprivileged writers.
func CurrentDiskUsage(path string) (DiskUsage, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bavail * bsize
	return DiskUsage{
		Total: total,
		Free:  free,
		Used:  (st.Blocks - st.Bfree) * bsize,
	}, nil
}

// Filler consumes disk space on a mount by writing zero-filled files, used
// to drive a recorder into its low-disk handling. Cleanup removes whatever
// was written, so defer it as soon as the Filler is created.
type Filler struct {
	fsys  FileSystem
	mount string

	mu    sync.Mutex
	files []string
}

// NewFiller creates a Filler writing under mount.
func NewFiller(fsys FileSystem, mount string) *Filler {
	return &Filler{fsys: fsys, mount: mount}
}

// Fill writes a zero-filled file of at least fillBytes, rounded up to a
// whole number of 1 KiB blocks.
func (f *Filler) Fill(fillBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	numBlocks := (fillBytes + fillBlockSize - 1) / fillBlockSize
	path := filepath.Join(f.mount, fmt.Sprintf("zero_%02d.txt", len(f.files)))
	monitoring.Logf("filling %s with %d bytes", path, numBlocks*fillBlockSize)

	w, err := f.fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create fill file %s: %w", path, err)
	}

	buf := make([]byte, fillBlockSize)
	for i := int64(0); i < numBlocks; i++ {
		if _, err := w.Write(buf); err != nil {
			w.Close()
			f.removeQuiet(path)
			return fmt.Errorf("write fill file %s: %w", path, err)
		}
	}
	if err := w.Close(); err != nil {
		f.removeQuiet(path)
		return fmt.Errorf("close fill file %s: %w", path, err)
	}

	f.files = append(f.files, path)
	return nil
}

// Cleanup removes every file the Filler has written. Errors are logged,
// not returned, so cleanup keeps going.
func (f *Filler) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, path := range f.files {
		monitoring.Logf("removing fill file %s", path)
		if err := f.fsys.Remove(path); err != nil {
			monitoring.Logf("error removing fill file %s: %v", path, err)
		}
	}
	f.files = nil
}

func (f *Filler) removeQuiet(path string) {
	if err := f.fsys.Remove(path); err != nil {
		monitoring.Logf("error removing fill file %s: %v", path, err)
	}
}
