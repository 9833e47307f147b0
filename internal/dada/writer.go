package dada

import (
	"fmt"
	"path/filepath"

	"github.com/openpst/pstbench/internal/fsutil"
)

// WriteFile writes one artefact file: the encoded header followed by the
// payload. HDR_SIZE and FILE_SIZE are filled in if not already set.
func WriteFile(fsys fsutil.FileSystem, path string, hdr *Header, payload []byte) error {
	if _, ok := hdr.Get(KeyHdrSize); !ok {
		hdr.SetInt(KeyHdrSize, DefaultHeaderSize)
	}
	if _, ok := hdr.Get(KeyFileSize); !ok {
		hdr.SetInt(KeyFileSize, int64(hdr.HeaderSize())+int64(len(payload)))
	}

	block, err := hdr.Encode()
	if err != nil {
		return fmt.Errorf("encode header for %s: %w", path, err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artefact directory: %w", err)
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create artefact %s: %w", path, err)
	}
	if _, err := f.Write(block); err != nil {
		f.Close()
		return fmt.Errorf("write artefact %s: %w", path, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("write artefact %s: %w", path, err)
	}
	return f.Close()
}

// FileName returns the canonical artefact file name for a payload offset
// within a scan.
func FileName(utcStart string, obsOffset int64, fileNumber int) string {
	return fmt.Sprintf("%s_%016d_%06d.dada", utcStart, obsOffset, fileNumber)
}
