package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"warlog-tracker/internal/config"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/fx"
)

// FileSystemStore archives payloads as files under a root directory:
//
//	<root>/
//	  <crc32 in hex>.json
//
// Writes go through a temp file and rename so a crash never leaves a
// half-written archive entry behind.
type FileSystemStore struct {
	root string
}

func NewFileSystemStore(cfg *config.Config) (Store, error) {
	if err := os.MkdirAll(cfg.ArchiveRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &FileSystemStore{root: cfg.ArchiveRoot}, nil
}

func (s *FileSystemStore) path(checksum uint32) string {
	return filepath.Join(s.root, fmt.Sprintf("%08x.json", checksum))
}

func (s *FileSystemStore) Put(checksum uint32, data []byte) error {
	dest := s.path(checksum)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	suffix, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate temp suffix: %w", err)
	}
	tmp := dest + ".tmp." + suffix

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive temp file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move archive entry into place: %w", err)
	}
	return nil
}

func (s *FileSystemStore) Get(checksum uint32) ([]byte, error) {
	data, err := os.ReadFile(s.path(checksum))
	if err != nil {
		return nil, fmt.Errorf("archive entry %08x not readable: %w", checksum, err)
	}
	return data, nil
}

func (s *FileSystemStore) Exists(checksum uint32) (bool, error) {
	if _, err := os.Stat(s.path(checksum)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var Module = fx.Provide(NewFileSystemStore)
