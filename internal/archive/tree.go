package archive

import (
	"fmt"

	"github.com/welldanyogia/secure-login/backend/internal/config"
)

// NewTree builds the configured tree. The "none" backend returns a nil tree,
// which callers treat as an absent archive.
func NewTree(cfg *config.ArchiveConfig) (Tree, error) {
	switch cfg.Backend {
	case "", "fs":
		tree, err := NewFileTree(cfg.Path)
		if err != nil {
			return nil, err
		}
		return tree, nil
	case "s3":
		tree, err := NewS3Tree(&cfg.S3)
		if err != nil {
			return nil, err
		}
		return tree, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}
