package environment

import (
	"bytes"
	"context"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
)

//go:embed scripts/selector.js scripts/xhr.sniffer.js
var vendorFS embed.FS

// vendorFiles is the injection order: selector helper first, then the
// request sniffer.
var vendorFiles = []string{
	"selector.js",
	"xhr.sniffer.js",
}

var (
	vendorOnce  sync.Once
	vendorPaths []string
	vendorErr   error
)

// VendorFilePaths returns absolute paths of the auxiliary scripts every
// driver injects before evaluating page code. The files are written once per
// process into a directory keyed by their content hash.
func VendorFilePaths() ([]string, error) {
	vendorOnce.Do(func() {
		vendorPaths, vendorErr = materializeVendors(os.TempDir())
	})
	if vendorErr != nil {
		return nil, vendorErr
	}
	return append([]string(nil), vendorPaths...), nil
}

func materializeVendors(root string) ([]string, error) {
	contents := make([][]byte, len(vendorFiles))
	h := blake3.New()
	for i, name := range vendorFiles {
		data, err := vendorFS.ReadFile("scripts/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read vendor %s: %w", name, err)
		}
		contents[i] = data
		h.Write(data)
	}

	dir := filepath.Join(root, "goose-vendor-"+hex.EncodeToString(h.Sum(nil))[:16])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vendor directory: %w", err)
	}

	paths := make([]string, len(vendorFiles))
	for i, name := range vendorFiles {
		path := filepath.Join(dir, name)
		if existing, err := os.ReadFile(path); err != nil || !bytes.Equal(existing, contents[i]) {
			if err := os.WriteFile(path, contents[i], 0644); err != nil {
				return nil, fmt.Errorf("failed to write vendor %s: %w", name, err)
			}
		}
		paths[i] = path
	}
	return paths, nil
}

// InjectVendors hands the vendor scripts to env.InjectFiles.
func InjectVendors(ctx context.Context, env Environment) error {
	paths, err := VendorFilePaths()
	if err != nil {
		return err
	}
	return env.InjectFiles(ctx, paths)
}
