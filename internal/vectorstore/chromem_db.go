package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kgraph/internal/logging"
)

// chromem names collection directories by an 8 hex char hash of the name.
var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// quarantineDir holds collection directories that failed to load.
const quarantineDir = ".quarantine"

// openChromemDB opens a persistent chromem database. A collection whose
// metadata file is missing but which still has documents (an interrupted
// first write) makes chromem refuse the whole directory, so such
// collections are moved to .quarantine and the open is retried once.
func openChromemDB(path string, compress bool, logger *logging.Logger) (*chromem.DB, error) {
	ctx := context.Background()

	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		logger.Info(ctx, "chromem database opened", zap.String("path", path))
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrConnection, path, err)
	}

	corrupt, findErr := findCorruptCollections(ctx, path, logger)
	if findErr != nil {
		logger.Error(ctx, "scanning for corrupt collections", zap.Error(findErr))
		return nil, fmt.Errorf("%w: opening %s: %v", ErrConnection, path, err)
	}
	if len(corrupt) == 0 {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrConnection, path, err)
	}

	qpath := filepath.Join(path, quarantineDir)
	if err := os.MkdirAll(qpath, 0o755); err != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", err)
	}
	for _, dir := range corrupt {
		src := filepath.Join(path, dir)
		dst := filepath.Join(qpath, dir)
		logger.Warn(ctx, "quarantining corrupt collection",
			zap.String("dir", dir),
			zap.String("to", dst),
		)
		if err := os.Rename(src, dst); err != nil {
			logger.Error(ctx, "quarantine failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s after quarantine: %v", ErrConnection, path, err)
	}
	logger.Info(ctx, "chromem database opened after quarantine",
		zap.String("path", path),
		zap.Int("quarantined", len(corrupt)),
	)
	return db, nil
}

// findCorruptCollections lists collection directories with document files
// but no 00000000.gob metadata file.
func findCorruptCollections(ctx context.Context, path string, logger *logging.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var corrupt []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !collectionDirPattern.MatchString(name) {
			continue
		}
		dir := filepath.Join(path, name)
		if _, err := os.Stat(filepath.Join(dir, "00000000.gob")); !os.IsNotExist(err) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn(ctx, "reading collection directory", zap.String("dir", name), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".gob") {
				corrupt = append(corrupt, name)
				break
			}
		}
	}
	return corrupt, nil
}
