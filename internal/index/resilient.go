package index

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

var collectionHashPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// newResilientDB opens the chromem store. A collection directory missing
// its metadata file is moved to .quarantine so the rest of the store loads;
// its documents are then recovered by re-ingesting.
func newResilientDB(path string, compress bool, logger *zap.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(path, logger)
	if findErr != nil || len(corrupt) == 0 {
		return nil, err
	}

	quarantine := filepath.Join(path, ".quarantine")
	if mkErr := os.MkdirAll(quarantine, 0o700); mkErr != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", mkErr)
	}
	for _, hash := range corrupt {
		if !collectionHashPattern.MatchString(hash) {
			logger.Error("invalid collection hash format, skipping", zap.String("hash", hash))
			continue
		}
		src := filepath.Join(path, hash)
		dst := filepath.Join(quarantine, hash)
		logger.Warn("quarantining corrupt collection",
			zap.String("collection_hash", hash),
			zap.String("to", dst))
		if err := os.Rename(src, dst); err != nil {
			quarantineOperations.WithLabelValues("error").Inc()
			logger.Error("failed to quarantine collection", zap.String("collection_hash", hash), zap.Error(err))
			continue
		}
		quarantineOperations.WithLabelValues("success").Inc()
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, err
	}
	logger.Warn("vector store loaded after quarantine", zap.Int("quarantined", len(corrupt)))
	return db, nil
}

// findCorruptCollections lists collection directories that hold document
// files but no metadata file.
func findCorruptCollections(path string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "00000000.gob")); !os.IsNotExist(err) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("failed to read collection directory", zap.String("collection_hash", entry.Name()), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".gob") {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}
