package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BluceCao2018/funbenchmark.com/pkg/logging"
	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// FileGateway persists the JSON documents as flat files under a data
// directory, with media blobs under <dataDir>/media. Used when no bucket is
// configured, and by tests. Same contract as the S3 gateway: whole-document
// replace, last writer wins.
type FileGateway struct {
	dataDir   string
	publicURL string
	logger    logging.Logger
}

// NewFileGateway creates a file-backed gateway rooted at dataDir.
func NewFileGateway(dataDir, publicURL string, logger logging.Logger) (*FileGateway, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileGateway{dataDir: dataDir, publicURL: publicURL, logger: logger}, nil
}

func (g *FileGateway) readDocument(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // empty initial store
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (g *FileGateway) writeDocument(path string, doc interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadResults returns the persisted result store, empty when absent.
func (g *FileGateway) ReadResults(ctx context.Context) (models.ResultStore, error) {
	store := models.ResultStore{}
	if err := g.readDocument(filepath.Join(g.dataDir, ResultsKey), &store); err != nil {
		return nil, err
	}
	if store == nil {
		store = models.ResultStore{}
	}
	return store, nil
}

// WriteResults replaces the persisted result store.
func (g *FileGateway) WriteResults(ctx context.Context, store models.ResultStore) error {
	return g.writeDocument(filepath.Join(g.dataDir, ResultsKey), store)
}

// ReadMessages returns the persisted message store, empty when absent.
func (g *FileGateway) ReadMessages(ctx context.Context) (*models.MessageStore, error) {
	store := &models.MessageStore{}
	if err := g.readDocument(filepath.Join(g.dataDir, MessagesKey), store); err != nil {
		return nil, err
	}
	return store, nil
}

// WriteMessages replaces the persisted message store.
func (g *FileGateway) WriteMessages(ctx context.Context, store *models.MessageStore) error {
	return g.writeDocument(filepath.Join(g.dataDir, MessagesKey), store)
}

// StoreMedia writes a media blob under the data dir and returns its URL.
func (g *FileGateway) StoreMedia(ctx context.Context, data []byte, contentType, ownerID, filename string) (string, error) {
	owner, err := mediaComponent(ownerID)
	if err != nil {
		return "", err
	}
	base, err := mediaComponent(filename)
	if err != nil {
		return "", err
	}

	rel := filepath.Join("media", owner)
	dir := filepath.Join(g.dataDir, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), base)
	target := filepath.Join(dir, name)
	if inside, err := filepath.Rel(g.dataDir, target); err != nil || strings.HasPrefix(inside, "..") {
		return "", ErrInvalidMediaName
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to store media: %w", err)
	}

	return strings.TrimSuffix(g.publicURL, "/") + "/" + rel + "/" + name, nil
}

// Ping verifies the data directory is accessible.
func (g *FileGateway) Ping(ctx context.Context) error {
	if _, err := os.Stat(g.dataDir); err != nil {
		return fmt.Errorf("data dir unreachable: %w", err)
	}
	return nil
}
