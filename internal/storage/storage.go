// Package storage is the persistence gateway for benchmark results and timed
// messages: whole-document JSON reads and writes over an opaque blob store,
// plus opaque media upload. There is no partial update and no optimistic
// concurrency; concurrent writers lose updates (last write wins) and callers
// must not assume otherwise.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// Document keys for the two logical stores.
const (
	ResultsKey  = "test-results.json"
	MessagesKey = "timedMessages.json"
)

// ErrInvalidMediaName is returned when a caller-supplied owner ID or
// filename cannot be used as a single path component under the media tree.
var ErrInvalidMediaName = fmt.Errorf("invalid media path component")

// mediaComponent validates one caller-supplied segment of a media key.
// Owner IDs and filenames arrive straight from the request, so anything
// that could traverse out of the media tree is rejected.
func mediaComponent(s string) (string, error) {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaName, s)
	}
	return s, nil
}

// Gateway abstracts the flat JSON-document persistence used by the service.
//
// ReadResults and ReadMessages return an empty store when no document exists
// yet; "not found" is never an error. Writes replace the full document and
// propagate failures to the caller without retrying.
type Gateway interface {
	ReadResults(ctx context.Context) (models.ResultStore, error)
	WriteResults(ctx context.Context, store models.ResultStore) error

	ReadMessages(ctx context.Context) (*models.MessageStore, error)
	WriteMessages(ctx context.Context, store *models.MessageStore) error

	// StoreMedia stores an opaque blob and returns a stable retrieval URL.
	// No deduplication and no size limit at this layer.
	StoreMedia(ctx context.Context, data []byte, contentType, ownerID, filename string) (string, error)

	// Ping performs a cheap reachability probe for health checks.
	Ping(ctx context.Context) error
}
