package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("artifact not found")

// ErrExists is returned by Put when the key already holds data.
var ErrExists = errors.New("artifact already exists")

var ErrInvalidKey = errors.New("invalid artifact key")

// Well-known artifact names within a job's namespace.
const (
	NameInput       = "input.csv"
	NameProfile     = "profile.json"
	NameSuggestions = "suggestions.json"
	NameCleaned     = "cleaned.csv"
	NameReport      = "report.md"
)

// Store holds opaque blobs addressed by key. Keys are write-once.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// DeletePrefix removes every artifact whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key returns the artifact key for name under the job's namespace.
func Key(jobID uuid.UUID, name string) string {
	return path.Join("jobs", jobID.String(), name)
}

// JobPrefix returns the namespace holding every artifact of a job.
func JobPrefix(jobID uuid.UUID) string {
	return "jobs/" + jobID.String() + "/"
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
