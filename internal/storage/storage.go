// Package storage defines the object store surface used for result
// archival, plus the key layout archived results live under.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildResultPath lays archived results out by connection and day so they
// can be pruned or scanned per connection.
func BuildResultPath(connectionID, requestID string, completedAt time.Time) (string, error) {
	if err := validateKeyComponent(connectionID, "connection id"); err != nil {
		return "", err
	}
	if err := validateKeyComponent(requestID, "request id"); err != nil {
		return "", err
	}
	ts := completedAt.UTC()
	return path.Join(
		"results",
		connectionID,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		requestID+".parquet",
	), nil
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
