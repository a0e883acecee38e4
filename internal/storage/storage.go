// Package storage abstracts the object store holding the dataset snapshot
// files consumed by the embedded query engine.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns the objects under a key prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
