// Package docstore runs read-only queries against a document collection.
// Fields whose stored type varies between documents are queried through a
// normalized numeric shadow field so that find, aggregate and count agree.
package docstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrInvalidArgument marks caller mistakes such as malformed filters.
var ErrInvalidArgument = errors.New("invalid argument")

// Backend executes aggregation pipelines against a named collection.
// Every read the service performs is expressed as a pipeline.
type Backend interface {
	Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]bson.M, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
