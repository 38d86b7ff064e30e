//go:build !gcp

package objstore

import (
	"context"
	"errors"
)

func newGCS(ctx context.Context, bucket, prefix string) (Store, error) {
	return nil, errors.New("objstore: gcs backend requires building with the gcp tag")
}
