//go:build gcp

package objstore

import "context"

func newGCS(ctx context.Context, bucket, prefix string) (Store, error) {
	return NewGCSStore(ctx, bucket, prefix)
}
