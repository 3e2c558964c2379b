package audio

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// ObjectStoreAllocator keeps narration in a JetStream object store bucket
// and deletes the object on release.
type ObjectStoreAllocator struct {
	ledger
	bucket   string
	store    nats.ObjectStore
	maxBytes int64
	client   *http.Client
}

func NewObjectStoreAllocator(js nats.JetStreamContext, bucket string, maxBytes int64, client *http.Client) (*ObjectStoreAllocator, error) {
	store, err := js.ObjectStore(bucket)
	if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "Synthesized narration audio",
			Storage:     nats.FileStorage,
			Replicas:    1,
		})
		if err != nil {
			return nil, fmt.Errorf("create object store bucket %q: %w", bucket, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("bind object store bucket %q: %w", bucket, err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ObjectStoreAllocator{bucket: bucket, store: store, maxBytes: maxBytes, client: client}, nil
}

func (o *ObjectStoreAllocator) Acquire(ctx context.Context, source string) (*Handle, error) {
	data, err := download(ctx, o.client, source, o.maxBytes)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if _, err := o.store.PutBytes(id, data); err != nil {
		return nil, fmt.Errorf("put audio %q to bucket %q: %w", id, o.bucket, err)
	}

	h := &Handle{ID: id, Source: source, Size: int64(len(data)), Local: true}
	return o.track(h, func() error {
		if err := o.store.Delete(id); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
			return fmt.Errorf("delete audio %q: %w", id, err)
		}
		return nil
	}), nil
}

func (o *ObjectStoreAllocator) Open(_ context.Context, id string) ([]byte, error) {
	data, err := o.store.GetBytes(id)
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audio %q from bucket %q: %w", id, o.bucket, err)
	}
	return data, nil
}
