package content

import (
	"context"
	"time"

	"github.com/marmos91/dittocgi/pkg/metrics"
)

// instrumented records every operation of a Store.
type instrumented struct {
	inner   Store
	name    string
	metrics metrics.ContentMetrics
}

// Instrument wraps s so each operation is reported to m under the store
// label name. A nil m returns s unchanged.
func Instrument(s Store, name string, m metrics.ContentMetrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{inner: s, name: name, metrics: m}
}

func (i *instrumented) Get(ctx context.Context, key string) (data []byte, obj Object, err error) {
	start := time.Now()
	defer func() {
		i.metrics.RecordOperation(i.name, "get", time.Since(start), err)
		if err == nil {
			i.metrics.RecordBytesRead(i.name, int64(len(data)))
		}
	}()
	return i.inner.Get(ctx, key)
}

func (i *instrumented) Stat(ctx context.Context, key string) (obj Object, err error) {
	start := time.Now()
	defer func() { i.metrics.RecordOperation(i.name, "stat", time.Since(start), err) }()
	return i.inner.Stat(ctx, key)
}

func (i *instrumented) Put(ctx context.Context, key string, data []byte, contentType string) (err error) {
	start := time.Now()
	defer func() { i.metrics.RecordOperation(i.name, "put", time.Since(start), err) }()
	return i.inner.Put(ctx, key, data, contentType)
}

func (i *instrumented) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { i.metrics.RecordOperation(i.name, "delete", time.Since(start), err) }()
	return i.inner.Delete(ctx, key)
}

func (i *instrumented) List(ctx context.Context, prefix string) (objs []Object, err error) {
	start := time.Now()
	defer func() { i.metrics.RecordOperation(i.name, "list", time.Since(start), err) }()
	return i.inner.List(ctx, prefix)
}

func (i *instrumented) Close() error {
	return i.inner.Close()
}
