// Package matterloader batches matter lookups made while serving one request.
package matterloader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rpattn/matters/internal/domain"
)

// Fetcher loads matters by id. Missing ids are left out of the result.
type Fetcher interface {
	GetMattersByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Matter, error)
}

type MatterLoader struct {
	Loader *dataloader.Loader
}

func NewMatterLoader(fetcher Fetcher) *MatterLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		ids := make([]uuid.UUID, 0, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: goerr.Wrap(err, "invalid matter id", goerr.V("key", k.String()))}
				continue
			}
			ids = append(ids, id)
		}

		matters, err := fetcher.GetMattersByIDs(ctx, ids)
		if err != nil {
			for i := range results {
				if results[i] == nil {
					results[i] = &dataloader.Result{Error: err}
				}
			}
			return results
		}

		byID := make(map[uuid.UUID]domain.Matter, len(matters))
		for _, m := range matters {
			byID[m.ID] = m
		}

		// Results must line up with keys.
		for i, k := range keys {
			if results[i] != nil {
				continue
			}
			id, _ := uuid.Parse(k.String())
			if m, ok := byID[id]; ok {
				matter := m
				results[i] = &dataloader.Result{Data: &matter}
			} else {
				results[i] = &dataloader.Result{Data: (*domain.Matter)(nil)}
			}
		}

		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &MatterLoader{Loader: loader}
}

// Load returns the matter for id, or nil when it does not exist.
func (l *MatterLoader) Load(ctx context.Context, id uuid.UUID) (*domain.Matter, error) {
	data, err := l.Loader.Load(ctx, dataloader.StringKey(id.String()))()
	if err != nil {
		return nil, err
	}
	matter, _ := data.(*domain.Matter)
	return matter, nil
}

// LoadMany resolves ids in one batch. Missing matters are nil entries.
func (l *MatterLoader) LoadMany(ctx context.Context, ids []uuid.UUID) ([]*domain.Matter, error) {
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}

	data, errs := l.Loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	matters := make([]*domain.Matter, len(data))
	for i, d := range data {
		matters[i], _ = d.(*domain.Matter)
	}
	return matters, nil
}
