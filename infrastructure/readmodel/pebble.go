package readmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/akriventsev/orderflow/infrastructure/idempotency"
)

const (
	pebbleViewPrefix   = "order/"
	pebbleMarkerPrefix = "processed/"
)

// PebbleStore встроенное хранилище представлений на PebbleDB.
// Представление и отметка обработки записываются одним batch.
type PebbleStore struct {
	db   *pebble.DB
	sync bool
}

// NewPebbleStore открывает базу в каталоге dir.
// syncWrites включает fsync на каждую запись.
func NewPebbleStore(dir string, syncWrites bool) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: db, sync: syncWrites}, nil
}

// Close закрывает базу
func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) writeOpts() *pebble.WriteOptions {
	if p.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (p *PebbleStore) Get(ctx context.Context, orderID string) (OrderView, bool, error) {
	v, closer, err := p.db.Get([]byte(pebbleViewPrefix + orderID))
	if errors.Is(err, pebble.ErrNotFound) {
		return OrderView{}, false, nil
	}
	if err != nil {
		return OrderView{}, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	var view OrderView
	if err := json.Unmarshal(v, &view); err != nil {
		return OrderView{}, false, fmt.Errorf("decode view %s: %w", orderID, err)
	}
	return view, true, nil
}

func (p *PebbleStore) Save(ctx context.Context, view OrderView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}
	if err := p.db.Set([]byte(pebbleViewPrefix+view.OrderID), data, p.writeOpts()); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (p *PebbleStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	_, closer, err := p.db.Get([]byte(pebbleMarkerPrefix + eventID))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble get marker: %w", err)
	}
	_ = closer.Close()
	return true, nil
}

// MarkProcessed позволяет использовать PebbleStore как idempotency.Cache
func (p *PebbleStore) MarkProcessed(ctx context.Context, eventID string) error {
	return p.db.Set([]byte(pebbleMarkerPrefix+eventID), []byte(idempotency.ProcessedValue), p.writeOpts())
}

func (p *PebbleStore) SaveAndMark(ctx context.Context, view OrderView, eventID string) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}

	b := p.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(pebbleViewPrefix+view.OrderID), data, nil); err != nil {
		return err
	}
	if err := b.Set([]byte(pebbleMarkerPrefix+eventID), []byte(idempotency.ProcessedValue), nil); err != nil {
		return err
	}
	if err := b.Commit(p.writeOpts()); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	return nil
}

// Range обходит все представления в порядке ключей
func (p *PebbleStore) Range(fn func(view OrderView) error) error {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleViewPrefix),
		UpperBound: []byte("order0"),
	})
	if err != nil {
		return err
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		var view OrderView
		if err := json.Unmarshal(it.Value(), &view); err != nil {
			return err
		}
		if err := fn(view); err != nil {
			return err
		}
	}
	return it.Error()
}
