// Package directory implements the storage-first read-through cache of
// room summaries the GlobalLobby publishes to clients browsing public
// rooms. Storage-first means every mutation persists before the in-memory
// cache is considered authoritative, so a broadcast can always be
// reconstructed from a subsequent storage read even if the process
// publishing it hibernates between the write and the broadcast.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/dicee-dev/dicee-server/internal/v1/storage"
)

// Entry is the persisted directory record for one room.
type Entry struct {
	Code           protocol.RoomIdType `json:"code"`
	Status         string              `json:"status"`
	PlayerCount    int                 `json:"playerCount"`
	SpectatorCount int                 `json:"spectatorCount"`
	HostId         protocol.PlayerIdType `json:"hostId"`
	IsPublic       bool                `json:"isPublic"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Directory is the lazily-hydrated cache. It is not safe for concurrent use
// — the GlobalLobby actor, a single-writer loop, owns it exclusively.
type Directory struct {
	store   *storage.Store
	loaded  bool
	byCode  map[protocol.RoomIdType]Entry
}

// New wraps a storage.Store. The cache starts empty and unloaded; the first
// GetAll/GetPublic/Get/Size call triggers a load from storage.
func New(store *storage.Store) *Directory {
	return &Directory{store: store, byCode: make(map[protocol.RoomIdType]Entry)}
}

func (d *Directory) ensureLoaded(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	keys, err := d.store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("directory: load keys: %w", err)
	}
	for _, k := range keys {
		var e Entry
		if err := d.store.Get(ctx, k, &e); err != nil {
			continue
		}
		d.byCode[e.Code] = e
	}
	d.loaded = true
	return nil
}

// GetAll returns every known room, loading from storage first if the cache
// is cold.
func (d *Directory) GetAll(ctx context.Context) ([]Entry, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(d.byCode))
	for _, e := range d.byCode {
		out = append(out, e)
	}
	return out, nil
}

// GetPublic returns every room with IsPublic set.
func (d *Directory) GetPublic(ctx context.Context) ([]Entry, error) {
	all, err := d.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if e.IsPublic {
			out = append(out, e)
		}
	}
	return out, nil
}

// Get returns a single room by code.
func (d *Directory) Get(ctx context.Context, code protocol.RoomIdType) (Entry, bool, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return Entry{}, false, err
	}
	e, ok := d.byCode[code]
	return e, ok, nil
}

// Size returns the number of known rooms.
func (d *Directory) Size(ctx context.Context) (int, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	return len(d.byCode), nil
}

// Upsert writes entry, preserving CreatedAt from any existing record and
// stamping UpdatedAt to now. It persists before returning — callers must
// not broadcast the change until Upsert returns nil.
func (d *Directory) Upsert(ctx context.Context, entry Entry, now time.Time) (Entry, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return Entry{}, err
	}
	if existing, ok := d.byCode[entry.Code]; ok {
		entry.CreatedAt = existing.CreatedAt
	} else if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	if err := d.store.Put(ctx, string(entry.Code), entry, 0); err != nil {
		return Entry{}, fmt.Errorf("directory: upsert %s: %w", entry.Code, err)
	}
	d.byCode[entry.Code] = entry
	return entry, nil
}

// Remove deletes a room from the directory. Persists before returning.
func (d *Directory) Remove(ctx context.Context, code protocol.RoomIdType) error {
	if err := d.store.Delete(ctx, string(code)); err != nil {
		return fmt.Errorf("directory: remove %s: %w", code, err)
	}
	delete(d.byCode, code)
	return nil
}

// Invalidate drops the in-memory cache; the next access re-reads storage.
// Used after an external process is known to have mutated directory state.
func (d *Directory) Invalidate() {
	d.loaded = false
	d.byCode = make(map[protocol.RoomIdType]Entry)
}
