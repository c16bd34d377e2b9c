// Package snapshot persists the catalog and interaction facts to a local
// badger database so that a restart can serve requests before the first
// Postgres sync completes.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/library-intelligence/internal/domain"
)

const (
	prefixBook = "book:"
	prefixFact = "fact:"
	keyMark    = "meta:watermark"
	keySavedAt = "meta:saved_at"
)

// Snapshot is the persisted engine state.
type Snapshot struct {
	Books []domain.Book
	Facts []domain.Interaction
	// Watermark is the newest fact time included; syncing resumes from it.
	Watermark time.Time
	SavedAt   time.Time
}

type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens or creates the snapshot database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts, logger)
}

// OpenInMemory is used by tests.
func OpenInMemory(logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, logger)
}

func open(opts badger.Options, logger zerolog.Logger) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	return &Store{db: db, logger: logger.With().Str("component", "snapshot").Logger()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored catalog and adds any facts not yet stored.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if err := s.db.DropPrefix([]byte(prefixBook)); err != nil {
		return fmt.Errorf("drop stale books: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range snap.Books {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := &snap.Books[i]
		if err := setJSON(wb, prefixBook+b.ID.String(), b); err != nil {
			return err
		}
	}
	for i := range snap.Facts {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		f := &snap.Facts[i]
		if err := setJSON(wb, prefixFact+f.Key().String(), f); err != nil {
			return err
		}
	}
	if err := setJSON(wb, keyMark, snap.Watermark); err != nil {
		return err
	}
	if err := setJSON(wb, keySavedAt, time.Now().UTC()); err != nil {
		return err
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}

	s.logger.Debug().Int("books", len(snap.Books)).Int("facts", len(snap.Facts)).Msg("snapshot saved")
	return nil
}

func setJSON(wb *badger.WriteBatch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := wb.Set([]byte(key), data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Load reads the stored snapshot. An empty database yields an empty snapshot.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, keyMark, &snap.Watermark); err != nil {
			return err
		}
		if err := getJSON(txn, keySavedAt, &snap.SavedAt); err != nil {
			return err
		}
		if err := scan(ctx, txn, prefixBook, func(val []byte) error {
			var b domain.Book
			if err := json.Unmarshal(val, &b); err != nil {
				return err
			}
			snap.Books = append(snap.Books, b)
			return nil
		}); err != nil {
			return err
		}
		return scan(ctx, txn, prefixFact, func(val []byte) error {
			var f domain.Interaction
			if err := json.Unmarshal(val, &f); err != nil {
				return err
			}
			snap.Facts = append(snap.Facts, f)
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func scan(ctx context.Context, txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++
		item := it.Item()
		if err := item.Value(fn); err != nil {
			return fmt.Errorf("decode %s: %w", item.Key(), err)
		}
	}
	return nil
}
