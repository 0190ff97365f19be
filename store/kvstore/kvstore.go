// Package kvstore is a document container backed by an ordered key value database. Documents are
// stored under "<container>/<id>" and pages are read in id order. The continuation token is the id of
// the last document of a page.
package kvstore

import (
	"context"
	"fmt"

	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/errors"
	"github.com/autom8ter/foreach/kv"
	_ "github.com/autom8ter/foreach/kv/badger"
	"github.com/autom8ter/foreach/kv/registry"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

func init() {
	foreach.Register("badger", Open)
}

// Config configures a kv container
type Config struct {
	// Provider is the registered kv provider. Defaults to badger.
	Provider string `mapstructure:"provider"`
	// StoragePath is the database directory. Empty opens an in-memory database.
	StoragePath string `mapstructure:"storage_path"`
	// Container prefixes every key
	Container string `mapstructure:"container"`
	// PartitionKeyPath locates the partition key in each document, e.g. /tenant
	PartitionKeyPath string `mapstructure:"partition_key_path"`
}

// Container is a foreach.Container over a kv.DB
type Container struct {
	db     kv.DB
	cfg    Config
	prefix []byte
	owned  bool
}

// Open opens a kv database from params and returns a container over it
func Open(ctx context.Context, params map[string]any) (foreach.Container, error) {
	var cfg Config
	if err := mapstructure.WeakDecode(params, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid kv container params")
	}
	if cfg.Provider == "" {
		cfg.Provider = "badger"
	}
	db, err := registry.Open(cfg.Provider, map[string]any{
		"storage_path": cfg.StoragePath,
	})
	if err != nil {
		return nil, errors.Wrap(err, 0, "failed to open %s database", cfg.Provider)
	}
	c := New(db, cfg)
	c.owned = true
	return c, nil
}

// New creates a container over an open database. Closing the container does not close db.
func New(db kv.DB, cfg Config) *Container {
	if cfg.Container == "" {
		cfg.Container = "documents"
	}
	return &Container{
		db:     db,
		cfg:    cfg,
		prefix: []byte(cfg.Container + "/"),
	}
}

func (c *Container) key(id string) []byte {
	return append(append([]byte{}, c.prefix...), []byte(id)...)
}

// ReadPage reads up to pageSize documents with ids greater than the continuation
func (c *Container) ReadPage(ctx context.Context, continuation string, pageSize int) (*foreach.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageSize < 1 {
		pageSize = foreach.DefaultPageSize
	}
	page := &foreach.Page{}
	err := c.db.Tx(false, func(tx kv.Tx) error {
		opts := kv.IterOpts{Prefix: c.prefix}
		if continuation != "" {
			// the smallest key after the continuation id
			opts.Seek = append(c.key(continuation), 0)
		}
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for ; iter.Valid(); iter.Next() {
			if len(page.Documents) == pageSize {
				page.Continuation = page.Documents[len(page.Documents)-1].ID()
				return nil
			}
			bits, err := iter.Item().Value()
			if err != nil {
				return err
			}
			doc, err := foreach.NewDocumentFromBytes(bits)
			if err != nil {
				return errors.Wrap(err, errors.Internal, "corrupt document at %s", string(iter.Item().Key()))
			}
			page.Documents = append(page.Documents, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Get returns the document with the id
func (c *Container) Get(ctx context.Context, id string) (*foreach.Document, error) {
	var doc *foreach.Document
	err := c.db.Tx(false, func(tx kv.Tx) error {
		bits, err := tx.Get(c.key(id))
		if err != nil {
			return err
		}
		doc, err = foreach.NewDocumentFromBytes(bits)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteItem deletes the document. A partition key that does not match the stored document is
// treated like a missing document.
func (c *Container) DeleteItem(ctx context.Context, id string, partitionKey any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Tx(true, func(tx kv.Tx) error {
		key := c.key(id)
		bits, err := tx.Get(key)
		if err != nil {
			return err
		}
		if c.cfg.PartitionKeyPath != "" {
			doc, err := foreach.NewDocumentFromBytes(bits)
			if err != nil {
				return err
			}
			if !samePartition(doc.PartitionKey(c.cfg.PartitionKeyPath), partitionKey) {
				return errors.New(errors.NotFound, "document %s not found in partition %v", id, partitionKey)
			}
		}
		return tx.Delete(key)
	})
}

// UpsertItem inserts or replaces the document
func (c *Container) UpsertItem(ctx context.Context, doc *foreach.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := foreach.RequireID(ctx, doc); err != nil {
		return err
	}
	return c.db.Tx(true, func(tx kv.Tx) error {
		return tx.Set(c.key(doc.ID()), doc.Bytes())
	})
}

// Load bulk writes documents into the container
func (c *Container) Load(ctx context.Context, docs foreach.Documents) error {
	batch := c.db.Batch()
	for _, doc := range docs {
		if err := foreach.RequireID(ctx, doc); err != nil {
			return err
		}
		if err := batch.Set(c.key(doc.ID()), doc.Bytes()); err != nil {
			return err
		}
	}
	return batch.Flush()
}

// Count returns the number of documents in the container
func (c *Container) Count(ctx context.Context) (int, error) {
	var count int
	err := c.db.Tx(false, func(tx kv.Tx) error {
		iter := tx.NewIterator(kv.IterOpts{Prefix: c.prefix})
		defer iter.Close()
		for ; iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the database if the container opened it
func (c *Container) Close(ctx context.Context) error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

func samePartition(stored, given any) bool {
	if stored == nil || given == nil {
		return stored == nil && given == nil
	}
	return cast.ToString(stored) == cast.ToString(given) || fmt.Sprint(stored) == fmt.Sprint(given)
}
