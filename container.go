package foreach

import (
	"context"
	"sort"
	"sync"

	"github.com/autom8ter/foreach/errors"
	"github.com/samber/lo"
)

// Page is a single batch of documents returned by a container
type Page struct {
	Documents Documents
	// Continuation is the position after this page. It is empty on the last page.
	Continuation string
}

// Container is a collection of documents in a remote store
type Container interface {
	// ReadPage reads up to pageSize documents starting at the continuation token. The store may return
	// fewer (or more) documents than requested.
	ReadPage(ctx context.Context, continuation string, pageSize int) (*Page, error)
	// DeleteItem deletes a single document by id and partition key
	DeleteItem(ctx context.Context, id string, partitionKey any) error
	// UpsertItem inserts or replaces a single document
	UpsertItem(ctx context.Context, doc *Document) error
	// Close releases the container's resources
	Close(ctx context.Context) error
}

// Opener opens a container from provider specific params
type Opener func(ctx context.Context, params map[string]any) (Container, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// Register registers a container opener by provider name
func Register(name string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[name] = opener
}

// Providers returns the names of the registered providers
func Providers() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	names := lo.Keys(openers)
	sort.Strings(names)
	return names
}

// Open opens a container with a registered provider
func Open(ctx context.Context, provider string, params map[string]any) (Container, error) {
	openersMu.RLock()
	opener, ok := openers[provider]
	openersMu.RUnlock()
	if !ok {
		return nil, errors.New(errors.NotFound, "%s is not registered", provider)
	}
	return opener(ctx, params)
}
