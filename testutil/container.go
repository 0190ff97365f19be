package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/errors"
)

// PagedContainer serves a fixed sequence of pages regardless of the requested page size, so tests can
// control page boundaries, including empty pages. Continuation tokens are page numbers.
type PagedContainer struct {
	mu               sync.RWMutex
	pages            [][]string
	docs             map[string]*foreach.Document
	partitionKeyPath string
}

// NewPagedContainer creates a container partitioned by /tenant serving the pages in order
func NewPagedContainer(pages ...foreach.Documents) *PagedContainer {
	p := &PagedContainer{docs: map[string]*foreach.Document{}, partitionKeyPath: "/tenant"}
	for _, page := range pages {
		p.pages = append(p.pages, page.IDs())
		for _, doc := range page {
			p.docs[doc.ID()] = doc.Clone()
		}
	}
	return p
}

// Paginate splits docs into pages of the given sizes. Remaining documents go into a last page.
func Paginate(docs foreach.Documents, sizes ...int) []foreach.Documents {
	var pages []foreach.Documents
	for _, size := range sizes {
		if size > len(docs) {
			size = len(docs)
		}
		pages = append(pages, docs[:size])
		docs = docs[size:]
	}
	if len(docs) > 0 {
		pages = append(pages, docs)
	}
	return pages
}

func (p *PagedContainer) ReadPage(ctx context.Context, continuation string, pageSize int) (*foreach.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	if continuation != "" {
		var err error
		n, err = strconv.Atoi(continuation)
		if err != nil || n < 0 || n > len(p.pages) {
			return nil, errors.New(errors.Validation, "bad continuation %q", continuation)
		}
	}
	page := &foreach.Page{}
	if n == len(p.pages) {
		return page, nil
	}
	for _, id := range p.pages[n] {
		if doc, ok := p.docs[id]; ok {
			page.Documents = append(page.Documents, doc.Clone())
		}
	}
	if n+1 < len(p.pages) {
		page.Continuation = strconv.Itoa(n + 1)
	}
	return page, nil
}

func (p *PagedContainer) DeleteItem(ctx context.Context, id string, partitionKey any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, ok := p.docs[id]
	if !ok || fmt.Sprint(doc.PartitionKey(p.partitionKeyPath)) != fmt.Sprint(partitionKey) {
		return errors.New(errors.NotFound, "document %s not found", id)
	}
	delete(p.docs, id)
	return nil
}

func (p *PagedContainer) UpsertItem(ctx context.Context, doc *foreach.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[doc.ID()] = doc.Clone()
	return nil
}

func (p *PagedContainer) Close(ctx context.Context) error {
	return nil
}

// Get returns the current version of the document
func (p *PagedContainer) Get(id string) (*foreach.Document, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	doc, ok := p.docs[id]
	return doc, ok
}

// Len returns the number of documents in the container
func (p *PagedContainer) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.docs)
}

type fault struct {
	remaining int
	err       error
}

// FaultyContainer wraps a container to inject failures and record calls
type FaultyContainer struct {
	foreach.Container
	mu          sync.Mutex
	failReadAt  int
	readErr     error
	pagesRead   int
	faults      map[string]map[string]*fault
	calls       map[string]map[string]int
	delay       time.Duration
	inflight    map[string]int
	maxPerID    int
	total       int
	maxInflight int
}

// Operations recorded by FaultyContainer
const (
	OpDelete = "delete"
	OpUpsert = "upsert"
)

// NewFaultyContainer wraps the container
func NewFaultyContainer(c foreach.Container) *FaultyContainer {
	return &FaultyContainer{
		Container:  c,
		failReadAt: -1,
		faults:     map[string]map[string]*fault{OpDelete: {}, OpUpsert: {}},
		calls:      map[string]map[string]int{OpDelete: {}, OpUpsert: {}},
		inflight:   map[string]int{},
	}
}

// FailReadAt fails the read of the page with the given number (0 is the first page read)
func (f *FaultyContainer) FailReadAt(page int, err error) *FaultyContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReadAt = page
	f.readErr = err
	return f
}

// Fail fails the next times calls of the operation on the document. A negative times fails every call.
func (f *FaultyContainer) Fail(op, id string, times int, err error) *FaultyContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op][id] = &fault{remaining: times, err: err}
	return f
}

// Delay makes every mutation take at least d
func (f *FaultyContainer) Delay(d time.Duration) *FaultyContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

func (f *FaultyContainer) ReadPage(ctx context.Context, continuation string, pageSize int) (*foreach.Page, error) {
	f.mu.Lock()
	n := f.pagesRead
	f.pagesRead++
	fail := n == f.failReadAt
	err := f.readErr
	f.mu.Unlock()
	if fail {
		return nil, err
	}
	return f.Container.ReadPage(ctx, continuation, pageSize)
}

func (f *FaultyContainer) DeleteItem(ctx context.Context, id string, partitionKey any) error {
	if err := f.enter(OpDelete, id); err != nil {
		return err
	}
	defer f.exit(id)
	return f.Container.DeleteItem(ctx, id, partitionKey)
}

func (f *FaultyContainer) UpsertItem(ctx context.Context, doc *foreach.Document) error {
	if err := f.enter(OpUpsert, doc.ID()); err != nil {
		return err
	}
	defer f.exit(doc.ID())
	return f.Container.UpsertItem(ctx, doc)
}

func (f *FaultyContainer) enter(op, id string) error {
	f.mu.Lock()
	f.calls[op][id]++
	f.inflight[id]++
	f.total++
	if f.inflight[id] > f.maxPerID {
		f.maxPerID = f.inflight[id]
	}
	if f.total > f.maxInflight {
		f.maxInflight = f.total
	}
	delay := f.delay
	var err error
	if flt, ok := f.faults[op][id]; ok && flt.remaining != 0 {
		flt.remaining--
		err = flt.err
	}
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		f.exit(id)
	}
	return err
}

func (f *FaultyContainer) exit(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight[id]--
	f.total--
}

// Calls returns the number of calls of the operation on the document
func (f *FaultyContainer) Calls(op, id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op][id]
}

// TotalCalls returns the number of calls of the operation
func (f *FaultyContainer) TotalCalls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int
	for _, n := range f.calls[op] {
		total += n
	}
	return total
}

// PagesRead returns the number of page reads
func (f *FaultyContainer) PagesRead() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pagesRead
}

// MaxConcurrentPerID returns the highest number of concurrent mutations seen on a single document
func (f *FaultyContainer) MaxConcurrentPerID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPerID
}

// MaxInflight returns the highest number of concurrent mutations seen
func (f *FaultyContainer) MaxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}
