package foreach

import (
	"context"
	"io"
	"sync"
	"time"
)

// ReaderOptions configures a Reader
type ReaderOptions struct {
	// PageSize is the number of documents requested per page
	PageSize int
	// Buffer is the number of fetched pages held ahead of the consumer
	Buffer int
	// From is the continuation token to start reading from. Empty starts at the beginning.
	From string
	// Metrics records page fetches (optional)
	Metrics *Metrics
}

// Item is a document yielded by a Reader along with its position
type Item struct {
	Document *Document
	// Page is the sequence number of the page the document was read from, starting at 0
	Page int
	// Continuation is the position after the page the document was read from
	Continuation string
	// Index is the document's position within its page
	Index int
	// Count is the number of documents in the page
	Count int
}

type fetched struct {
	seq  int
	page *Page
	err  error
}

// Reader is a lazy, forward only sequence of the documents in a container. Pages are fetched by a
// background goroutine into a bounded buffer.
type Reader struct {
	pages  chan fetched
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	current *fetched
	idx     int
	err     error
}

// NewReader starts reading the container from opts.From
func NewReader(container Container, opts ReaderOptions) *Reader {
	if opts.PageSize < 1 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Buffer < 1 {
		opts.Buffer = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reader{
		pages:  make(chan fetched, opts.Buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.fetch(ctx, container, opts)
	return r
}

func (r *Reader) fetch(ctx context.Context, container Container, opts ReaderOptions) {
	defer close(r.done)
	defer close(r.pages)
	continuation := opts.From
	for seq := 0; ; seq++ {
		start := time.Now()
		page, err := container.ReadPage(ctx, continuation, opts.PageSize)
		opts.Metrics.observePage(time.Since(start), err)
		if err == nil && page == nil {
			page = &Page{}
		}
		var next fetched
		if err != nil {
			next = fetched{seq: seq, err: &ReadError{Continuation: continuation, Err: err}}
		} else {
			next = fetched{seq: seq, page: page}
		}
		select {
		case r.pages <- next:
		case <-ctx.Done():
			return
		}
		if err != nil || page.Continuation == "" {
			return
		}
		continuation = page.Continuation
	}
}

// Next returns the next document. It returns io.EOF after the last document and a *ReadError if a
// page could not be fetched. Once an error is returned every following call returns it.
func (r *Reader) Next(ctx context.Context) (*Item, error) {
	if r.err != nil {
		return nil, r.err
	}
	for r.current == nil || r.idx >= len(r.current.page.Documents) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case next, ok := <-r.pages:
			if !ok {
				r.err = io.EOF
				return nil, r.err
			}
			if next.err != nil {
				r.err = next.err
				return nil, r.err
			}
			r.current = &next
			r.idx = 0
		}
	}
	page := r.current.page
	item := &Item{
		Document:     page.Documents[r.idx],
		Page:         r.current.seq,
		Continuation: page.Continuation,
		Index:        r.idx,
		Count:        len(page.Documents),
	}
	r.idx++
	return item, nil
}

// Close stops fetching pages
func (r *Reader) Close() {
	r.once.Do(func() {
		r.cancel()
		<-r.done
	})
}
