package foreach_test

import (
	"context"
	"io"
	"testing"

	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/errors"
	"github.com/autom8ter/foreach/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *foreach.Reader) ([]*foreach.Item, error) {
	var items []*foreach.Item
	for {
		item, err := r.Next(context.Background())
		if err != nil {
			if err == io.EOF {
				return items, nil
			}
			return items, err
		}
		items = append(items, item)
	}
}

func TestReader(t *testing.T) {
	t.Run("pages of varying sizes", func(t *testing.T) {
		docs := testutil.NewUserDocs(10)
		c := testutil.NewPagedContainer(testutil.Paginate(docs, 3, 0, 1, 0, 6)...)
		r := foreach.NewReader(c, foreach.ReaderOptions{PageSize: 5})
		defer r.Close()
		items, err := readAll(t, r)
		require.NoError(t, err)
		require.Len(t, items, 10)
		for i, item := range items {
			assert.Equal(t, docs[i].ID(), item.Document.ID(), "documents are yielded in page order")
		}
		assert.Equal(t, 0, items[0].Page)
		assert.Equal(t, 3, items[0].Count)
		assert.Equal(t, 2, items[3].Page, "empty pages are skipped over")
		assert.Equal(t, 4, items[4].Page)
		assert.Equal(t, "", items[9].Continuation)
		_, err = r.Next(context.Background())
		assert.Equal(t, io.EOF, err)
	})
	t.Run("empty container", func(t *testing.T) {
		r := foreach.NewReader(testutil.NewPagedContainer(), foreach.ReaderOptions{})
		defer r.Close()
		items, err := readAll(t, r)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
	t.Run("kv container", func(t *testing.T) {
		docs := testutil.NewUserDocs(25)
		r := foreach.NewReader(testutil.NewContainer(t, docs), foreach.ReaderOptions{PageSize: 10, Buffer: 2})
		defer r.Close()
		items, err := readAll(t, r)
		require.NoError(t, err)
		require.Len(t, items, 25)
		assert.Equal(t, docs.IDs()[24], items[24].Document.ID())
	})
	t.Run("read error after documents", func(t *testing.T) {
		docs := testutil.NewUserDocs(9)
		c := testutil.NewFaultyContainer(testutil.NewPagedContainer(testutil.Paginate(docs, 3, 3, 3)...)).
			FailReadAt(2, errors.New(errors.Unavailable, "connection reset"))
		r := foreach.NewReader(c, foreach.ReaderOptions{})
		defer r.Close()
		items, err := readAll(t, r)
		assert.Len(t, items, 6)
		var readErr *foreach.ReadError
		require.True(t, errors.As(err, &readErr))
		assert.Equal(t, "2", readErr.Continuation)
		_, again := r.Next(context.Background())
		assert.Equal(t, err, again, "errors are sticky")
	})
	t.Run("start from continuation", func(t *testing.T) {
		docs := testutil.NewUserDocs(9)
		c := testutil.NewPagedContainer(testutil.Paginate(docs, 3, 3, 3)...)
		r := foreach.NewReader(c, foreach.ReaderOptions{From: "1"})
		defer r.Close()
		items, err := readAll(t, r)
		require.NoError(t, err)
		require.Len(t, items, 6)
		assert.Equal(t, docs[3].ID(), items[0].Document.ID())
	})
	t.Run("close stops fetching", func(t *testing.T) {
		docs := testutil.NewUserDocs(100)
		c := testutil.NewFaultyContainer(testutil.NewPagedContainer(testutil.Paginate(docs, 1, 1, 1, 1, 1, 1, 1, 1)...))
		r := foreach.NewReader(c, foreach.ReaderOptions{Buffer: 1})
		_, err := r.Next(context.Background())
		require.NoError(t, err)
		r.Close()
		r.Close()
		assert.Less(t, c.PagesRead(), 5, "the buffer bounds how far the reader runs ahead")
	})
	t.Run("cancelled", func(t *testing.T) {
		r := foreach.NewReader(testutil.NewPagedContainer(testutil.NewUserDocs(1)), foreach.ReaderOptions{})
		defer r.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		item, err := r.Next(ctx)
		if err == nil {
			// the first page may already be buffered
			assert.NotNil(t, item)
			return
		}
		assert.ErrorIs(t, err, context.Canceled)
	})
}
