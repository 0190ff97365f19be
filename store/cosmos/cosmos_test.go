package cosmos

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/autom8ter/foreach"
	"github.com/autom8ter/foreach/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deleteCall struct {
	id string
	pk azcosmos.PartitionKey
}

// fakeItems serves items in pages addressed by numeric continuation tokens
type fakeItems struct {
	items    [][]byte
	err      error
	deleted  []deleteCall
	upserted map[string]azcosmos.PartitionKey
	queries  []string
	hints    []int32
}

func newFakeItems(n int) *fakeItems {
	f := &fakeItems{upserted: map[string]azcosmos.PartitionKey{}}
	for i := 0; i < n; i++ {
		f.items = append(f.items, []byte(fmt.Sprintf(`{"id": "%d", "tenant": "t%d"}`, i, i%2)))
	}
	return f
}

func (f *fakeItems) NewQueryItemsPager(query string, partitionKey azcosmos.PartitionKey, o *azcosmos.QueryOptions) *runtime.Pager[azcosmos.QueryItemsResponse] {
	f.queries = append(f.queries, query)
	f.hints = append(f.hints, o.PageSizeHint)
	start := 0
	if o.ContinuationToken != nil {
		start, _ = strconv.Atoi(*o.ContinuationToken)
	}
	fetched := false
	return runtime.NewPager(runtime.PagingHandler[azcosmos.QueryItemsResponse]{
		More: func(resp azcosmos.QueryItemsResponse) bool {
			return !fetched
		},
		Fetcher: func(ctx context.Context, _ *azcosmos.QueryItemsResponse) (azcosmos.QueryItemsResponse, error) {
			fetched = true
			if f.err != nil {
				return azcosmos.QueryItemsResponse{}, f.err
			}
			end := start + int(o.PageSizeHint)
			if end > len(f.items) {
				end = len(f.items)
			}
			resp := azcosmos.QueryItemsResponse{Items: f.items[start:end]}
			if end < len(f.items) {
				token := strconv.Itoa(end)
				resp.ContinuationToken = &token
			}
			return resp, nil
		},
	})
}

func (f *fakeItems) DeleteItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemId string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	if f.err != nil {
		return azcosmos.ItemResponse{}, f.err
	}
	f.deleted = append(f.deleted, deleteCall{id: itemId, pk: partitionKey})
	return azcosmos.ItemResponse{}, nil
}

func (f *fakeItems) UpsertItem(ctx context.Context, partitionKey azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error) {
	if f.err != nil {
		return azcosmos.ItemResponse{}, f.err
	}
	doc, err := foreach.NewDocumentFromBytes(item)
	if err != nil {
		return azcosmos.ItemResponse{}, err
	}
	f.upserted[doc.ID()] = partitionKey
	return azcosmos.ItemResponse{}, nil
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"account":   "https://localhost:8081",
		"key":       "a2V5",
		"database":  "app",
		"container": "users",
	})
	require.NoError(t, err)
	assert.Equal(t, "users", cfg.Container)
	_, err = ParseConfig(map[string]any{"account": "https://localhost:8081"})
	assert.Equal(t, errors.Validation, errors.CodeOf(err))
}

func TestContainer(t *testing.T) {
	ctx := context.Background()
	cfg := Config{PartitionKeyPath: "/tenant"}
	t.Run("pages", func(t *testing.T) {
		items := newFakeItems(25)
		c := New(items, cfg)
		var (
			ids          []string
			continuation string
			pages        int
		)
		for {
			page, err := c.ReadPage(ctx, continuation, 10)
			require.NoError(t, err)
			pages++
			ids = append(ids, page.Documents.IDs()...)
			if page.Continuation == "" {
				break
			}
			continuation = page.Continuation
		}
		assert.Equal(t, 3, pages)
		assert.Len(t, ids, 25)
		assert.Equal(t, DefaultQuery, items.queries[0])
	})
	t.Run("page size is bounded", func(t *testing.T) {
		items := newFakeItems(3)
		c := New(items, cfg)
		_, err := c.ReadPage(ctx, "", foreach.MaxPageSize*2)
		require.NoError(t, err)
		_, err = c.ReadPage(ctx, "", 0)
		require.NoError(t, err)
		assert.Equal(t, []int32{foreach.MaxPageSize, foreach.DefaultPageSize}, items.hints)
	})
	t.Run("delete", func(t *testing.T) {
		items := newFakeItems(1)
		c := New(items, cfg)
		require.NoError(t, c.DeleteItem(ctx, "0", "t0"))
		require.Len(t, items.deleted, 1)
		assert.Equal(t, azcosmos.NewPartitionKeyString("t0"), items.deleted[0].pk)
	})
	t.Run("upsert", func(t *testing.T) {
		items := newFakeItems(0)
		c := New(items, cfg)
		doc, err := foreach.NewDocumentFrom(map[string]any{"id": "1", "tenant": "t1"})
		require.NoError(t, err)
		require.NoError(t, c.UpsertItem(ctx, doc))
		assert.Equal(t, azcosmos.NewPartitionKeyString("t1"), items.upserted["1"])
		err = New(items, Config{}).UpsertItem(ctx, doc)
		assert.Equal(t, errors.Validation, errors.CodeOf(err))
	})
	t.Run("throttled", func(t *testing.T) {
		items := newFakeItems(1)
		items.err = &azcore.ResponseError{StatusCode: http.StatusTooManyRequests}
		c := New(items, cfg)
		err := c.DeleteItem(ctx, "0", "t0")
		assert.True(t, errors.IsTransient(err))
		_, err = c.ReadPage(ctx, "", 10)
		assert.Equal(t, errors.Throttled, errors.CodeOf(err))
	})
}

func TestPartitionKey(t *testing.T) {
	type testCase struct {
		value    any
		expected azcosmos.PartitionKey
	}
	for _, tc := range []testCase{
		{nil, azcosmos.NullPartitionKey},
		{"a", azcosmos.NewPartitionKeyString("a")},
		{true, azcosmos.NewPartitionKeyBool(true)},
		{float64(1.5), azcosmos.NewPartitionKeyNumber(1.5)},
		{int64(7), azcosmos.NewPartitionKeyNumber(7)},
	} {
		t.Run(fmt.Sprint(tc.value), func(t *testing.T) {
			pk, err := PartitionKey(tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, pk)
		})
	}
	_, err := PartitionKey(map[string]any{})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	for status, code := range map[int]errors.Code{
		http.StatusTooManyRequests:     errors.Throttled,
		http.StatusRequestTimeout:      errors.Timeout,
		http.StatusServiceUnavailable:  errors.Unavailable,
		statusRetryWith:                errors.Unavailable,
		http.StatusNotFound:            errors.NotFound,
		http.StatusConflict:            errors.Conflict,
		http.StatusPreconditionFailed:  errors.PreconditionFailed,
		http.StatusBadRequest:          errors.Validation,
		http.StatusInternalServerError: errors.Internal,
	} {
		err := classify(&azcore.ResponseError{StatusCode: status})
		assert.Equal(t, code, errors.CodeOf(err), status)
	}
	assert.Nil(t, classify(nil))
}
