package badger_test

import (
	"fmt"
	"testing"

	"github.com/autom8ter/foreach/errors"
	"github.com/autom8ter/foreach/kv"
	"github.com/autom8ter/foreach/kv/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	db, err := badger.New("")
	require.NoError(t, err)
	defer db.Close()
	data := map[string]string{}
	for i := 0; i < 10; i++ {
		data[fmt.Sprintf("items/%d", i)] = fmt.Sprint(i)
	}
	t.Run("set", func(t *testing.T) {
		assert.Nil(t, db.Tx(true, func(tx kv.Tx) error {
			for k, v := range data {
				assert.Nil(t, tx.Set([]byte(k), []byte(v)))
			}
			return nil
		}))
	})
	t.Run("get", func(t *testing.T) {
		assert.Nil(t, db.Tx(false, func(tx kv.Tx) error {
			for k, v := range data {
				data, err := tx.Get([]byte(k))
				assert.Nil(t, err)
				assert.EqualValues(t, v, string(data))
			}
			return nil
		}))
	})
	t.Run("get missing", func(t *testing.T) {
		assert.Nil(t, db.Tx(false, func(tx kv.Tx) error {
			_, err := tx.Get([]byte("items/missing"))
			assert.Equal(t, errors.NotFound, errors.CodeOf(err))
			return nil
		}))
	})
	t.Run("iterate prefix", func(t *testing.T) {
		assert.Nil(t, db.Tx(false, func(tx kv.Tx) error {
			iter := tx.NewIterator(kv.IterOpts{Prefix: []byte("items/")})
			defer iter.Close()
			i := 0
			for iter.Valid() {
				item := iter.Item()
				val, err := item.Value()
				assert.NoError(t, err)
				assert.EqualValues(t, data[string(item.Key())], string(val))
				i++
				iter.Next()
			}
			assert.Equal(t, len(data), i)
			return nil
		}))
	})
	t.Run("iterate from seek", func(t *testing.T) {
		assert.Nil(t, db.Tx(false, func(tx kv.Tx) error {
			iter := tx.NewIterator(kv.IterOpts{Prefix: []byte("items/"), Seek: []byte("items/5")})
			defer iter.Close()
			var keys []string
			for iter.Valid() {
				keys = append(keys, string(iter.Item().Key()))
				iter.Next()
			}
			assert.Equal(t, []string{"items/5", "items/6", "items/7", "items/8", "items/9"}, keys)
			return nil
		}))
	})
	t.Run("iterate reverse", func(t *testing.T) {
		assert.Nil(t, db.Tx(false, func(tx kv.Tx) error {
			iter := tx.NewIterator(kv.IterOpts{Prefix: []byte("items/"), Reverse: true})
			defer iter.Close()
			require.True(t, iter.Valid())
			assert.Equal(t, "items/9", string(iter.Item().Key()))
			iter.Next()
			require.True(t, iter.Valid())
			assert.Equal(t, "items/8", string(iter.Item().Key()))
			return nil
		}))
	})
	t.Run("batch", func(t *testing.T) {
		batch := db.Batch()
		require.NoError(t, batch.Set([]byte("batch/1"), []byte("1")))
		require.NoError(t, batch.Set([]byte("batch/2"), []byte("2")))
		require.NoError(t, batch.Delete([]byte("items/0")))
		require.NoError(t, batch.Flush())
		assert.Nil(t, db.Tx(false, func(tx kv.Tx) error {
			val, err := tx.Get([]byte("batch/2"))
			assert.NoError(t, err)
			assert.Equal(t, "2", string(val))
			_, err = tx.Get([]byte("items/0"))
			assert.Error(t, err)
			return nil
		}))
	})
	t.Run("delete", func(t *testing.T) {
		assert.Nil(t, db.Tx(true, func(tx kv.Tx) error {
			return tx.Delete([]byte("items/1"))
		}))
		assert.Nil(t, db.Tx(false, func(tx kv.Tx) error {
			_, err := tx.Get([]byte("items/1"))
			assert.Equal(t, errors.NotFound, errors.CodeOf(err))
			return nil
		}))
	})
	t.Run("drop prefix", func(t *testing.T) {
		require.NoError(t, db.DropPrefix([]byte("batch/")))
		assert.Nil(t, db.Tx(false, func(tx kv.Tx) error {
			_, err := tx.Get([]byte("batch/1"))
			assert.Error(t, err)
			return nil
		}))
	})
}
