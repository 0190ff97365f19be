package kv_test

import (
	"fmt"
	"testing"

	"github.com/autom8ter/foreach/kv"
	_ "github.com/autom8ter/foreach/kv/badger"
	"github.com/autom8ter/foreach/kv/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	var providers = []string{"badger"}
	for _, provider := range providers {
		t.Run(provider, func(t *testing.T) {
			db, err := registry.Open(provider, map[string]any{
				"storage_path": "",
			})
			require.NoError(t, err)
			defer db.Close()
			data := map[string]string{}
			for i := 0; i < 10; i++ {
				data[fmt.Sprint(i)] = fmt.Sprint(i)
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
						assert.NoError(t, err)
						assert.EqualValues(t, v, string(data))
					}
					return nil
				}))
			})
		})
	}
	t.Run("unregistered", func(t *testing.T) {
		_, err := registry.Open("tikv", map[string]any{})
		assert.Error(t, err)
	})
}
