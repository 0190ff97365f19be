package errors_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/autom8ter/foreach/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("wrap nil error", func(t *testing.T) {
		var err error
		err = errors.Wrap(err, errors.NotFound, "")
		assert.Nil(t, err)
	})
	t.Run("wrap error", func(t *testing.T) {
		var err = fmt.Errorf("not found")
		err = errors.Wrap(err, errors.NotFound, "")
		assert.Equal(t, errors.NotFound, errors.Extract(err).Code)
	})
	t.Run("new error", func(t *testing.T) {
		err := errors.New(errors.NotFound, "not found")
		assert.Equal(t, errors.NotFound, errors.Extract(err).Code)
	})
	t.Run("new error then wrap", func(t *testing.T) {
		err := errors.New(0, "not found")
		err = errors.Wrap(err, errors.NotFound, "")
		assert.Equal(t, errors.NotFound, errors.Extract(err).Code)
	})
	t.Run("new error then wrap then remove", func(t *testing.T) {
		err := errors.New(0, "not found")
		err = errors.Wrap(err, errors.NotFound, "")
		e := errors.Extract(err).RemoveError()
		assert.Empty(t, e.Err)
	})
	t.Run("error json string", func(t *testing.T) {
		err := errors.New(0, "not found")
		err = errors.Wrap(err, errors.NotFound, "")
		e := errors.Extract(err).RemoveError()
		assert.JSONEq(t, `{ "code":404, "messages": ["not found"]}`, e.Error())
	})
	t.Run("formatting does not modify the error", func(t *testing.T) {
		e := &errors.Error{Messages: []string{"shared"}}
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.Contains(t, e.Error(), `"code":200`)
			}()
		}
		wg.Wait()
		assert.Equal(t, errors.Code(0), e.Code)
	})
	t.Run("extract through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("upsert: %w", errors.New(errors.Throttled, "slow down"))
		assert.Equal(t, errors.Throttled, errors.Extract(err).Code)
		assert.Equal(t, errors.Throttled, errors.CodeOf(err))
	})
	t.Run("unwrap cause", func(t *testing.T) {
		err := errors.Wrap(context.Canceled, errors.Internal, "request failed")
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestIsTransient(t *testing.T) {
	var cases = []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", fmt.Errorf("boom"), false},
		{"throttled", errors.New(errors.Throttled, "429"), true},
		{"timeout", errors.New(errors.Timeout, "408"), true},
		{"unavailable", errors.New(errors.Unavailable, "503"), true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"not found", errors.New(errors.NotFound, "404"), false},
		{"conflict", errors.New(errors.Conflict, "409"), false},
		{"validation", errors.New(errors.Validation, "400"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, errors.IsTransient(c.err))
		})
	}
}
