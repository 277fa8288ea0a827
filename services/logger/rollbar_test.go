package logsvc

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"

	"github.com/rollbar/rollbar-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/rollbook/core"
	"github.com/trezcool/rollbook/core/user"
)

type ctxKey struct{}

func newTestLogger(t *testing.T) (*RollbarLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := NewRollbarLogger(log.New(&buf, "", 0), &core.Config{Env: "TEST"})
	logger.Enable(false)
	return logger, &buf
}

func TestRollbarLogger_prepare(t *testing.T) {
	logger, _ := newTestLogger(t)
	reqCtx := context.WithValue(context.Background(), ctxKey{}, "req")
	err := errors.New("boom")
	extras := map[string]interface{}{"path": "/students"}

	t.Run("with user", func(t *testing.T) {
		usr := user.User{ID: 7, Username: "jane", Email: "jane@example.com"}
		other := user.User{ID: 8, Username: "joe"}
		args := logger.prepare("failed", []interface{}{err, extras, usr, other, reqCtx})

		require.Len(t, args, 4)
		assert.Equal(t, "failed", args[0])
		assert.Equal(t, err, args[1])
		assert.Equal(t, extras, args[2])

		ctx, ok := args[3].(context.Context)
		require.True(t, ok)
		assert.Equal(t, "req", ctx.Value(ctxKey{}))
		person, ok := rollbar.PersonFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, &rollbar.Person{Id: "7", Username: "jane", Email: "jane@example.com"}, person)
	})

	t.Run("anonymous", func(t *testing.T) {
		args := logger.prepare("failed", []interface{}{err, user.User{}})

		require.Len(t, args, 3)
		ctx, ok := args[2].(context.Context)
		require.True(t, ok)
		_, ok = rollbar.PersonFromContext(ctx)
		assert.False(t, ok)
	})
}

// run with -race: reports from concurrent requests must not share state.
func TestRollbarLogger_concurrentErrors(t *testing.T) {
	logger, _ := newTestLogger(t)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			usr := user.User{ID: id, Username: "user", Email: "user@example.com"}
			for j := 0; j < 20; j++ {
				logger.Error("Internal Server Error", errors.New("boom"), usr, context.Background())
			}
		}(i)
	}
	wg.Wait()
}

func TestRollbarLogger_printSkipsContext(t *testing.T) {
	logger, buf := newTestLogger(t)
	logger.Info("hello", map[string]interface{}{"k": "v"}, context.Background())
	assert.Equal(t, "hello\nmap[k:v]\n", buf.String())
}
