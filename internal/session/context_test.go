package session

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ImmersiveDrive/simclient/pkg/core"
)

func TestContext_Lifecycle(t *testing.T) {
	ctx := NewContext()
	assert.Nil(t, ctx.Session())
	assert.Empty(t, ctx.ID())
	assert.Nil(t, ctx.Attrs())

	ctx.SetTick(9)
	ctx.Begin(&core.Session{ID: "abc", MapName: "Town03"})
	assert.Equal(t, "abc", ctx.ID())
	assert.Equal(t, uint64(0), ctx.Tick())

	ctx.SetTick(42)
	attrs := ctx.Attrs()
	assert.Equal(t, []slog.Attr{slog.String("session", "abc"), slog.Uint64("tick", 42)}, attrs)

	ctx.End()
	assert.Nil(t, ctx.Session())
}

func TestContext_ThreadSafe(t *testing.T) {
	ctx := NewContext()
	ctx.Begin(&core.Session{ID: "s"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ctx.SetTick(uint64(j))
				_ = ctx.Attrs()
				if i == 0 && j == 50 {
					ctx.Begin(&core.Session{ID: "t"})
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, "t", ctx.ID())
}
