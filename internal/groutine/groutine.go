package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a goroutine labelled with name for pprof and tracked by wg.
// Example usage:
//
//	groutine.Go(ctx, "sensormux-wakelock", &wg, func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used. A nil wg is allowed.
func Go(parentCtx context.Context, name string, wg *sync.WaitGroup, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if wg != nil {
		wg.Add(1)
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		if wg != nil {
			defer wg.Done()
		}
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
