package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/health"
)

// Health runs the engine's built-in checkers once: the data directory
// must be writable and every open collection must be usable. Extra
// checkers from the embedder run alongside them.
func (e *Engine) Health(ctx context.Context, extra ...health.Checker) map[string]health.Result {
	e.mu.Lock()
	closed := e.closed
	cols := make([]*Collection, 0, len(e.collections))
	for _, col := range e.collections {
		cols = append(cols, col)
	}
	e.mu.Unlock()

	if closed {
		return map[string]health.Result{
			"engine": {Healthy: false, Message: "engine is closed"},
		}
	}

	checkers := []health.Checker{e.dataDirChecker()}
	for _, col := range cols {
		checkers = append(checkers, collectionChecker(col))
	}
	checkers = append(checkers, extra...)

	return health.Run(ctx, health.DefaultConfig(), checkers...)
}

// dataDirChecker probes that the data directory still accepts writes,
// catching permission changes and full disks between commits.
func (e *Engine) dataDirChecker() health.Checker {
	return health.CheckFunc{
		CheckName: "data_dir",
		Fn: func(ctx context.Context) health.Result {
			f, err := os.CreateTemp(e.files.Dir(), ".health-*")
			if err != nil {
				return health.Result{Healthy: false, Message: fmt.Sprintf("data directory not writable: %v", err)}
			}
			name := f.Name()
			f.Close()
			os.Remove(name)
			return health.Result{Healthy: true, Message: "writable"}
		},
	}
}

func collectionChecker(col *Collection) health.Checker {
	return health.CheckFunc{
		CheckName: "collection:" + col.Name(),
		Fn: func(ctx context.Context) health.Result {
			if err := col.Usable(); err != nil {
				return health.Result{Healthy: false, Message: err.Error()}
			}
			return health.Result{Healthy: true, Message: "usable"}
		},
	}
}
