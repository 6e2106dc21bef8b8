package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/codec"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/filestore"
	"github.com/cuemby/burrow/pkg/hook"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Engine is the top-level handle for a Burrow data directory. It owns
// the encryption key, the file store, and every open collection, with
// an explicit open/close lifecycle: nothing engine-scoped lives in
// package-level state.
type Engine struct {
	mu          sync.Mutex
	cfg         config.Config
	codec       *codec.Codec
	files       *filestore.Store
	collections map[string]*Collection
	broker      *events.Broker
	logger      zerolog.Logger
	closed      bool
}

// Open validates cfg, loads the encryption key, and prepares the data
// directory. A bad key configuration is fatal: the engine refuses to
// open.
func Open(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEncryptionKey, err)
	}
	c, err := codec.New(key)
	if err != nil {
		return nil, err
	}

	files, err := filestore.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker()
	broker.Start()

	return &Engine{
		cfg:         cfg,
		codec:       c,
		files:       files,
		collections: make(map[string]*Collection),
		broker:      broker,
		logger:      log.WithComponent("engine"),
	}, nil
}

// CollectionOption configures a collection at open time. The hook set
// is closed once the collection is open.
type CollectionOption func(*collectionOptions)

type collectionOptions struct {
	pre  []hook.PreWriteHook
	post []hook.PostWriteHook
}

// WithPreWriteHooks registers ordered pre-write hooks.
func WithPreWriteHooks(hooks ...hook.PreWriteHook) CollectionOption {
	return func(o *collectionOptions) {
		o.pre = append(o.pre, hooks...)
	}
}

// WithPostWriteHooks registers ordered post-write hooks.
func WithPostWriteHooks(hooks ...hook.PostWriteHook) CollectionOption {
	return func(o *collectionOptions) {
		o.post = append(o.post, hooks...)
	}
}

// Collection opens (or creates) the named collection, recovering from
// its WAL if needed. Repeated calls return the same instance; options
// only apply on first open.
func (e *Engine) Collection(name string, opts ...CollectionOption) (*Collection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, types.ErrEngineClosed
	}
	if col, ok := e.collections[name]; ok {
		return col, nil
	}

	var options collectionOptions
	for _, opt := range opts {
		opt(&options)
	}
	// The change feed rides the hook pipeline: every committed
	// operation is published after user post-write hooks run.
	options.post = append(options.post, e.changeFeedHook(name))

	col, err := openCollection(e, name, hook.NewPipeline(options.pre, options.post))
	if err != nil {
		return nil, err
	}
	e.collections[name] = col
	return col, nil
}

// changeFeedHook publishes committed operations to the event broker.
func (e *Engine) changeFeedHook(collection string) hook.PostWriteHook {
	return hook.PostWriteFunc(func(ctx context.Context, op types.CommittedOperation) {
		ev := &events.Event{
			Type:       events.TypeFor(op.Op.Kind),
			Collection: collection,
			DocID:      op.Op.DocID,
			TxID:       op.TxID,
			Sequence:   op.Sequence,
			Timestamp:  time.Now().UTC(),
		}
		if op.Doc != nil {
			ev.Version = op.Doc.Version
		}
		e.broker.Publish(ev)
	})
}

// Watch subscribes to the change feed for every collection on this
// engine. The subscriber must be returned via Unwatch when done.
func (e *Engine) Watch() events.Subscriber {
	return e.broker.Subscribe()
}

// Unwatch cancels a Watch subscription.
func (e *Engine) Unwatch(sub events.Subscriber) {
	e.broker.Unsubscribe(sub)
}

// Close shuts down every open collection. The engine is unusable
// afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.broker.Stop()
	e.logger.Debug().Int("collections", len(e.collections)).Msg("engine closing")

	var firstErr error
	for name, col := range e.collections {
		if err := col.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close collection %q: %w", name, err)
		}
	}
	return firstErr
}
