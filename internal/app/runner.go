package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// stage - компонент, который останавливается отменой своего контекста.
type stage struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// runner запускает компоненты в errgroup и при отмене останавливает их
// по одному в порядке добавления, дожидаясь завершения каждого.
type runner struct {
	g      *errgroup.Group
	ctx    context.Context
	stages []*stage
	logger *zap.Logger
}

func newRunner(ctx context.Context, logger *zap.Logger) *runner {
	g, gctx := errgroup.WithContext(ctx)
	return &runner{g: g, ctx: gctx, logger: logger}
}

// Stage запускает fn с собственным контекстом. Ошибка fn (кроме отмены)
// останавливает все компоненты.
func (r *runner) Stage(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.ctx))
	st := &stage{name: name, cancel: cancel, done: make(chan struct{})}
	r.stages = append(r.stages, st)

	r.g.Go(func() error {
		defer close(st.done)
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// Go запускает fn, который завершается сам (например, когда закрыт его
// канал событий). Wait дожидается и его.
func (r *runner) Go(name string, fn func() error) {
	r.g.Go(func() error {
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// Wait блокируется до отмены контекста или первой ошибки, затем
// останавливает компоненты и возвращает первую ошибку.
func (r *runner) Wait() error {
	r.g.Go(func() error {
		<-r.ctx.Done()
		for _, st := range r.stages {
			st.cancel()
			<-st.done
			r.logger.Debug("component stopped", zap.String("component", st.name))
		}
		return nil
	})
	return r.g.Wait()
}
