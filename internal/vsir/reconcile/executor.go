package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

// Op is the kind of store write a task performs.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Task is one independent store write.
type Task struct {
	Op       Op
	Rule     string
	RecordID string
	Key      string
	Record   *entity.Record
	Fields   map[string]interface{}
}

// Result is the outcome of one task.
type Result struct {
	Task
	UserID   string
	Err      error
	Duration time.Duration
}

// Writer is the part of the record store the executor writes through.
type Writer interface {
	Add(ctx context.Context, userID string, r *entity.Record) error
	Update(ctx context.Context, userID, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, userID, id string) error
}

// Dispatcher runs tasks asynchronously, reporting every result to done.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, tasks []Task, done func(Result))
}

// Executor runs each batch on a bounded goroutine pool. Tasks are isolated:
// an error or panic in one never affects its siblings, and nothing is retried.
type Executor struct {
	writer Writer
	max    int
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewExecutor(w Writer, maxConcurrent int, logger *zap.Logger) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{writer: w, max: maxConcurrent, logger: logger}
}

func (x *Executor) Dispatch(ctx context.Context, userID string, tasks []Task, done func(Result)) {
	if len(tasks) == 0 {
		return
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		p := pool.New().WithMaxGoroutines(x.max)
		for _, t := range tasks {
			t := t
			p.Go(func() {
				res := x.run(ctx, userID, t)
				if res.Err != nil {
					x.logger.Warn("vsir write failed",
						zap.String("rule", t.Rule),
						zap.String("op", string(t.Op)),
						zap.String("record_id", t.RecordID),
						zap.Error(res.Err))
				} else {
					x.logger.Debug("vsir write done",
						zap.String("rule", t.Rule),
						zap.String("op", string(t.Op)),
						zap.String("record_id", t.RecordID),
						zap.Duration("latency", res.Duration))
				}
				done(res)
			})
		}
		p.Wait()
	}()
}

func (x *Executor) run(ctx context.Context, userID string, t Task) Result {
	res := Result{Task: t, UserID: userID}
	start := time.Now()
	var pc panics.Catcher
	pc.Try(func() {
		switch t.Op {
		case OpCreate:
			rec := *t.Record
			res.Err = x.writer.Add(ctx, userID, &rec)
		case OpUpdate:
			res.Err = x.writer.Update(ctx, userID, t.RecordID, t.Fields)
		case OpDelete:
			res.Err = x.writer.Delete(ctx, userID, t.RecordID)
		}
	})
	if r := pc.Recovered(); r != nil {
		res.Err = r.AsError()
	}
	res.Duration = time.Since(start)
	return res
}

// Wait blocks until every dispatched batch has finished.
func (x *Executor) Wait() {
	x.wg.Wait()
}
