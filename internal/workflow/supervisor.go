package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/graph"
	"github.com/specialistvlad/burstflow/internal/localexecutor"
	"github.com/specialistvlad/burstflow/internal/node"
	"github.com/specialistvlad/burstflow/internal/nodestore"
)

// supervisor applies the failure policy and decides when a run is over.
// It never takes w.mu: it is called from dispatcher goroutines and from
// code that already holds the lock.
type supervisor struct {
	w *Workflow
	r *run
	g graph.Graph
}

var _ localexecutor.Supervisor = (*supervisor)(nil)

func (s *supervisor) TaskFailed(ctx context.Context, id string, _ error) {
	logger := ctxlog.FromContext(ctx).With("task", id, "policy", s.w.opts.failurePolicy)

	switch s.w.opts.failurePolicy {
	case PolicyContinue:
		s.cancelDescendants(ctx, id)
	case PolicyCancel:
		if s.fail(ctx) {
			logger.Warn("Task failed, cancelling in-flight tasks.")
			if s.r != nil {
				s.r.cancel()
			}
		}
	default:
		if s.fail(ctx) {
			logger.Warn("Task failed, no new tasks will start.")
		}
	}
}

// fail moves a live run to Failed.
func (s *supervisor) fail(ctx context.Context) bool {
	states := s.g.States()
	for _, from := range []nodestore.AggregateStatus{nodestore.Running, nodestore.Paused} {
		if states.CompareAndSetAggregate(ctx, from, nodestore.Failed) {
			s.w.emitAggregate(nodestore.Failed)
			return true
		}
	}
	return false
}

func (s *supervisor) cancelDescendants(ctx context.Context, id string) {
	logger := ctxlog.FromContext(ctx)
	descendants, err := s.g.DescendantsOf(ctx, id)
	if err != nil {
		logger.Error("Could not resolve dependents of failed task.", "task", id, "error", err)
		return
	}

	reason := fmt.Errorf("upstream task %q failed", id)
	now := time.Now()
	for _, d := range descendants {
		for _, from := range []node.Status{node.Pending, node.Ready} {
			if s.g.States().Finish(ctx, d, from, node.Cancelled, nil, reason, now) {
				logger.Info("Cancelled dependent of failed task.", "task", d, "failed", id)
				s.w.emit(Event{Kind: localexecutor.TaskCancelled, TaskID: d, Status: node.Cancelled, Err: reason, At: now})
				break
			}
		}
	}
}

func (s *supervisor) Drained(ctx context.Context) {
	c := s.g.Counts(ctx)
	if !c.Terminal() {
		return
	}

	next := nodestore.Completed
	if c.Succeeded != c.Total {
		next = nodestore.Failed
	}
	for _, from := range []nodestore.AggregateStatus{nodestore.Running, nodestore.Paused} {
		if s.g.States().CompareAndSetAggregate(ctx, from, next) {
			s.w.emitAggregate(next)
			return
		}
	}
}
