// Package operation tracks the lifecycle of one backup or restore run.
package operation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cassandra-backup-restore/internal/progress"
)

type Kind string

const (
	KindBackup           Kind = "backup"
	KindRestore          Kind = "restore"
	KindCommitLogBackup  Kind = "commitlog-backup"
	KindCommitLogRestore Kind = "commitlog-restore"
)

type State string

const (
	Pending   State = "PENDING"
	Running   State = "RUNNING"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
)

// Operation is the status sink of a run. It is safe for concurrent use.
type Operation struct {
	ID   uuid.UUID
	Kind Kind

	mu          sync.Mutex
	state       State
	startedAt   time.Time
	completedAt time.Time
	progress    float64
	err         error
}

var _ progress.Sink = (*Operation)(nil)

func New(kind Kind) *Operation {
	return &Operation{ID: uuid.New(), Kind: kind, state: Pending}
}

// Update records progress; values never move backwards.
func (o *Operation) Update(completed, total int64) {
	ratio := 1.0
	if total > 0 {
		ratio = float64(completed) / float64(total)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ratio > o.progress {
		o.progress = ratio
	}
}

// Run executes fn, moving the operation through RUNNING to COMPLETED or FAILED.
// A panic in fn is reported as a failure and re-raised.
func (o *Operation) Run(ctx context.Context, fn func(context.Context) error) (err error) {
	o.mu.Lock()
	if o.state != Pending {
		o.mu.Unlock()
		return fmt.Errorf("operation %s already %s", o.ID, o.state)
	}
	o.state = Running
	o.startedAt = time.Now().UTC()
	o.mu.Unlock()

	log.Info().
		Str("action", string(o.Kind)).
		Str("operation_id", o.ID.String()).
		Msg("operation started")

	defer func() {
		if r := recover(); r != nil {
			o.finish(fmt.Errorf("panic: %v", r))
			panic(r)
		}
		o.finish(err)
	}()
	return fn(ctx)
}

func (o *Operation) finish(err error) {
	o.mu.Lock()
	o.completedAt = time.Now().UTC()
	elapsed := o.completedAt.Sub(o.startedAt)
	if err != nil {
		o.state, o.err = Failed, err
	} else {
		o.state, o.progress = Completed, 1
	}
	ratio := o.progress
	o.mu.Unlock()

	if err != nil {
		log.Error().
			Err(err).
			Str("action", string(o.Kind)).
			Str("operation_id", o.ID.String()).
			Float64("progress", ratio).
			Dur("elapsed_ms", elapsed).
			Msg("operation failed")
		return
	}
	log.Info().
		Str("action", string(o.Kind)).
		Str("operation_id", o.ID.String()).
		Dur("elapsed_ms", elapsed).
		Msg(string(o.Kind) + " OK")
}

// Status is a point-in-time copy of an Operation.
type Status struct {
	ID          uuid.UUID
	Kind        Kind
	State       State
	StartedAt   time.Time
	CompletedAt time.Time
	Progress    float64
	Err         error
}

func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		ID:          o.ID,
		Kind:        o.Kind,
		State:       o.state,
		StartedAt:   o.startedAt,
		CompletedAt: o.completedAt,
		Progress:    o.progress,
		Err:         o.err,
	}
}
