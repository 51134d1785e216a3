// Package journal keeps an audit record of every job in a document store.
// Records are written as the run progresses and never read back to resume a
// run.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/coord"
	"go.uber.org/zap"
)

type Entry struct {
	Kind  coord.EventKind `json:"kind"`
	At    time.Time       `json:"at"`
	Early bool            `json:"early,omitempty"`
	Err   string          `json:"error,omitempty"`
}

// Doc is the stored record of one job.
type Doc struct {
	ID        string         `json:"_id"`
	Rev       string         `json:"_rev,omitempty"`
	Type      string         `json:"type"`
	Protocol  deoxy.Protocol `json:"protocol"`
	Program   []deoxy.Action `json:"program"`
	State     coord.State    `json:"state"`
	Partial   bool           `json:"partial"`
	Completed []deoxy.Action `json:"completed"`
	Events    []Entry        `json:"events"`
	Started   time.Time      `json:"started"`
	Updated   time.Time      `json:"updated"`
}

// Store persists documents. Put returns the new revision.
type Store interface {
	Put(ctx context.Context, id string, doc *Doc) (string, error)
	Close() error
}

// Journal is a coordinator subscriber that mirrors each job into a Store.
type Journal struct {
	store  Store
	logger *zap.Logger
	mu     sync.Mutex
	doc    *Doc
}

var _ coord.Subscriber = (*Journal)(nil)

func New(store Store, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{store: store, logger: logger}
}

// apply folds an event and the job snapshot taken after it into doc.
func apply(doc *Doc, ev coord.Event, job *coord.Job) *Doc {
	if doc == nil || doc.ID != ev.Job.String() {
		doc = &Doc{
			ID:      ev.Job.String(),
			Type:    "job",
			Started: ev.At,
		}
	}
	doc.Events = append(doc.Events, Entry{Kind: ev.Kind, At: ev.At, Early: ev.Early, Err: ev.Err})
	doc.Updated = ev.At
	if ev.Protocol != nil {
		doc.Protocol = *ev.Protocol
	}
	if job != nil && job.ID == ev.Job {
		doc.Protocol = job.Protocol
		doc.Program = job.Program
		doc.State = job.State
		doc.Partial = job.Partial
		doc.Completed = job.Completed
	}
	return doc
}

func (j *Journal) Handle(ev coord.Event, ctl coord.Controller) {
	if ev.Job == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var job *coord.Job
	if ctl != nil {
		var err error
		job, err = ctl.Job(ctx)
		if err != nil {
			j.logger.Warn("could not snapshot job", zap.Error(err))
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.doc = apply(j.doc, ev, job)
	rev, err := j.store.Put(ctx, j.doc.ID, j.doc)
	if err != nil {
		j.logger.Error("failed to journal event", zap.String("job", j.doc.ID), zap.Stringer("event", ev.Kind), zap.Error(err))
		return
	}
	j.doc.Rev = rev
}

func (j *Journal) Close() error {
	return j.store.Close()
}
