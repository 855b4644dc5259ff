package service

import (
	"context"

	"github.com/timmy/eventgallery/internal/index"
	"github.com/timmy/eventgallery/internal/logger"
	"github.com/timmy/eventgallery/internal/metrics"
)

// existenceChecker is the part of GalleryStore the Reconciler needs.
type existenceChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Reconciler removes index entries that have no gallery record. Ids arrive
// through Report and are handled by Run in the background.
type Reconciler struct {
	store  existenceChecker
	index  index.Index
	queue  chan string
	logger *logger.Logger
}

// NewReconciler creates a Reconciler with a queue of queueSize ids.
func NewReconciler(store existenceChecker, idx index.Index, queueSize int, log *logger.Logger) *Reconciler {
	if queueSize <= 0 {
		queueSize = 1
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Reconciler{
		store:  store,
		index:  idx,
		queue:  make(chan string, queueSize),
		logger: log,
	}
}

// Report queues ids for checking. It never blocks; ids are dropped when the
// queue is full. A nil Reconciler ignores reports.
func (r *Reconciler) Report(ids ...string) {
	if r == nil {
		return
	}
	for _, id := range ids {
		select {
		case r.queue <- id:
		default:
			metrics.ReconcileTotal.WithLabelValues("dropped").Inc()
			r.logger.WithField(logger.FieldImageID, id).Warn("Reconcile queue full, dropping stale id")
		}
	}
}

// Run processes reported ids until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ctx = logger.SetComponent(ctx, "reconciler")
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.reconcile(ctx, id)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context, id string) {
	log := r.logger.WithField(logger.FieldImageID, id)

	exists, err := r.store.Exists(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Reconcile: store lookup failed")
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return
	}
	if exists {
		// Pending ingestion or a record that reappeared; leave it alone.
		metrics.ReconcileTotal.WithLabelValues("kept").Inc()
		return
	}

	if err := r.index.Remove(ctx, id); err != nil {
		log.WithError(err).Warn("Reconcile: index remove failed")
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.ReconcileTotal.WithLabelValues("removed").Inc()
	log.Info("Removed stale index entry")
}
