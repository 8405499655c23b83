// Package position keeps the local and the remote reading position of a
// book in agreement.
package position

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jamborta/readaloud/internal/logging"
	"github.com/jamborta/readaloud/internal/observe"
	"github.com/jamborta/readaloud/internal/state"
)

// Store reads and writes reading positions. GetPosition returns (nil, nil)
// when the book has no position.
type Store interface {
	GetPosition(ctx context.Context, bookID string) (*state.Position, error)
	SavePosition(ctx context.Context, p state.Position) error
}

// Local adapts the on-disk state store.
type Local struct {
	s *state.StateStore
}

var _ Store = (*Local)(nil)

// NewLocal returns a Store over s.
func NewLocal(s *state.StateStore) *Local {
	return &Local{s: s}
}

func (l *Local) GetPosition(ctx context.Context, bookID string) (*state.Position, error) {
	p, ok := l.s.Position(bookID)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (l *Local) SavePosition(ctx context.Context, p state.Position) error {
	return l.s.SetPosition(p)
}

// Decision is the outcome of reconciling two positions.
type Decision struct {
	// Winner is the position to use, nil when neither side has one.
	Winner *state.Position
	// WriteLocal and WriteRemote tell which side must be overwritten with
	// Winner.
	WriteLocal  bool
	WriteRemote bool
}

// Reconcile picks between a local and a remote position. The most recently
// modified one wins; on equal timestamps local wins. Identical positions
// need no writes.
func Reconcile(local, remote *state.Position) Decision {
	switch {
	case local == nil && remote == nil:
		return Decision{}
	case remote == nil:
		return Decision{Winner: local}
	case local == nil:
		return Decision{Winner: remote}
	}
	if local.SameSpot(*remote) && local.LastModifiedAt.Equal(remote.LastModifiedAt) {
		return Decision{Winner: local}
	}
	if remote.LastModifiedAt.After(local.LastModifiedAt) {
		return Decision{Winner: remote, WriteLocal: true}
	}
	return Decision{Winner: local, WriteRemote: true}
}

// Reconciler resolves and saves positions across a local and an optional
// remote store.
type Reconciler struct {
	local   Store
	remote  Store
	log     logrus.FieldLogger
	metrics *observe.Metrics
}

// NewReconciler returns a reconciler. remote may be nil.
func NewReconciler(local, remote Store, log logrus.FieldLogger, metrics *observe.Metrics) *Reconciler {
	return &Reconciler{
		local:   local,
		remote:  remote,
		log:     logging.Or(log),
		metrics: observe.Or(metrics),
	}
}

// Resolve returns the position to restore for bookID, or nil when there is
// none, and brings the losing store up to date. Remote failures are logged
// and treated as an absent remote position.
func (r *Reconciler) Resolve(ctx context.Context, bookID string) (*state.Position, error) {
	local, err := r.local.GetPosition(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("read local position: %w", err)
	}

	var remote *state.Position
	if r.remote != nil {
		remote, err = r.remote.GetPosition(ctx, bookID)
		if err != nil {
			r.log.WithError(err).WithField("book", bookID).Warn("remote position unavailable")
			remote = nil
		}
	}

	d := Reconcile(local, remote)
	log := r.log.WithField("book", bookID)
	if d.WriteLocal {
		log.Info("remote position is newer, updating local")
		err := r.local.SavePosition(ctx, *d.Winner)
		r.metrics.RecordPositionSave(ctx, "local", err)
		if err != nil {
			return d.Winner, fmt.Errorf("update local position: %w", err)
		}
	}
	if d.WriteRemote {
		log.Info("local position is newer, updating remote")
		err := r.remote.SavePosition(ctx, *d.Winner)
		r.metrics.RecordPositionSave(ctx, "remote", err)
		if err != nil {
			log.WithError(err).Warn("updating remote position failed")
		}
	}
	return d.Winner, nil
}

// Save writes p locally and then, best effort, remotely.
func (r *Reconciler) Save(ctx context.Context, p state.Position) error {
	err := r.local.SavePosition(ctx, p)
	r.metrics.RecordPositionSave(ctx, "local", err)
	if err != nil {
		return fmt.Errorf("save local position: %w", err)
	}
	if r.remote == nil {
		return nil
	}
	err = r.remote.SavePosition(ctx, p)
	r.metrics.RecordPositionSave(ctx, "remote", err)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"book":    p.BookID,
			"chapter": p.ChapterIndex,
			"chunk":   p.ChapterChunkIndex,
		}).Warn("saving remote position failed")
	}
	return nil
}
