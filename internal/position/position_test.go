package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jamborta/readaloud/internal/state"
)

type memStore struct {
	positions map[string]state.Position
	getErr    error
	saveErr   error
	saves     int
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]state.Position)}
}

func (m *memStore) GetPosition(ctx context.Context, bookID string) (*state.Position, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.positions[bookID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) SavePosition(ctx context.Context, p state.Position) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.positions[p.BookID] = p
	return nil
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pos(chapter, chunk int, at time.Time) *state.Position {
	return &state.Position{Kind: state.KindEPUB, BookID: "b", ChapterIndex: chapter, ChapterChunkIndex: chunk, LastModifiedAt: at}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name          string
		local, remote *state.Position
		want          *state.Position
		writeLocal    bool
		writeRemote   bool
	}{
		{"neither", nil, nil, nil, false, false},
		{"local only", pos(1, 2, t0), nil, pos(1, 2, t0), false, false},
		{"remote only", nil, pos(3, 4, t0), pos(3, 4, t0), false, false},
		{"identical", pos(1, 2, t0), pos(1, 2, t0), pos(1, 2, t0), false, false},
		{"remote newer", pos(1, 2, t0), pos(3, 4, t0.Add(time.Minute)), pos(3, 4, t0.Add(time.Minute)), true, false},
		{"local newer", pos(5, 0, t0.Add(time.Hour)), pos(3, 4, t0), pos(5, 0, t0.Add(time.Hour)), false, true},
		{"tie goes to local", pos(1, 0, t0), pos(2, 0, t0), pos(1, 0, t0), false, true},
		{"same spot newer stamp", pos(1, 2, t0), pos(1, 2, t0.Add(time.Second)), pos(1, 2, t0.Add(time.Second)), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Reconcile(tt.local, tt.remote)
			switch {
			case tt.want == nil && d.Winner != nil:
				t.Fatalf("winner = %+v, want none", d.Winner)
			case tt.want != nil && (d.Winner == nil || *d.Winner != *tt.want):
				t.Fatalf("winner = %+v, want %+v", d.Winner, tt.want)
			}
			if d.WriteLocal != tt.writeLocal || d.WriteRemote != tt.writeRemote {
				t.Errorf("writes local=%v remote=%v, want %v/%v", d.WriteLocal, d.WriteRemote, tt.writeLocal, tt.writeRemote)
			}
		})
	}
}

func TestReconcileIsCommutative(t *testing.T) {
	a, b := pos(1, 2, t0), pos(7, 9, t0.Add(time.Minute))
	ab := Reconcile(a, b)
	ba := Reconcile(b, a)
	if *ab.Winner != *ba.Winner {
		t.Errorf("winner depends on side: %+v vs %+v", ab.Winner, ba.Winner)
	}
}

func TestResolveOverwritesStaleLocal(t *testing.T) {
	local, remote := newMemStore(), newMemStore()
	local.positions["b"] = *pos(1, 2, t0)
	remote.positions["b"] = *pos(4, 0, t0.Add(time.Hour))
	r := NewReconciler(local, remote, nil, nil)

	got, err := r.Resolve(context.Background(), "b")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ChapterIndex != 4 || got.ChapterChunkIndex != 0 {
		t.Errorf("resolved %+v, want remote position", got)
	}
	if local.positions["b"].ChapterIndex != 4 {
		t.Error("local store should be overwritten with the remote position")
	}
	if remote.saves != 0 {
		t.Error("remote should not be written")
	}
}

func TestResolveIgnoresRemoteErrors(t *testing.T) {
	local, remote := newMemStore(), newMemStore()
	local.positions["b"] = *pos(2, 3, t0)
	remote.getErr = errors.New("connection refused")
	r := NewReconciler(local, remote, nil, nil)

	got, err := r.Resolve(context.Background(), "b")
	if err != nil {
		t.Fatalf("remote failure should not fail Resolve: %v", err)
	}
	if got == nil || got.ChapterIndex != 2 {
		t.Errorf("resolved %+v, want local position", got)
	}
}

func TestResolveWithoutRemote(t *testing.T) {
	r := NewReconciler(newMemStore(), nil, nil, nil)
	got, err := r.Resolve(context.Background(), "missing")
	if err != nil || got != nil {
		t.Errorf("Resolve = %+v, %v; want nil, nil", got, err)
	}
}

func TestSave(t *testing.T) {
	local, remote := newMemStore(), newMemStore()
	remote.saveErr = errors.New("offline")
	r := NewReconciler(local, remote, nil, nil)

	if err := r.Save(context.Background(), *pos(1, 1, t0)); err != nil {
		t.Fatalf("remote failures must be swallowed: %v", err)
	}
	if _, ok := local.positions["b"]; !ok {
		t.Error("local position not saved")
	}
	if remote.saves != 1 {
		t.Errorf("remote saves = %d, want 1", remote.saves)
	}

	local.saveErr = errors.New("disk full")
	if err := r.Save(context.Background(), *pos(1, 1, t0)); err == nil {
		t.Error("local failure should be returned")
	}
	if remote.saves != 1 {
		t.Error("remote should not be written after a local failure")
	}
}

func TestLocalStore(t *testing.T) {
	s, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	l := NewLocal(s)
	ctx := context.Background()

	if p, err := l.GetPosition(ctx, "b"); p != nil || err != nil {
		t.Fatalf("GetPosition on empty store = %+v, %v", p, err)
	}
	want := *pos(3, 7, t0)
	if err := l.SavePosition(ctx, want); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}
	got, err := l.GetPosition(ctx, "b")
	if err != nil || got == nil || !got.SameSpot(want) || !got.LastModifiedAt.Equal(t0) {
		t.Errorf("GetPosition = %+v, %v", got, err)
	}
}
