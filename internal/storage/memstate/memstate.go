// Package memstate keeps chat states in process memory. State is lost on exit.
package memstate

import (
	"context"
	"sort"
	"sync"

	"github.com/BearBump/TrackBot/internal/models"
)

type Repo struct {
	mu     sync.RWMutex
	states map[models.ChatID]*models.ChatState
}

func New() *Repo {
	return &Repo{states: map[models.ChatID]*models.ChatState{}}
}

func (r *Repo) Get(_ context.Context, id models.ChatID) (*models.ChatState, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[id]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

func (r *Repo) Put(_ context.Context, st *models.ChatState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[st.ChatID] = st.Clone()
	return nil
}

func (r *Repo) Delete(_ context.Context, id models.ChatID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, id)
	return nil
}

func (r *Repo) ListChatIDs(_ context.Context) ([]models.ChatID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]models.ChatID, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
