package scores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/steptrack/steptrack/internal/domain"
)

// memStore is an in-memory Store used by the core tests. Submit serializes
// all transactions behind a single mutex and restores a snapshot on error,
// which matches the rollback discipline the real store provides.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	rows    []domain.Score
	players map[int64]domain.Player
	rivals  map[int64][]int64

	// submitErr, when set, is returned by Submit the first failTimes calls.
	submitErr error
	failTimes int
}

func newMemStore() *memStore {
	return &memStore{
		players: make(map[int64]domain.Player),
		rivals:  make(map[int64][]int64),
	}
}

func (m *memStore) addPlayer(id int64, machineTag, name string) {
	m.players[id] = domain.Player{ID: id, MachineTag: machineTag, Name: name}
}

func (m *memStore) addRival(playerID, rivalID int64) {
	m.rivals[playerID] = append(m.rivals[playerID], rivalID)
}

func (m *memStore) GetTop(ctx context.Context, songHash string, playerID int64) (*domain.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].SongHash == songHash && m.rows[i].PlayerID == playerID && m.rows[i].IsTop {
			row := m.rows[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (m *memStore) CountGreaterTop(ctx context.Context, songHash string, value int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for i := range m.rows {
		if m.rows[i].SongHash == songHash && m.rows[i].IsTop && m.rows[i].Value > value {
			count++
		}
	}
	return count, nil
}

func (m *memStore) RangeTop(ctx context.Context, songHash string, exclude []int64, limit int) ([]domain.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	excluded := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []domain.Score
	for i := range m.rows {
		if m.rows[i].SongHash == songHash && m.rows[i].IsTop && !excluded[m.rows[i].ID] {
			out = append(out, m.rows[i])
		}
	}
	sortTopOrder(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) RivalsTop(ctx context.Context, songHash string, playerID int64, limit int) ([]domain.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rivals := make(map[int64]bool)
	for _, id := range m.rivals[playerID] {
		rivals[id] = true
	}
	var out []domain.Score
	for i := range m.rows {
		if m.rows[i].SongHash == songHash && m.rows[i].IsTop && rivals[m.rows[i].PlayerID] {
			out = append(out, m.rows[i])
		}
	}
	sortTopOrder(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Submit(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTimes > 0 {
		m.failTimes--
		return m.submitErr
	}
	snapshot := make([]domain.Score, len(m.rows))
	copy(snapshot, m.rows)
	if err := fn(&memTx{store: m}); err != nil {
		m.rows = snapshot
		return err
	}
	return nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) LockTop(ctx context.Context, songHash string, playerID int64) (*domain.Score, error) {
	for i := range t.store.rows {
		row := &t.store.rows[i]
		if row.SongHash == songHash && row.PlayerID == playerID && row.IsTop {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (t *memTx) SetTop(ctx context.Context, scoreID int64, top bool) error {
	for i := range t.store.rows {
		if t.store.rows[i].ID == scoreID {
			t.store.rows[i].IsTop = top
			return nil
		}
	}
	return domain.ErrScoreNotFound
}

func (t *memTx) Insert(ctx context.Context, sub domain.Submission, submittedAt time.Time, isTop bool) (*domain.Score, error) {
	t.store.nextID++
	player := t.store.players[sub.PlayerID]
	row := domain.Score{
		ID:          t.store.nextID,
		SongHash:    sub.SongHash,
		PlayerID:    sub.PlayerID,
		SubmittedAt: submittedAt,
		Value:       sub.Value,
		Comment:     sub.Comment,
		ProfileName: sub.ProfileName,
		IsTop:       isTop,
		PlayerName:  player.Name,
		MachineTag:  player.MachineTag,
	}
	t.store.rows = append(t.store.rows, row)
	copied := row
	return &copied, nil
}

func sortTopOrder(rows []domain.Score) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		return rows[i].SubmittedAt.After(rows[j].SubmittedAt)
	})
}
