package client

import (
	"context"
	"maps"

	"github.com/google/uuid"

	"poletrack/internal/database"
)

// StatusAPI 是 StatusTracker 依赖的远端接口，由 *Client 实现。
type StatusAPI interface {
	SetStatus(ctx context.Context, moveID uuid.UUID, status database.ProgressStatus, note *string) (Status, error)
	ListStatuses(ctx context.Context, filter *database.ProgressStatus) ([]Status, error)
}

// StatusTracker 在本地缓存 moveID → 状态，修改时乐观更新。
type StatusTracker struct {
	api   StatusAPI
	state *Optimistic[map[uuid.UUID]Status]
}

func NewStatusTracker(api StatusAPI) *StatusTracker {
	return &StatusTracker{
		api:   api,
		state: NewOptimistic(map[uuid.UUID]Status{}, func(m map[uuid.UUID]Status) map[uuid.UUID]Status {
			return maps.Clone(m)
		}),
	}
}

// Get 返回本地状态；未设置时 ok 为 false。
func (t *StatusTracker) Get(moveID uuid.UUID) (Status, bool) {
	s, ok := t.state.Get()[moveID]
	return s, ok
}

// Snapshot 返回全部本地状态的副本。
func (t *StatusTracker) Snapshot() map[uuid.UUID]Status {
	return t.state.Get()
}

// SetStatus 先更新本地，再写服务端；失败时本地回到修改前。
func (t *StatusTracker) SetStatus(ctx context.Context, moveID uuid.UUID, status database.ProgressStatus, note *string) error {
	var confirmed Status
	err := t.state.Apply(ctx,
		func(m *map[uuid.UUID]Status) {
			(*m)[moveID] = Status{MoveID: moveID, Status: status, Note: note}
		},
		func(ctx context.Context) error {
			var err error
			confirmed, err = t.api.SetStatus(ctx, moveID, status, note)
			return err
		},
	)
	if err != nil {
		return err
	}

	t.state.Update(func(m *map[uuid.UUID]Status) {
		if current, ok := (*m)[moveID]; ok && current.Status == status {
			(*m)[moveID] = confirmed
		}
	})
	return nil
}

// Refresh 以服务端为准重建本地状态。
func (t *StatusTracker) Refresh(ctx context.Context) error {
	rows, err := t.api.ListStatuses(ctx, nil)
	if err != nil {
		return err
	}
	next := make(map[uuid.UUID]Status, len(rows))
	for _, s := range rows {
		next[s.MoveID] = s
	}
	t.state.Set(next)
	return nil
}
