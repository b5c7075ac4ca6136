package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/infrastructure/persistence/models"
)

// batchChunkSize bounds the number of rows per gorm CreateInBatches call,
// honoring spec §4.1's "respect the backing store's per-batch parameter
// limit by chunking" requirement. Grounded on the teacher's
// gorm_agent_repository.go save pattern, generalized to batch inserts.
const batchChunkSize = 200

// GormEventStore implements repository.EventStore over gorm, following the
// teacher's toModel/toEntity conversion convention
// (persistence/gorm_agent_repository.go).
type GormEventStore struct {
	db *gorm.DB
}

func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

func (s *GormEventStore) AppendEvent(ctx context.Context, agentID string, e entity.Event) (uint64, error) {
	maxSeq, err := s.MaxSeq(ctx, agentID)
	if err != nil {
		return 0, err
	}
	seq := maxSeq + 1
	data, err := json.Marshal(e.Data)
	if err != nil {
		return 0, fmt.Errorf("marshal event data: %w", err)
	}
	m := models.EventModel{AgentID: agentID, Seq: seq, Type: string(e.Type), Data: string(data), TS: e.TS}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *GormEventStore) ListEvents(ctx context.Context, agentID string) ([]entity.Event, error) {
	var rows []models.EventModel
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toEvents(rows)
}

func (s *GormEventStore) EventsAfter(ctx context.Context, agentID string, seq uint64) ([]entity.Event, error) {
	var rows []models.EventModel
	if err := s.db.WithContext(ctx).Where("agent_id = ? AND seq > ?", agentID, seq).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toEvents(rows)
}

func (s *GormEventStore) MaxSeq(ctx context.Context, agentID string) (uint64, error) {
	var max uint64
	row := s.db.WithContext(ctx).Model(&models.EventModel{}).
		Where("agent_id = ?", agentID).Select("COALESCE(MAX(seq), 0)").Row()
	if row == nil {
		return 0, nil
	}
	if err := row.Scan(&max); err != nil {
		return 0, nil
	}
	return max, nil
}

func (s *GormEventStore) EventCount(ctx context.Context, agentID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.EventModel{}).Where("agent_id = ?", agentID).Count(&count).Error
	return count, err
}

func (s *GormEventStore) AddSnapshot(ctx context.Context, agentID string, snap entity.Snapshot) error {
	data, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal snapshot state: %w", err)
	}
	m := models.SnapshotModel{AgentID: agentID, LastEventSeq: snap.LastEventSeq, State: string(data), CreatedAt: snap.CreatedAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (s *GormEventStore) LatestSnapshot(ctx context.Context, agentID string) (*entity.Snapshot, error) {
	var row models.SnapshotModel
	err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("last_event_seq desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toSnapshot(row)
}

func (s *GormEventStore) SnapshotAt(ctx context.Context, agentID string, seq uint64) (*entity.Snapshot, error) {
	var row models.SnapshotModel
	err := s.db.WithContext(ctx).Where("agent_id = ? AND last_event_seq <= ?", agentID, seq).
		Order("last_event_seq desc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toSnapshot(row)
}

func (s *GormEventStore) PruneSnapshots(ctx context.Context, agentID string, keep int) error {
	var rows []models.SnapshotModel
	if err := s.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("last_event_seq desc").Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) <= keep {
		return nil
	}
	for _, r := range rows[keep:] {
		if err := s.db.WithContext(ctx).Delete(&models.SnapshotModel{}, "agent_id = ? AND last_event_seq = ?", agentID, r.LastEventSeq).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *GormEventStore) AddEvents(ctx context.Context, agentID string, events []entity.Event) (int, error) {
	maxSeq, err := s.MaxSeq(ctx, agentID)
	if err != nil {
		return 0, err
	}
	rows := make([]models.EventModel, 0, len(events))
	for i, e := range events {
		data, merr := json.Marshal(e.Data)
		if merr != nil {
			return 0, fmt.Errorf("marshal event data: %w", merr)
		}
		rows = append(rows, models.EventModel{
			AgentID: agentID,
			Seq:     maxSeq + uint64(i) + 1,
			Type:    string(e.Type),
			Data:    string(data),
			TS:      e.TS,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, batchChunkSize).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *GormEventStore) KVGet(ctx context.Context, agentID, prefix, key string) (string, bool, error) {
	var row models.KVModel
	err := s.db.WithContext(ctx).Where("agent_id = ? AND prefix = ? AND key = ?", agentID, prefix, key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Value, true, nil
}

func (s *GormEventStore) KVSet(ctx context.Context, agentID, prefix, key, value string) error {
	m := models.KVModel{AgentID: agentID, Prefix: prefix, Key: key, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (s *GormEventStore) KVDelete(ctx context.Context, agentID, prefix, key string) error {
	return s.db.WithContext(ctx).Delete(&models.KVModel{}, "agent_id = ? AND prefix = ? AND key = ?", agentID, prefix, key).Error
}

func (s *GormEventStore) KVList(ctx context.Context, agentID, prefix string) (map[string]string, error) {
	var rows []models.KVModel
	if err := s.db.WithContext(ctx).Where("agent_id = ? AND prefix = ?", agentID, prefix).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func toEvents(rows []models.EventModel) ([]entity.Event, error) {
	out := make([]entity.Event, 0, len(rows))
	for _, r := range rows {
		var data map[string]any
		if r.Data != "" {
			if err := json.Unmarshal([]byte(r.Data), &data); err != nil {
				return nil, fmt.Errorf("unmarshal event %d data: %w", r.Seq, err)
			}
		}
		out = append(out, entity.Event{Seq: r.Seq, Type: entity.EventType(r.Type), TS: r.TS, Data: data})
	}
	return out, nil
}

func toSnapshot(row models.SnapshotModel) (*entity.Snapshot, error) {
	var state entity.Projection
	if err := json.Unmarshal([]byte(row.State), &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot state: %w", err)
	}
	return &entity.Snapshot{LastEventSeq: row.LastEventSeq, State: state, CreatedAt: row.CreatedAt}, nil
}
