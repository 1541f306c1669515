package repository

import (
	"context"
	"time"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"
	"gorm.io/gorm/clause"

	"github.com/antinvestor/service-messaging/service/models"
)

type presenceRepository struct {
	datastore.BaseRepository[*models.PresenceRecord]
}

// upsert inserts or refreshes the single presence row for a profile.
func (pr *presenceRepository) upsert(ctx context.Context, record *models.PresenceRecord) error {
	return pr.Pool().DB(ctx, false).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "profile_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"online":    record.Online,
				"last_seen": record.LastSeen,
			}),
		}).
		Create(record).Error
}

// SetOnline marks a profile online and clears its last seen timestamp.
func (pr *presenceRepository) SetOnline(ctx context.Context, profileID string) error {
	return pr.upsert(ctx, &models.PresenceRecord{
		ProfileID: profileID,
		Online:    true,
		LastSeen:  nil,
	})
}

// SetOffline marks a profile offline and records when it was last seen.
func (pr *presenceRepository) SetOffline(ctx context.Context, profileID string, lastSeen time.Time) error {
	return pr.upsert(ctx, &models.PresenceRecord{
		ProfileID: profileID,
		Online:    false,
		LastSeen:  &lastSeen,
	})
}

// GetByProfileID retrieves the presence record for a profile. Returns
// (nil, nil) when the profile has never connected.
func (pr *presenceRepository) GetByProfileID(
	ctx context.Context, profileID string,
) (*models.PresenceRecord, error) {
	record := &models.PresenceRecord{}
	err := pr.Pool().DB(ctx, true).First(record, "profile_id = ?", profileID).Error
	if err != nil {
		if data.ErrorIsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// ListOnline retrieves all profiles currently marked online.
func (pr *presenceRepository) ListOnline(ctx context.Context) ([]*models.PresenceRecord, error) {
	var records []*models.PresenceRecord
	err := pr.Pool().DB(ctx, true).
		Where("online = ?", true).
		Order("profile_id ASC").
		Find(&records).Error
	return records, err
}

// NewPresenceRepository creates a new presence repository instance.
func NewPresenceRepository(
	ctx context.Context, dbPool pool.Pool, workMan workerpool.Manager,
) PresenceRepository {
	return &presenceRepository{
		BaseRepository: datastore.NewBaseRepository[*models.PresenceRecord](
			ctx, dbPool, workMan, func() *models.PresenceRecord { return &models.PresenceRecord{} },
		),
	}
}
