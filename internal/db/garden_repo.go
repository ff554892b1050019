package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"gardennotify/internal/types"
)

// GardenRepository reads the garden data the engine needs around a user:
// focus pins, the planting hierarchy and the zone's context snapshot. It
// never writes.
type GardenRepository struct {
	db DBTX
}

// NewGardenRepository creates a new GardenRepository backed by the given
// database connection (pool or transaction).
func NewGardenRepository(db DBTX) *GardenRepository {
	return &GardenRepository{db: db}
}

// ListFocus returns the user's focus pins, oldest first.
func (r *GardenRepository) ListFocus(ctx context.Context, userID string) ([]types.FocusItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, kind, target_id, label, created_at
		 FROM focus_items
		 WHERE user_id = $1
		 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list focus items", err)
	}
	defer rows.Close()

	var items []types.FocusItem
	for rows.Next() {
		var (
			f     types.FocusItem
			label *string
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.Kind, &f.TargetID, &label, &f.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan focus row", err)
		}
		if label != nil {
			f.Label = *label
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating focus rows", err)
	}
	return items, nil
}

// ListPlantings returns every planting in the user's gardens with the names
// of its plant, bed and garden.
func (r *GardenRepository) ListPlantings(ctx context.Context, userID string) ([]types.Planting, error) {
	rows, err := r.db.Query(ctx,
		`SELECT pl.id, p.id, p.name, b.id, b.name, g.id, g.name, pl.nickname, pl.planted_at
		 FROM plantings pl
		 JOIN plants p ON p.id = pl.plant_id
		 JOIN beds b ON b.id = pl.bed_id
		 JOIN gardens g ON g.id = b.garden_id
		 WHERE g.user_id = $1
		 ORDER BY pl.id`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plantings", err)
	}
	defer rows.Close()

	var plantings []types.Planting
	for rows.Next() {
		var (
			p        types.Planting
			nickname *string
		)
		if err := rows.Scan(
			&p.ID,
			&p.PlantID,
			&p.PlantName,
			&p.BedID,
			&p.BedName,
			&p.GardenID,
			&p.GardenName,
			&nickname,
			&p.PlantedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan planting row", err)
		}
		if nickname != nil {
			p.Nickname = *nickname
		}
		plantings = append(plantings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating planting rows", err)
	}
	return plantings, nil
}

// LatestSnapshot returns the newest context snapshot for zoneKey, or nil when
// the zone has none.
func (r *GardenRepository) LatestSnapshot(ctx context.Context, zoneKey string) (*types.ZoneSnapshot, error) {
	var s types.ZoneSnapshot
	err := r.db.QueryRow(ctx,
		`SELECT zone_key, southern, weather, soil_moisture_pct, observed_at
		 FROM context_snapshots
		 WHERE zone_key = $1
		 ORDER BY observed_at DESC
		 LIMIT 1`,
		zoneKey,
	).Scan(&s.ZoneKey, &s.Southern, &s.Weather, &s.SoilMoisturePct, &s.ObservedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get context snapshot", err)
	}
	return &s, nil
}
