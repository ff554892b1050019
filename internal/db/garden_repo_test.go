package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gardennotify/internal/types"
)

func TestGardenRepository_ListFocus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGardenRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"u_1"}).Return(newMockRows(
		[]any{"f_1", "u_1", "bed", "bed_1", sp("Raised bed"), tick},
		[]any{"f_2", "u_1", "planting", "pl_1", nil, tick.Add(time.Minute)},
	), nil)

	items, err := repo.ListFocus(ctx, "u_1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, types.TargetBed, items[0].Kind)
	assert.Equal(t, "Raised bed", items[0].Label)
	assert.Empty(t, items[1].Label)
}

func TestGardenRepository_ListPlantings(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGardenRepository(db)
	ctx := context.Background()

	planted := tick.Add(-30 * 24 * time.Hour)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"u_1"}).Return(newMockRows(
		[]any{"pl_1", "p_1", "Tomato", "bed_1", "North bed", "g_1", "Backyard", sp("Big Red"), tp(planted)},
		[]any{"pl_2", "p_2", "Basil", "bed_1", "North bed", "g_1", "Backyard", nil, nil},
	), nil)

	plantings, err := repo.ListPlantings(ctx, "u_1")
	require.NoError(t, err)
	require.Len(t, plantings, 2)
	assert.Equal(t, "Big Red", plantings[0].Nickname)
	require.NotNil(t, plantings[0].PlantedAt)
	assert.True(t, plantings[0].PlantedAt.Equal(planted))
	assert.Nil(t, plantings[1].PlantedAt)
	assert.Equal(t, "Backyard", plantings[1].GardenName)
}

func TestGardenRepository_ListPlantings_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGardenRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("down"))

	_, err := repo.ListPlantings(ctx, "u_1")
	assertAppCode(t, err, types.ErrCodeInternalDB)
}

func TestGardenRepository_LatestSnapshot(t *testing.T) {
	db := new(mockDBTX)
	repo := NewGardenRepository(db)
	ctx := context.Background()

	moisture := 18.5
	weather := &types.WeatherObservation{TempC: 4, MinTempC: -1, MaxTempC: 9}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"zone-9"}).
		Return(rowOf("zone-9", true, weather, &moisture, tick))
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"zone-empty"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	snap, err := repo.LatestSnapshot(ctx, "zone-9")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Southern)
	assert.Equal(t, -1.0, snap.Weather.MinTempC)
	assert.Equal(t, 18.5, *snap.SoilMoisturePct)

	snap, err = repo.LatestSnapshot(ctx, "zone-empty")
	require.NoError(t, err)
	assert.Nil(t, snap)
}
