package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gardennotify/internal/types"
)

func bp(b bool) *bool { return &b }

func ip(i int) *int { return &i }

func TestUserRepository_ListActive(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "LEFT JOIN notification_preferences") && strings.Contains(sql, "u.id > $1")
	}), []any{"u_0", tick, 100}).Return(newMockRows(
		[]any{"u_1", "ada@example.com", sp("arn:endpoint/1"), sp("zone-9"),
			bp(false), bp(true), bp(true), ip(8), sp("Asia/Tokyo"), bp(true), ip(20), ip(7)},
		// No preferences row.
		[]any{"u_2", "bo@example.com", nil, nil,
			nil, nil, nil, nil, nil, nil, nil, nil},
		// DND flag set without hours is ignored.
		[]any{"u_3", "cy@example.com", nil, nil,
			bp(true), bp(false), bp(false), nil, sp(""), bp(true), nil, nil},
	), nil)

	profiles, err := repo.ListActive(ctx, "u_0", tick, 100)
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	p := profiles[0]
	assert.Equal(t, "arn:endpoint/1", p.User.PushEndpoint)
	assert.Equal(t, "zone-9", p.User.ZoneKey)
	assert.False(t, p.Preferences.EmailEnabled)
	assert.True(t, p.Preferences.PushEnabled)
	require.NotNil(t, p.Preferences.DigestHour)
	assert.Equal(t, 8, *p.Preferences.DigestHour)
	assert.Equal(t, "Asia/Tokyo", p.Preferences.Timezone)
	assert.Equal(t, types.DNDWindow{Enabled: true, StartHour: 20, EndHour: 7}, p.Preferences.DND)

	assert.Equal(t, types.DefaultPreference("u_2"), profiles[1].Preferences)
	assert.Empty(t, profiles[1].User.PushEndpoint)

	assert.False(t, profiles[2].Preferences.DND.Enabled)
	assert.Equal(t, "UTC", profiles[2].Preferences.Timezone)
	db.AssertExpectations(t)
}

func TestUserRepository_ListActive_ScanError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	rows := newMockRows([]any{"u_1"})
	rows.scanErr = errors.New("bad column")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.ListActive(ctx, "", tick, 10)
	assertAppCode(t, err, types.ErrCodeInternalDB)
}

func TestUserRepository_GetProfile(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"u_1"}).Return(rowOf(
		"u_1", "ada@example.com", nil, sp("zone-9"),
		bp(true), bp(false), bp(true), nil, sp("Europe/Berlin"), bp(false), ip(22), ip(6),
	))

	p, err := repo.GetProfile(ctx, "u_1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", p.Preferences.Timezone)
	assert.Nil(t, p.Preferences.DigestHour)
	assert.False(t, p.Preferences.DND.Enabled)
}

func TestUserRepository_GetProfile_Errors(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"u_missing"}).Return(&mockRow{scanErr: pgx.ErrNoRows})
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"u_err"}).Return(&mockRow{scanErr: errors.New("timeout")})

	_, err := repo.GetProfile(ctx, "u_missing")
	assertAppCode(t, err, types.ErrCodeNotFoundUser)

	_, err = repo.GetProfile(ctx, "u_err")
	assertAppCode(t, err, types.ErrCodeInternalDB)
}
