// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/portctl/internal/store"
)

// Run exercises s against the store.Store contract. s must start empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	auto, err := s.IsAutoKillEnabled(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultAutoKill, auto)
	confirm, err := s.IsConfirmKillEnabled(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultConfirmKill, confirm)

	missing, err := s.GetPortMapping(ctx, 3000)
	require.NoError(t, err)
	assert.Nil(t, missing)

	used := time.Date(2025, 12, 13, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.AddPortMapping(ctx, store.Mapping{Port: 8080, ProjectName: "api", ProjectPath: "/src/api", LastUsed: used}))
	require.NoError(t, s.AddPortMapping(ctx, store.Mapping{Port: 3000, ProjectName: "web", ProjectPath: "/src/web"}))
	require.NoError(t, s.AddPortMapping(ctx, store.Mapping{Port: 3001, ProjectName: "web", ProjectPath: "/src/web", AutoKill: true}))
	assert.ErrorIs(t, s.AddPortMapping(ctx, store.Mapping{Port: 0, ProjectPath: "/x"}), store.ErrInvalidMapping)

	got, err := s.GetPortMapping(ctx, 8080)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "api", got.ProjectName)
	assert.Equal(t, store.CleanPath("/src/api"), got.ProjectPath)
	assert.True(t, used.Equal(got.LastUsed), "last used %v", got.LastUsed)

	// upsert replaces in place
	require.NoError(t, s.AddPortMapping(ctx, store.Mapping{Port: 8080, ProjectName: "api2", ProjectPath: "/src/api"}))
	got, err = s.GetPortMapping(ctx, 8080)
	require.NoError(t, err)
	assert.Equal(t, "api2", got.ProjectName)
	assert.True(t, got.LastUsed.IsZero())

	all, err := s.GetAllMappings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{3000, 3001, 8080}, []int{all[0].Port, all[1].Port, all[2].Port})

	web, err := s.GetMappingsForProject(ctx, "/src/web")
	require.NoError(t, err)
	require.Len(t, web, 2)
	assert.True(t, web[1].AutoKill)

	require.NoError(t, s.RemovePortMapping(ctx, 3000))
	require.NoError(t, s.RemovePortMapping(ctx, 3000))
	gone, err := s.GetPortMapping(ctx, 3000)
	require.NoError(t, err)
	assert.Nil(t, gone)

	require.NoError(t, s.SetAutoKill(ctx, true))
	require.NoError(t, s.SetConfirmKill(ctx, false))
	auto, err = s.IsAutoKillEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, auto)
	confirm, err = s.IsConfirmKillEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, confirm)
}
