package migration

import (
	"testing"
	"time"

	"github.com/opencompanion/companion/src/migration/migrations"
	"github.com/opencompanion/companion/src/migration/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(day int) types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 10, day, 0, 0, 0, 0, time.UTC))
}

func TestRegisteredMigrations(t *testing.T) {
	versions := getSortedMigrationVersions()
	require.NotEmpty(t, versions)
	assert.Equal(t, versions[len(versions)-1], LatestVersion())

	names := map[string]bool{}
	for i, version := range versions {
		m := migrations.All[version]
		assert.True(t, m.Version().Equal(version))
		assert.False(t, names[m.Name()], "duplicate migration name %s", m.Name())
		names[m.Name()] = true
		if i > 0 {
			assert.True(t, versions[i-1].Before(version))
		}
	}
}

func TestPlanMigrations(t *testing.T) {
	all := []types.MigrationVersion{v(1), v(2), v(3)}

	t.Run("fresh database", func(t *testing.T) {
		steps, forward, err := planMigrations(all, types.MigrationVersion{}, v(3))
		require.Nil(t, err)
		assert.True(t, forward)
		assert.Equal(t, all, steps)
	})
	t.Run("partial forward", func(t *testing.T) {
		steps, forward, err := planMigrations(all, v(1), v(2))
		require.Nil(t, err)
		assert.True(t, forward)
		assert.Equal(t, []types.MigrationVersion{v(2)}, steps)
	})
	t.Run("roll back", func(t *testing.T) {
		steps, forward, err := planMigrations(all, v(3), v(1))
		require.Nil(t, err)
		assert.False(t, forward)
		assert.Equal(t, []types.MigrationVersion{v(3), v(2)}, steps)
	})
	t.Run("up to date", func(t *testing.T) {
		steps, _, err := planMigrations(all, v(2), v(2))
		require.Nil(t, err)
		assert.Empty(t, steps)
	})
	t.Run("unknown target", func(t *testing.T) {
		_, _, err := planMigrations(all, v(1), v(9))
		assert.ErrorIs(t, err, errUnknownMigration)
	})
	t.Run("unknown current", func(t *testing.T) {
		_, _, err := planMigrations(all, v(7), v(3))
		assert.ErrorIs(t, err, errUnknownMigration)
	})
}

func TestPreviousVersion(t *testing.T) {
	all := []types.MigrationVersion{v(1), v(2), v(3)}
	assert.Equal(t, v(2), previousVersion(all, v(3)))
	assert.True(t, previousVersion(all, v(1)).IsZero())
}

func TestRandomCharacter(t *testing.T) {
	char := randomCharacter(3)
	assert.Nil(t, char.Validate())
	assert.Contains(t, char.Name, "Dmitri")
	assert.Contains(t, char.Description, char.Name)
}
