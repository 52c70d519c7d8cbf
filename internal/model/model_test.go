package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func parse(t *testing.T, m any) *schema.Schema {
	t.Helper()
	s, err := schema.Parse(m, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	return s
}

func TestSchemas(t *testing.T) {
	want := map[string]bool{
		"sessions":         false,
		"collisions":       true,
		"lane_invasions":   true,
		"proximity_alerts": true,
		"gnss_fixes":       true,
		"performances":     true,
	}
	require.Len(t, DatabaseModels, len(want))

	for _, m := range DatabaseModels {
		s := parse(t, m)
		perSession, ok := want[s.Table]
		require.True(t, ok, "unexpected table %s", s.Table)

		t.Run(s.Table, func(t *testing.T) {
			fk := s.LookUpField("SessionID")
			if !perSession {
				assert.Nil(t, fk)
				return
			}
			require.NotNil(t, fk, "rows must point at their session")
			var indexed bool
			for _, idx := range s.ParseIndexes() {
				for _, f := range idx.Fields {
					indexed = indexed || f.DBName == "session_id"
				}
			}
			assert.True(t, indexed, "session_id must be indexed")
		})
	}
}

func TestSessionRecord_UniqueUID(t *testing.T) {
	s := parse(t, &SessionRecord{})
	f := s.LookUpField("SessionUID")
	require.NotNil(t, f)
	assert.Equal(t, "session_uid", f.DBName)
	assert.Equal(t, 36, f.Size)

	for _, rel := range []string{"Collisions", "LaneInvasions", "ProximityAlerts"} {
		assert.Contains(t, s.Relationships.HasMany, s.Relationships.Relations[rel], rel)
	}
}
