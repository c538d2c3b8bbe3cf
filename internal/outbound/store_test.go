package outbound

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alarmpipe/alarmpipe/internal/datastore"
	"github.com/alarmpipe/alarmpipe/internal/datastore/entities"
	"github.com/alarmpipe/alarmpipe/internal/datastore/repository"
)

func TestStoreSink_IndexesByEventID(t *testing.T) {
	t.Parallel()
	db, err := datastore.Open(datastore.DriverSQLite, filepath.Join(t.TempDir(), "alarms.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = datastore.Close(db) })

	repo := repository.NewDocumentRepository(db, entities.CollectionAlarms)
	sink := NewStoreSink(repo, nil, quietLogger())

	ev := sampleEvent()
	sink.HandleAlarm(ev)

	doc, err := repo.Get(t.Context(), ev.ID)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc.Body), &got))
	assert.Equal(t, ev.ID, got["id"])
	assert.Equal(t, "ALARM", got["state"])
}
