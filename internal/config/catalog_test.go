package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbook/internal/ledger"
	"meetbook/internal/model"
)

const catalogYAML = `
rooms:
  - id: A201
    name: Room A
    usage: meetings
    externally_bookable: true
  - id: C301
    usage: internal
slots:
  - id: 1
    label: "09:00-10:00"
  - id: 2
    label: "10:00-11:00"
`

func TestLoadCatalog(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rooms.yaml", catalogYAML)

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, c.Rooms, 2)
	assert.True(t, c.Rooms[0].Bookable())
	assert.Equal(t, "C301", c.Rooms[1].Name, "name defaults to id")
	assert.False(t, c.Room("C301").Bookable())
	assert.Nil(t, c.Room("Z999"))
	assert.Equal(t, "Catalog: 2 rooms (1 bookable), 2 slots", c.String())
}

func TestCatalog_Validate(t *testing.T) {
	slots := []model.Slot{{ID: 1, Label: "09:00-10:00"}}
	rooms := []model.Room{{ID: "A201"}}

	tests := []struct {
		name    string
		catalog Catalog
	}{
		{"no rooms", Catalog{Slots: slots}},
		{"no slots", Catalog{Rooms: rooms}},
		{"empty room id", Catalog{Rooms: []model.Room{{ID: " "}}, Slots: slots}},
		{"comma in room id", Catalog{Rooms: []model.Room{{ID: "A,1"}}, Slots: slots}},
		{"duplicate room", Catalog{Rooms: []model.Room{{ID: "A201"}, {ID: "A201"}}, Slots: slots}},
		{"zero slot id", Catalog{Rooms: rooms, Slots: []model.Slot{{ID: 0, Label: "x"}}}},
		{"duplicate slot", Catalog{Rooms: rooms, Slots: []model.Slot{{ID: 1, Label: "a"}, {ID: 1, Label: "b"}}}},
		{"missing label", Catalog{Rooms: rooms, Slots: []model.Slot{{ID: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.catalog.Validate())
		})
	}

	ok := Catalog{Rooms: rooms, Slots: slots}
	assert.NoError(t, ok.Validate())
}

func TestSyncCatalog_DisablesRemovedEntries(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, &logger)
	require.NoError(t, l.ReplaceRooms(ctx, []model.Room{
		{ID: "OLD1", Name: "Old", ExternallyBookable: true},
	}))
	require.NoError(t, l.ReplaceSlots(ctx, []model.Slot{{ID: 9, Label: "20:00-21:00"}}))

	c, err := LoadCatalog(writeFile(t, t.TempDir(), "rooms.yaml", catalogYAML))
	require.NoError(t, err)
	res, err := SyncCatalog(ctx, l, c)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Rooms: 3, Slots: 3, DisabledRooms: 1, DisabledSlots: 1, Changed: true}, res)

	rooms, err := l.Rooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, "A201", rooms[0].ID)
	assert.Equal(t, "OLD1", rooms[2].ID)
	assert.True(t, rooms[2].Disabled)

	slots, err := l.Slots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.True(t, slots[2].Disabled)
	assert.False(t, slots[0].Disabled)

	// an unchanged catalog does not write
	store.Fail(ledger.OpReplace, errors.New("read only"))
	res, err = SyncCatalog(ctx, l, c)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 3, res.Rooms)
}

func TestCatalog_Fingerprint(t *testing.T) {
	c, err := LoadCatalog(writeFile(t, t.TempDir(), "rooms.yaml", catalogYAML))
	require.NoError(t, err)

	reformatted := "# master data\n" + strings.ReplaceAll(catalogYAML, `"09:00-10:00"`, `'09:00-10:00'`)
	same, err := LoadCatalog(writeFile(t, t.TempDir(), "rooms.yaml", reformatted))
	require.NoError(t, err)
	assert.Equal(t, c.Fingerprint(), same.Fingerprint())

	same.Rooms[1].ExternallyBookable = true
	assert.NotEqual(t, c.Fingerprint(), same.Fingerprint())
}

func TestWatchCatalog_ReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := writeFile(t, t.TempDir(), "rooms.yaml", catalogYAML)
	updates := make(chan *Catalog, 4)
	require.NoError(t, WatchCatalog(ctx, path, 10*time.Millisecond, func(c *Catalog) { updates <- c }, nil))

	first := <-updates
	assert.Len(t, first.Rooms, 2)

	changed := strings.Replace(catalogYAML, "  - id: C301\n    usage: internal\n", "", 1)
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case c := <-updates:
		assert.Len(t, c.Rooms, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("catalog change was not picked up")
	}
}

func TestWatchCatalog_CommentEditDoesNotReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := writeFile(t, t.TempDir(), "rooms.yaml", catalogYAML)
	updates := make(chan *Catalog, 4)
	require.NoError(t, WatchCatalog(ctx, path, 10*time.Millisecond, func(c *Catalog) { updates <- c }, nil))
	<-updates

	require.NoError(t, os.WriteFile(path, []byte("# edited\n"+catalogYAML), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case <-updates:
		t.Fatal("comment-only edit triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchCatalog_ReportsBrokenReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := writeFile(t, t.TempDir(), "rooms.yaml", catalogYAML)
	updates := make(chan *Catalog, 4)
	errs := make(chan error, 4)
	require.NoError(t, WatchCatalog(ctx, path, 10*time.Millisecond,
		func(c *Catalog) { updates <- c },
		func(err error) { errs <- err }))
	<-updates

	require.NoError(t, os.WriteFile(path, []byte("rooms: []\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "validate catalog")
	case <-time.After(2 * time.Second):
		t.Fatal("broken catalog was not reported")
	}
	assert.Empty(t, updates)
}

func TestWatchCatalog_InvalidInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rooms: []\n"), 0o644))
	assert.Error(t, WatchCatalog(context.Background(), path, time.Second, nil, nil))
}
