package prefs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.SetUserName("norman"))
	require.NoError(t, s.SetBackendPort(9090))
	require.NoError(t, s.SetRoleEnabled("mira", true))
	require.NoError(t, s.SetRoleScale("mira", 1.25))

	// a fresh store sees the persisted state
	s2, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	p := s2.Get()
	assert.Equal(t, "norman", p.UserName)
	assert.Equal(t, 9090, p.BackendPort)
	assert.True(t, p.Roles["mira"].Enabled)
	assert.Equal(t, 1.25, p.Roles["mira"].Scale)
}

func TestStore_MissingFileStartsEmpty(t *testing.T) {
	s := tempStore(t)
	p := s.Get()
	assert.Empty(t, p.UserName)
	assert.Empty(t, p.Roles)
}

func TestStore_CorruptFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{definitely not json"), 0o644))

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, s.Get().UserName)

	// saving over the corrupt file recovers it
	require.NoError(t, s.SetUserName("norman"))
	s2, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "norman", s2.Get().UserName)
}

func TestStore_EnabledRoles(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.SetRoleEnabled("mira", true))
	require.NoError(t, s.SetRoleEnabled("kay", false))
	require.NoError(t, s.SetRoleEnabled("rex", true))

	assert.ElementsMatch(t, []string{"mira", "rex"}, s.EnabledRoles())
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.SetRoleEnabled("mira", true))

	p := s.Get()
	p.Roles["mira"] = RolePrefs{Enabled: false}

	assert.True(t, s.Get().Roles["mira"].Enabled, "mutating the snapshot must not touch the store")
}

func TestStore_WatchSeesExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	changes := make(chan Prefs, 4)
	require.NoError(t, s.Watch(func(p Prefs) { changes <- p }))

	// an external writer replaces the file
	require.NoError(t, os.WriteFile(path, []byte(`{"userName":"replaced"}`), 0o644))

	select {
	case p := <-changes:
		assert.Equal(t, "replaced", p.UserName)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never fired")
	}
	assert.Equal(t, "replaced", s.Get().UserName)
}
