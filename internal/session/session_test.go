package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmterm/internal/models"
)

func testPayload() models.LoginPayload {
	avatar := "https://example.com/a.png"
	return models.LoginPayload{
		AuthUser:  models.User{ID: "u1", Username: "john", AvatarURL: &avatar},
		Token:     "tok-123",
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second),
	}
}

func TestOpenEmptyDirIsUnauthenticated(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.Token())

	_, err = s.CurrentUser()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSaveThenReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	p := testPayload()
	require.NoError(t, s.Save(p))

	assert.True(t, s.IsAuthenticated())
	assert.Equal(t, "tok-123", s.Token())

	user, err := s.CurrentUser()
	require.NoError(t, err)
	assert.Equal(t, "john", user.Username)

	// A fresh store over the same directory sees the persisted session.
	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.True(t, reopened.IsAuthenticated())
	assert.Equal(t, "tok-123", reopened.Token())
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(testPayload()))

	s.Clear()
	assert.False(t, s.IsAuthenticated())
	_, err = s.CurrentUser()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	// Clearing an already-empty store is fine.
	s.Clear()
	assert.False(t, s.IsAuthenticated())

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.False(t, reopened.IsAuthenticated())
}

func TestPartialFileCountsAsUnauthenticated(t *testing.T) {
	dir := t.TempDir()

	// A token without the user snapshot is not a session.
	err := os.WriteFile(filepath.Join(dir, "session.yml"), []byte("token: orphan\n"), 0600)
	require.NoError(t, err)

	s, err := Open(dir)
	require.NoError(t, err)
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.Token())
}

func TestCorruptFileCountsAsUnauthenticated(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "session.yml"), []byte("{not yaml:::"), 0600)
	require.NoError(t, err)

	s, err := Open(dir)
	require.NoError(t, err)
	assert.False(t, s.IsAuthenticated())
}
