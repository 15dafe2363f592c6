package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmterm/internal/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func conversation(id, username string, last *models.Message) models.Conversation {
	return models.Conversation{
		ID:               id,
		OtherParticipant: &models.User{ID: "u-" + id, Username: username},
		LastMessage:      last,
	}
}

func TestConversationsRoundTrip(t *testing.T) {
	s := openStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	cc := []models.Conversation{
		conversation("c1", "jane", &models.Message{ID: "m1", Content: "newest", CreatedAt: now, Mine: true}),
		conversation("c2", "bob", &models.Message{ID: "m2", Content: "older", CreatedAt: now.Add(-time.Hour)}),
	}
	require.NoError(t, s.SaveConversations(cc))

	got, err := s.LoadConversations()
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Most recently active first.
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "jane", got[0].OtherParticipant.Username)
	require.NotNil(t, got[0].LastMessage)
	assert.Equal(t, "newest", got[0].LastMessage.Content)
	assert.True(t, got[0].LastMessage.Mine)
	assert.Equal(t, "c2", got[1].ID)
}

func TestConversationUpsertReplacesPreview(t *testing.T) {
	s := openStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SaveConversations([]models.Conversation{
		conversation("c1", "jane", &models.Message{ID: "m1", Content: "first", CreatedAt: now}),
	}))
	require.NoError(t, s.SaveConversations([]models.Conversation{
		conversation("c1", "jane", &models.Message{ID: "m2", Content: "second", CreatedAt: now.Add(time.Minute), Mine: true}),
	}))

	got, err := s.LoadConversations()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].LastMessage)
	assert.Equal(t, "m2", got[0].LastMessage.ID)
	assert.Equal(t, "second", got[0].LastMessage.Content)
	assert.True(t, got[0].LastMessage.Mine)
}

func TestLoadConversationFoundAndMissing(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveConversations([]models.Conversation{
		conversation("c1", "jane", nil),
	}))

	c, found, err := s.LoadConversation("c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "jane", c.OtherParticipant.Username)
	assert.Nil(t, c.LastMessage)

	_, found, err = s.LoadConversation("nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMessagesRoundTrip(t *testing.T) {
	s := openStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	mm := []models.Message{
		{ID: "m3", Content: "third", CreatedAt: base.Add(2 * time.Minute), Mine: true},
		{ID: "m2", Content: "second", CreatedAt: base.Add(time.Minute)},
		{ID: "m1", Content: "first", CreatedAt: base},
	}
	require.NoError(t, s.SaveMessages("c1", mm))

	got, err := s.LoadMessages("c1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Newest first, like the live endpoint.
	assert.Equal(t, "m3", got[0].ID)
	assert.True(t, got[0].Mine)
	assert.Equal(t, "m1", got[2].ID)
	assert.Equal(t, "c1", got[0].ConversationID)

	other, err := s.LoadMessages("c2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMessagesOrderFollowsID(t *testing.T) {
	s := openStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	// Timestamps deliberately contradict the ids; the id is the
	// pagination key and must win.
	require.NoError(t, s.SaveMessages("c1", []models.Message{
		{ID: "m1", Content: "first", CreatedAt: base.Add(time.Hour)},
		{ID: "m2", Content: "second", CreatedAt: base},
	}))

	got, err := s.LoadMessages("c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
}

func TestMessagesSaveIsIdempotent(t *testing.T) {
	s := openStore(t)

	m := models.Message{ID: "m1", Content: "hello", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveMessages("c1", []models.Message{m}))
	require.NoError(t, s.SaveMessages("c1", []models.Message{m}))

	got, err := s.LoadMessages("c1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLoadMessagesCapsAtOnePage(t *testing.T) {
	s := openStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	var mm []models.Message
	for i := 0; i < models.PageSize+10; i++ {
		mm = append(mm, models.Message{
			ID:        fmt.Sprintf("m%02d", i),
			Content:   "x",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, s.SaveMessages("c1", mm))

	got, err := s.LoadMessages("c1")
	require.NoError(t, err)
	require.Len(t, got, models.PageSize)
	assert.Equal(t, fmt.Sprintf("m%02d", models.PageSize+9), got[0].ID)
}
