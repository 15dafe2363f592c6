package view

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmterm/internal/api"
	"dmterm/internal/models"
	"dmterm/internal/push"
	"dmterm/internal/router"
	"dmterm/internal/session"
)

func newHome(t *testing.T) *HomeModel {
	t.Helper()
	v, cmd := homeFactory(testDeps(t), router.Match{Path: "/"})
	require.Nil(t, cmd)
	return v.(*HomeModel)
}

func conversationPage(start, n int) []models.Conversation {
	cc := make([]models.Conversation, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%03d", start+i)
		cc[i] = models.Conversation{
			ID:               id,
			OtherParticipant: &models.User{ID: "u-" + id, Username: "user-" + id},
		}
	}
	return cc
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func enterKey() tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyEnter}
}

func TestHomeFullPageArmsLoadMore(t *testing.T) {
	m := newHome(t)

	m.Update(homeLoadedMsg{owner: m, user: models.User{Username: "john"}, conversations: conversationPage(0, models.PageSize)})

	assert.False(t, m.loading)
	assert.True(t, m.hasMore)
	assert.Equal(t, "c024", m.beforeCursor)
	assert.Len(t, m.list.Items(), models.PageSize)
}

func TestHomeShortPageEndsPagination(t *testing.T) {
	m := newHome(t)

	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 7)})

	assert.False(t, m.hasMore)

	// Without more pages the m key is inert.
	_, cmd := m.Update(key("m"))
	assert.Nil(t, cmd)
	assert.False(t, m.loadingMore)
}

func TestHomeLoadMoreAppendsAndStops(t *testing.T) {
	m := newHome(t)
	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, models.PageSize)})

	_, cmd := m.Update(key("m"))
	require.NotNil(t, cmd)
	assert.True(t, m.loadingMore)

	// A second m while the first page is in flight is dropped.
	_, cmd = m.Update(key("m"))
	assert.Nil(t, cmd)

	m.Update(moreConversationsMsg{owner: m, conversations: conversationPage(models.PageSize, 10)})

	assert.Len(t, m.conversations, models.PageSize+10)
	assert.False(t, m.hasMore, "a short page is the end of the list")
	assert.False(t, m.loadingMore)
}

func TestHomeLoadMoreFullPageAdvancesCursor(t *testing.T) {
	m := newHome(t)
	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, models.PageSize)})

	m.Update(moreConversationsMsg{owner: m, conversations: conversationPage(models.PageSize, models.PageSize)})

	assert.True(t, m.hasMore)
	assert.Equal(t, "c049", m.beforeCursor)
	assert.Len(t, m.conversations, 2*models.PageSize)
}

func TestHomePushUpdatesKnownConversationInPlace(t *testing.T) {
	m := newHome(t)
	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 3)})

	incoming := models.Message{
		ID:             "m1",
		Content:        "hello there",
		ConversationID: "c001",
		CreatedAt:      time.Now(),
	}
	m.Update(homePushMsg{owner: m, message: incoming})

	require.Len(t, m.conversations, 3)
	c := m.conversations[1]
	assert.True(t, c.HasUnreadMessages)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "hello there", c.LastMessage.Content)
}

func TestHomePushUnknownConversationIsFetchedAndPrepended(t *testing.T) {
	m := newHome(t)
	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 3)})

	incoming := models.Message{ID: "m1", Content: "hi", ConversationID: "c999"}
	_, cmd := m.Update(homePushMsg{owner: m, message: incoming})
	require.NotNil(t, cmd, "an unknown conversation triggers a fetch")
	assert.Len(t, m.conversations, 3, "nothing is prepended before the fetch lands")

	fetched := models.Conversation{
		ID:                "c999",
		OtherParticipant:  &models.User{ID: "u999", Username: "newcomer"},
		LastMessage:       &incoming,
		HasUnreadMessages: true,
	}
	m.Update(previewFetchedMsg{owner: m, conversation: fetched})

	require.Len(t, m.conversations, 4)
	assert.Equal(t, "c999", m.conversations[0].ID)

	// The fetch that raced a second push for the same conversation does
	// not produce a duplicate.
	m.Update(previewFetchedMsg{owner: m, conversation: fetched})
	assert.Len(t, m.conversations, 4)
}

func TestHomeCreateValidationBindsToForm(t *testing.T) {
	m := newHome(t)
	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 1)})
	m.formActive = true

	apiErr := &api.Error{
		StatusCode: http.StatusUnprocessableEntity,
		Body:       map[string]interface{}{"errors": map[string]interface{}{"username": "User not found"}},
	}
	m.Update(conversationCreatedMsg{owner: m, err: apiErr})

	assert.Equal(t, "User not found", m.formErr)
	assert.True(t, m.formActive, "the form stays open for a retry")
}

func TestHomeCreateSuccessNavigates(t *testing.T) {
	m := newHome(t)
	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 1)})
	m.formActive = true

	created := models.Conversation{ID: "c777", OtherParticipant: &models.User{ID: "u7", Username: "jane"}}
	_, cmd := m.Update(conversationCreatedMsg{owner: m, conversation: created})

	assert.False(t, m.formActive)
	require.NotNil(t, cmd)
	assert.Equal(t, GoMsg{Path: "/conversations/c777"}, cmd())
}

func TestHomeSearchLatch(t *testing.T) {
	m := newHome(t)
	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 1)})
	m.Update(key("n"))
	require.True(t, m.formActive)

	_, cmd := m.Update(key("j"))
	require.NotNil(t, cmd)
	assert.True(t, m.searching)

	// More typing while a search is in flight does not stack requests;
	// the latch reopens when the result lands.
	m.Update(key("o"))
	assert.True(t, m.searching)

	m.Update(usernamesFetchedMsg{owner: m, usernames: []string{"john", "joanna"}})
	assert.False(t, m.searching)
}

func TestHomeOfflineModeSkipsPush(t *testing.T) {
	m := newHome(t)

	m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 2), offline: true})

	assert.True(t, m.offline)
	assert.Nil(t, m.listener)
	assert.False(t, m.pushArmed)
}

// TestHomeRefreshSurvivesNavigatingAway pins refreshCmd's snapshot
// semantics: the command captures the user and subscription when it is
// created, so tearing the view down while the fetch is in flight neither
// races the model nor loses the listener the completion hands back.
func TestHomeRefreshSurvivesNavigatingAway(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, `[]`)
	}))
	defer apiServer.Close()

	pushServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer pushServer.Close()

	sess, err := session.Open(t.TempDir())
	require.NoError(t, err)
	logger := log.New(io.Discard, "", 0)
	deps := &Deps{
		API:     api.NewClient(apiServer.URL, sess),
		Session: sess,
		Push:    push.NewManager(pushServer.URL, sess, logger),
		Logger:  logger,
	}
	defer deps.Push.Reset()

	v, _ := homeFactory(deps, router.Match{Path: "/"})
	m := v.(*HomeModel)

	events := make(chan models.Message, 64)
	listener, err := deps.Push.Subscribe(func(mm models.Message) {
		select {
		case events <- mm:
		default:
		}
	})
	require.NoError(t, err)

	user := models.User{ID: "u1", Username: "john"}
	m.Update(homeLoadedMsg{owner: m, user: user, conversations: conversationPage(0, 2), listener: listener, events: events})

	cmd := m.refreshCmd()
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()

	time.Sleep(30 * time.Millisecond)
	m.Deactivate()

	select {
	case msg := <-done:
		loaded, ok := msg.(homeLoadedMsg)
		require.True(t, ok)
		require.NoError(t, loaded.err)
		assert.Equal(t, user, loaded.user)
		assert.Same(t, listener, loaded.listener)
		assert.Equal(t, events, loaded.events)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the refresh to land")
	}
}

func TestHomeRefreshDoesNotRearmPush(t *testing.T) {
	m := newHome(t)
	events := make(chan models.Message, 1)

	_, cmd := m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 2), events: events})
	require.NotNil(t, cmd, "the first load arms the push reader")
	require.True(t, m.pushArmed)

	_, cmd = m.Update(homeLoadedMsg{owner: m, conversations: conversationPage(0, 2), events: events})
	assert.Nil(t, cmd, "a refresh reuses the already-armed reader")
}
