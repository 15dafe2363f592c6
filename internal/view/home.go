package view

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dmterm/internal/api"
	"dmterm/internal/models"
	"dmterm/internal/push"
	"dmterm/internal/router"
)

type conversationItem struct {
	conversation models.Conversation
}

func (i conversationItem) Title() string {
	title := i.conversation.OtherParticipant.Username
	if i.conversation.HasUnreadMessages {
		title = unreadStyle.Render("● ") + title
	}
	return title
}

func (i conversationItem) Description() string {
	last := i.conversation.LastMessage
	if last == nil {
		return "no messages yet"
	}
	return fmt.Sprintf("%s • %s", ago(last.CreatedAt), preview(last))
}

func (i conversationItem) FilterValue() string {
	return i.conversation.OtherParticipant.Username
}

// HomeModel is the conversation-list view. It owns the merge of the
// paginated list with push events: an event for a listed conversation
// updates its preview and unread flag in place, an event for an unknown
// one fetches it and prepends it.
type HomeModel struct {
	deps *Deps

	user          models.User
	conversations []models.Conversation
	list          list.Model
	spinner       spinner.Model
	loading       bool
	offline       bool
	err           string

	hasMore      bool
	beforeCursor string
	loadingMore  bool

	listener  *push.Listener
	events    chan models.Message
	pushArmed bool

	formActive    bool
	usernameInput textinput.Model
	searching     bool
	creating      bool
	formErr       string

	width  int
	height int
}

func homeFactory(deps *Deps, _ router.Match) (View, tea.Cmd) {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Conversations"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	usernameInput := textinput.New()
	usernameInput.Placeholder = "Start conversation with..."
	usernameInput.CharLimit = 100
	usernameInput.Width = 40
	usernameInput.ShowSuggestions = true

	return &HomeModel{
		deps:          deps,
		list:          l,
		spinner:       s,
		loading:       true,
		usernameInput: usernameInput,
		width:         80,
		height:        30,
	}, nil
}

type homeLoadedMsg struct {
	owner         View
	user          models.User
	conversations []models.Conversation
	offline       bool
	listener      *push.Listener
	events        chan models.Message
	err           error
}

func (msg homeLoadedMsg) ownerView() View { return msg.owner }

func (msg homeLoadedMsg) discard() {
	if msg.listener != nil {
		msg.listener.Close()
	}
}

type moreConversationsMsg struct {
	owner         View
	conversations []models.Conversation
	err           error
}

func (msg moreConversationsMsg) ownerView() View { return msg.owner }

type homePushMsg struct {
	owner   View
	message models.Message
}

func (msg homePushMsg) ownerView() View { return msg.owner }

type previewFetchedMsg struct {
	owner        View
	conversation models.Conversation
	err          error
}

func (msg previewFetchedMsg) ownerView() View { return msg.owner }

type usernamesFetchedMsg struct {
	owner     View
	usernames []string
	err       error
}

func (msg usernamesFetchedMsg) ownerView() View { return msg.owner }

type conversationCreatedMsg struct {
	owner        View
	conversation models.Conversation
	err          error
}

func (msg conversationCreatedMsg) ownerView() View { return msg.owner }

func (m *HomeModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.activateCmd())
}

// activateCmd fetches the first page and opens the push subscription in
// one go. On a network failure the cached list stands in and the view
// runs without live updates.
func (m *HomeModel) activateCmd() tea.Cmd {
	return func() tea.Msg {
		msg := homeLoadedMsg{owner: m}

		user, err := m.deps.Session.CurrentUser()
		if err != nil {
			msg.err = err
			return msg
		}
		msg.user = user

		cc, err := m.deps.API.Conversations(context.Background(), "")
		if err != nil {
			cached := m.cachedConversations()
			if cached == nil {
				msg.err = err
				return msg
			}
			msg.conversations = cached
			msg.offline = true
			return msg
		}
		msg.conversations = cc
		m.saveCache(cc)

		events := make(chan models.Message, 64)
		listener, err := m.deps.Push.Subscribe(func(mm models.Message) {
			select {
			case events <- mm:
			default:
			}
		})
		if err != nil {
			msg.err = err
			return msg
		}
		msg.listener = listener
		msg.events = events
		return msg
	}
}

func (m *HomeModel) cachedConversations() []models.Conversation {
	if m.deps.Cache == nil {
		return nil
	}
	cc, err := m.deps.Cache.LoadConversations()
	if err != nil {
		m.deps.Logger.Printf("could not load cached conversations: %v", err)
		return nil
	}
	if len(cc) == 0 {
		return nil
	}
	return cc
}

func (m *HomeModel) saveCache(cc []models.Conversation) {
	if m.deps.Cache == nil {
		return
	}
	if err := m.deps.Cache.SaveConversations(cc); err != nil {
		m.deps.Logger.Printf("could not cache conversations: %v", err)
	}
}

func (m *HomeModel) waitForPush() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		mm, ok := <-events
		if !ok {
			return nil
		}
		return homePushMsg{owner: m, message: mm}
	}
}

func (m *HomeModel) loadMoreCmd(before string) tea.Cmd {
	return func() tea.Msg {
		cc, err := m.deps.API.Conversations(context.Background(), before)
		if err == nil {
			m.saveCache(cc)
		}
		return moreConversationsMsg{owner: m, conversations: cc, err: err}
	}
}

func (m *HomeModel) fetchPreviewCmd(message models.Message) tea.Cmd {
	return func() tea.Msg {
		c, err := m.deps.API.Conversation(context.Background(), message.ConversationID)
		if err != nil {
			return previewFetchedMsg{owner: m, err: err}
		}
		c.HasUnreadMessages = true
		last := message
		c.LastMessage = &last
		return previewFetchedMsg{owner: m, conversation: c}
	}
}

func (m *HomeModel) searchCmd(search string) tea.Cmd {
	return func() tea.Msg {
		names, err := m.deps.API.Usernames(context.Background(), search)
		return usernamesFetchedMsg{owner: m, usernames: names, err: err}
	}
}

func (m *HomeModel) createCmd(username string) tea.Cmd {
	return func() tea.Msg {
		c, err := m.deps.API.CreateConversation(context.Background(), username)
		return conversationCreatedMsg{owner: m, conversation: c, err: err}
	}
}

// Deactivate closes the push listener. Closing the events channel after
// the listener is gone wakes the pending wait command so it can exit.
func (m *HomeModel) Deactivate() {
	if m.listener != nil {
		m.listener.Close()
		m.listener = nil
		close(m.events)
		m.events = nil
	}
}

func (m *HomeModel) syncList() {
	items := make([]list.Item, len(m.conversations))
	for i, c := range m.conversations {
		items[i] = conversationItem{conversation: c}
	}
	m.list.SetItems(items)
	m.list.Title = fmt.Sprintf("Conversations - %d", len(m.conversations))
}

func (m *HomeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height - 6)
		m.usernameInput.Width = msg.Width - 20
		return m, nil

	case homeLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		m.user = msg.user
		m.conversations = msg.conversations
		m.offline = msg.offline
		m.listener = msg.listener
		m.events = msg.events
		m.hasMore = len(msg.conversations) == models.PageSize
		if m.hasMore {
			m.beforeCursor = msg.conversations[len(msg.conversations)-1].ID
		}
		m.syncList()
		// A refresh reuses the live subscription; only arm the channel
		// reader once.
		if m.events != nil && !m.pushArmed {
			m.pushArmed = true
			return m, m.waitForPush()
		}
		return m, nil

	case moreConversationsMsg:
		m.loadingMore = false
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		m.conversations = append(m.conversations, msg.conversations...)
		// Fewer than a full page is the only end-of-list signal. A full
		// page re-arms load-more with the new boundary cursor even if it
		// happens to be the true end.
		if len(msg.conversations) != models.PageSize {
			m.hasMore = false
		} else {
			m.beforeCursor = msg.conversations[len(msg.conversations)-1].ID
		}
		m.syncList()
		return m, nil

	case homePushMsg:
		return m, tea.Batch(m.mergePush(msg.message), m.waitForPush())

	case previewFetchedMsg:
		if msg.err != nil {
			m.deps.Logger.Printf("could not fetch conversation for push event: %v", msg.err)
			return m, nil
		}
		for _, c := range m.conversations {
			if c.ID == msg.conversation.ID {
				return m, nil
			}
		}
		m.conversations = append([]models.Conversation{msg.conversation}, m.conversations...)
		m.syncList()
		return m, nil

	case usernamesFetchedMsg:
		m.searching = false
		if msg.err != nil {
			m.deps.Logger.Printf("could not search usernames: %v", msg.err)
			return m, nil
		}
		m.usernameInput.SetSuggestions(msg.usernames)
		return m, nil

	case conversationCreatedMsg:
		m.creating = false
		m.usernameInput.Focus()
		if msg.err != nil {
			// A 422 binds its field message to the input; anything else
			// shows as-is.
			var apiErr *api.Error
			if errors.As(msg.err, &apiErr) && api.IsValidation(msg.err) {
				m.formErr = apiErr.Field("username")
			} else {
				m.formErr = msg.err.Error()
			}
			return m, nil
		}
		m.usernameInput.Reset()
		m.formActive = false
		return m, Go("/conversations/" + msg.conversation.ID)

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if m.formActive {
			return m.updateForm(msg)
		}
		return m.updateList(msg)
	}

	return m, nil
}

// mergePush applies one push event to the list: a known conversation is
// flagged unread with a fresh preview, an unknown one is fetched to be
// prepended.
func (m *HomeModel) mergePush(message models.Message) tea.Cmd {
	for i := range m.conversations {
		if m.conversations[i].ID == message.ConversationID {
			last := message
			m.conversations[i].LastMessage = &last
			m.conversations[i].HasUnreadMessages = true
			m.syncList()
			return nil
		}
	}
	return m.fetchPreviewCmd(message)
}

func (m *HomeModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.list.FilterState() != list.Filtering {
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "enter":
			if item, ok := m.list.SelectedItem().(conversationItem); ok && !m.loading {
				return m, Go("/conversations/" + item.conversation.ID)
			}
			return m, nil

		case "n":
			m.formActive = true
			m.formErr = ""
			m.usernameInput.Focus()
			return m, textinput.Blink

		case "m":
			if m.hasMore && !m.loadingMore && !m.loading {
				m.loadingMore = true
				return m, m.loadMoreCmd(m.beforeCursor)
			}
			return m, nil

		case "r":
			if !m.loading {
				m.loading = true
				m.err = ""
				return m, tea.Batch(m.spinner.Tick, m.refreshCmd())
			}
			return m, nil

		case "L":
			m.deps.Session.Clear()
			m.deps.Push.Reset()
			return m, Go("/")
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// refreshCmd re-fetches the first page without touching the push
// subscription. The subscription fields are captured here, on the update
// loop; the closure runs on a command goroutine and must not read the
// model, which a concurrent Deactivate mutates.
func (m *HomeModel) refreshCmd() tea.Cmd {
	user := m.user
	listener := m.listener
	events := m.events
	return func() tea.Msg {
		cc, err := m.deps.API.Conversations(context.Background(), "")
		if err != nil {
			return homeLoadedMsg{owner: m, user: user, err: err}
		}
		m.saveCache(cc)
		return homeLoadedMsg{owner: m, user: user, conversations: cc, listener: listener, events: events}
	}
}

func (m *HomeModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.creating {
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		m.formActive = false
		m.formErr = ""
		m.usernameInput.Reset()
		m.usernameInput.Blur()
		return m, nil

	case "enter":
		username := strings.TrimSpace(m.usernameInput.Value())
		if username == "" {
			m.formErr = "Username required"
			return m, nil
		}
		m.formErr = ""
		m.creating = true
		m.usernameInput.Blur()
		return m, m.createCmd(username)
	}

	var cmd tea.Cmd
	m.usernameInput, cmd = m.usernameInput.Update(msg)
	m.formErr = ""

	// One search in flight at a time; overlapping input is dropped, not
	// queued.
	search := strings.TrimSpace(m.usernameInput.Value())
	if search != "" && !m.searching {
		m.searching = true
		return m, tea.Batch(cmd, m.searchCmd(search))
	}
	return m, cmd
}

func (m *HomeModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Loading conversations...\n", m.spinner.View())
	}

	header := titleStyle.Render("Messenger")
	profile := normalStyle.Render("@" + m.user.Username)
	if m.offline {
		profile += "  " + offlineStyle.Render("offline")
	}
	s := header + "\n" + profile + "\n\n"

	if m.err != "" {
		s += errorStyle.Render("Error: "+m.err) + "\n\n"
	}

	if m.formActive {
		s += inputStyle.Render("Start conversation with:") + "\n"
		s += m.usernameInput.View() + "\n"
		if m.formErr != "" {
			s += errorStyle.Render(m.formErr) + "\n"
		}
		if m.creating {
			s += statusStyle.Render("Starting conversation...") + "\n"
		}
		s += "\n" + helpStyle.Render("enter: start • tab: accept suggestion • esc: cancel")
		return s
	}

	s += m.list.View() + "\n"

	help := "↑↓/jk: navigate • enter: open • n: new • r: refresh • L: logout • q: quit"
	if m.hasMore {
		if m.loadingMore {
			help = "loading more... • " + help
		} else {
			help = "m: load more • " + help
		}
	}
	s += helpStyle.Render(help)
	return s
}
