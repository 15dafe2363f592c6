package view

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/sync/errgroup"

	"dmterm/internal/api"
	"dmterm/internal/models"
	"dmterm/internal/push"
	"dmterm/internal/router"
)

// ConversationModel is the open-conversation view: paginated history,
// live push events and sends merged into one ordered message list,
// oldest first.
type ConversationModel struct {
	deps *Deps
	id   string

	other    *models.User
	messages []models.Message
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	loading bool
	sending bool
	offline bool

	failErr  string
	alertErr string
	inputErr string

	hasMore      bool
	beforeCursor string
	loadingMore  bool

	listener  *push.Listener
	events    chan models.Message
	pushArmed bool

	width  int
	height int
}

func conversationFactory(deps *Deps, m router.Match) (View, tea.Cmd) {
	if len(m.Params) == 0 || m.Params[0] == "" {
		return nil, Go("/")
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	vp := viewport.New(80, 20)

	input := textinput.New()
	input.Placeholder = "Type something"
	input.CharLimit = models.MessageContentMaxLength
	input.Width = 60
	input.Focus()

	return &ConversationModel{
		deps:     deps,
		id:       m.Params[0],
		viewport: vp,
		input:    input,
		spinner:  s,
		loading:  true,
		width:    80,
		height:   30,
	}, nil
}

type conversationLoadedMsg struct {
	owner        View
	conversation models.Conversation
	messages     []models.Message
	offline      bool
	listener     *push.Listener
	events       chan models.Message
	err          error
}

func (msg conversationLoadedMsg) ownerView() View { return msg.owner }

func (msg conversationLoadedMsg) discard() {
	if msg.listener != nil {
		msg.listener.Close()
	}
}

type moreMessagesMsg struct {
	owner    View
	messages []models.Message
	err      error
}

func (msg moreMessagesMsg) ownerView() View { return msg.owner }

type messageSentMsg struct {
	owner   View
	message models.Message
	err     error
}

func (msg messageSentMsg) ownerView() View { return msg.owner }

type conversationPushMsg struct {
	owner   View
	message models.Message
}

func (msg conversationPushMsg) ownerView() View { return msg.owner }

func (m *ConversationModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, m.activateCmd())
}

// activateCmd fetches the conversation and its first message page
// concurrently, then opens the push subscription. A network failure
// falls back to the offline cache; with nothing cached the view reports
// the error and offers the way back.
func (m *ConversationModel) activateCmd() tea.Cmd {
	return func() tea.Msg {
		msg := conversationLoadedMsg{owner: m}

		var conversation models.Conversation
		var page []models.Message

		g, ctx := errgroup.WithContext(context.Background())
		g.Go(func() error {
			c, err := m.deps.API.Conversation(ctx, m.id)
			if err != nil {
				return err
			}
			conversation = c
			return nil
		})
		g.Go(func() error {
			mm, err := m.deps.API.Messages(ctx, m.id, "")
			if err != nil {
				return err
			}
			page = mm
			return nil
		})

		if err := g.Wait(); err != nil {
			cached, ok := m.cachedConversation()
			if !ok {
				msg.err = err
				return msg
			}
			msg.conversation = cached.conversation
			msg.messages = cached.messages
			msg.offline = true
			return msg
		}

		msg.conversation = conversation
		msg.messages = page
		m.saveCache(conversation, page)

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

type cachedConversation struct {
	conversation models.Conversation
	messages     []models.Message
}

func (m *ConversationModel) cachedConversation() (cachedConversation, bool) {
	if m.deps.Cache == nil {
		return cachedConversation{}, false
	}
	c, found, err := m.deps.Cache.LoadConversation(m.id)
	if err != nil || !found {
		return cachedConversation{}, false
	}
	mm, err := m.deps.Cache.LoadMessages(m.id)
	if err != nil {
		return cachedConversation{}, false
	}
	return cachedConversation{conversation: c, messages: mm}, true
}

func (m *ConversationModel) saveCache(c models.Conversation, mm []models.Message) {
	if m.deps.Cache == nil {
		return
	}
	if err := m.deps.Cache.SaveConversations([]models.Conversation{c}); err != nil {
		m.deps.Logger.Printf("could not cache conversation: %v", err)
	}
	if err := m.deps.Cache.SaveMessages(m.id, mm); err != nil {
		m.deps.Logger.Printf("could not cache messages: %v", err)
	}
}

func (m *ConversationModel) waitForPush() tea.Cmd {
	events := m.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		mm, ok := <-events
		if !ok {
			return nil
		}
		return conversationPushMsg{owner: m, message: mm}
	}
}

func (m *ConversationModel) loadMoreCmd(before string) tea.Cmd {
	return func() tea.Msg {
		mm, err := m.deps.API.Messages(context.Background(), m.id, before)
		if err == nil && m.deps.Cache != nil {
			if cerr := m.deps.Cache.SaveMessages(m.id, mm); cerr != nil {
				m.deps.Logger.Printf("could not cache messages: %v", cerr)
			}
		}
		return moreMessagesMsg{owner: m, messages: mm, err: err}
	}
}

func (m *ConversationModel) sendCmd(content string) tea.Cmd {
	return func() tea.Msg {
		sent, err := m.deps.API.CreateMessage(context.Background(), m.id, content)
		return messageSentMsg{owner: m, message: sent, err: err}
	}
}

// readCmd tells the backend the conversation's content has been seen.
// Fire-and-forget: a failed receipt only means the unread flag survives
// elsewhere a little longer.
func (m *ConversationModel) readCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.deps.API.ReadMessages(context.Background(), m.id); err != nil {
			m.deps.Logger.Printf("could not send read receipt: %v", err)
		}
		return nil
	}
}

// Deactivate closes the push listener; safe when activation never got
// that far.
func (m *ConversationModel) Deactivate() {
	if m.listener != nil {
		m.listener.Close()
		m.listener = nil
		close(m.events)
		m.events = nil
	}
}

func (m *ConversationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 9
		if m.viewport.Height < 3 {
			m.viewport.Height = 3
		}
		m.input.Width = msg.Width - 6
		m.updateViewportContent()
		return m, nil

	case conversationLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.failErr = msg.err.Error()
			return m, nil
		}
		m.other = msg.conversation.OtherParticipant
		m.messages = reverse(msg.messages)
		m.offline = msg.offline
		m.listener = msg.listener
		m.events = msg.events
		m.hasMore = len(msg.messages) == models.PageSize
		if m.hasMore {
			m.beforeCursor = msg.messages[len(msg.messages)-1].ID
		}
		m.updateViewportContent()
		m.viewport.GotoBottom()

		cmds := []tea.Cmd{}
		if m.events != nil && !m.pushArmed {
			m.pushArmed = true
			cmds = append(cmds, m.waitForPush())
		}
		if !m.offline {
			// Entering the conversation clears its unread flag on the
			// server.
			cmds = append(cmds, m.readCmd())
		}
		return m, tea.Batch(cmds...)

	case moreMessagesMsg:
		m.loadingMore = false
		if msg.err != nil {
			m.alertErr = msg.err.Error()
			return m, nil
		}
		lines := m.viewport.TotalLineCount()
		offset := m.viewport.YOffset
		m.messages = append(reverse(msg.messages), m.messages...)
		if len(msg.messages) != models.PageSize {
			m.hasMore = false
		} else {
			m.beforeCursor = msg.messages[len(msg.messages)-1].ID
		}
		m.updateViewportContent()
		// The older page lands above the viewport; shifting the offset by
		// the added rows keeps the reader anchored where they were.
		m.viewport.SetYOffset(offset + m.viewport.TotalLineCount() - lines)
		return m, nil

	case messageSentMsg:
		m.sending = false
		m.input.Focus()
		if msg.err != nil {
			var apiErr *api.Error
			if errors.As(msg.err, &apiErr) && api.IsValidation(msg.err) {
				m.inputErr = apiErr.Field("content")
			} else {
				m.alertErr = msg.err.Error()
			}
			return m, textinput.Blink
		}
		m.input.Reset()
		sent := msg.message
		sent.Mine = true
		sent.ConversationID = m.id
		m.messages = append(m.messages, sent)
		m.updateViewportContent()
		m.viewport.GotoBottom()
		if m.deps.Cache != nil {
			if err := m.deps.Cache.SaveMessages(m.id, []models.Message{sent}); err != nil {
				m.deps.Logger.Printf("could not cache message: %v", err)
			}
		}
		return m, textinput.Blink

	case conversationPushMsg:
		cmds := []tea.Cmd{m.waitForPush()}
		if msg.message.ConversationID == m.id && !containsMessage(m.messages, msg.message.ID) {
			atBottom := m.viewport.AtBottom()
			m.messages = append(m.messages, msg.message)
			m.updateViewportContent()
			if atBottom {
				m.viewport.GotoBottom()
			}
			// Its content is on screen, so the receipt goes out right
			// away.
			cmds = append(cmds, m.readCmd())
			if m.deps.Cache != nil {
				if err := m.deps.Cache.SaveMessages(m.id, []models.Message{msg.message}); err != nil {
					m.deps.Logger.Printf("could not cache message: %v", err)
				}
			}
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if m.loading || m.sending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)
	}

	return m, nil
}

func (m *ConversationModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		return m, Go("/")
	}

	if m.failErr != "" {
		if msg.String() == "enter" {
			return m, Go("/")
		}
		return m, nil
	}

	switch msg.String() {
	case "enter":
		if m.sending || m.loading {
			return m, nil
		}
		content := strings.TrimSpace(m.input.Value())
		if content == "" {
			return m, nil
		}
		m.inputErr = ""
		m.alertErr = ""
		m.sending = true
		m.input.Blur()
		return m, tea.Batch(m.spinner.Tick, m.sendCmd(content))

	case "ctrl+b":
		if m.hasMore && !m.loadingMore && !m.loading {
			m.loadingMore = true
			return m, m.loadMoreCmd(m.beforeCursor)
		}
		return m, nil

	case "up", "down", "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.sending {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.inputErr != "" {
		m.inputErr = ""
	}
	return m, cmd
}

func (m *ConversationModel) updateViewportContent() {
	if len(m.messages) == 0 {
		m.viewport.SetContent(normalStyle.Render("  No messages yet. Say hi."))
		return
	}

	wrapWidth := m.viewport.Width
	if wrapWidth <= 0 {
		wrapWidth = 80
	}

	var content strings.Builder
	for i, message := range m.messages {
		if i > 0 {
			content.WriteString("\n")
		}

		timestamp := ago(message.CreatedAt)
		text := wordwrap.String(message.Content, wrapWidth-10)

		if message.Mine {
			header := messageHeaderStyle.Render(fmt.Sprintf("You • %s", timestamp))
			content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(header) + "\n")
			content.WriteString(lipgloss.NewStyle().Align(lipgloss.Right).Width(wrapWidth).Render(messageMineStyle.Render(text)) + "\n")
		} else {
			sender := "Unknown"
			if m.other != nil {
				sender = m.other.Username
			}
			header := messageHeaderStyle.Render(fmt.Sprintf("%s • %s", sender, timestamp))
			content.WriteString(header + "\n")
			content.WriteString(messageTheirsStyle.Render(text) + "\n")
		}
	}

	m.viewport.SetContent(content.String())
}

func (m *ConversationModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Loading conversation...\n", m.spinner.View())
	}

	if m.failErr != "" {
		s := errorStyle.Render("Error: "+m.failErr) + "\n\n"
		s += helpStyle.Render("enter/esc: back to conversations")
		return s
	}

	title := "Conversation"
	if m.other != nil {
		title = "💬 " + m.other.Username
	}
	s := titleStyle.Render(title)
	if m.offline {
		s += "  " + offlineStyle.Render("offline")
	}
	s += "\n\n"

	if m.alertErr != "" {
		s += errorStyle.Render("Error: "+m.alertErr) + "\n"
	}

	s += m.viewport.View() + "\n\n"

	if m.sending {
		s += fmt.Sprintf("%s Sending...\n", m.spinner.View())
	}
	s += m.input.View() + "\n"
	if m.inputErr != "" {
		s += errorStyle.Render(m.inputErr) + "\n"
	}

	help := "enter: send • ↑↓: scroll • esc: back • ctrl+c: quit"
	if m.hasMore {
		if m.loadingMore {
			help = "loading older... • " + help
		} else {
			help = "ctrl+b: older messages • " + help
		}
	}
	s += helpStyle.Render(help)
	return s
}
