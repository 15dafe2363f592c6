package view

import (
	"context"
	"net/url"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"dmterm/internal/models"
	"dmterm/internal/router"
)

// AccessModel is the unauthenticated view: username login, plus a field
// to paste the OAuth callback URL for users who signed in with GitHub in
// a browser.
type AccessModel struct {
	deps *Deps

	usernameInput textinput.Model
	callbackInput textinput.Model
	focusIndex    int
	submitting    bool
	inputErr      string
	err           string
	width         int
	height        int
}

func accessFactory(deps *Deps, _ router.Match) (View, tea.Cmd) {
	usernameInput := textinput.New()
	usernameInput.Placeholder = "Username"
	usernameInput.SetValue("john")
	usernameInput.CharLimit = 100
	usernameInput.Width = 40
	usernameInput.Focus()

	callbackInput := textinput.New()
	callbackInput.Placeholder = "Paste the callback URL here after signing in"
	callbackInput.CharLimit = 2048
	callbackInput.Width = 60

	return &AccessModel{
		deps:          deps,
		usernameInput: usernameInput,
		callbackInput: callbackInput,
	}, nil
}

func (m *AccessModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *AccessModel) Deactivate() {}

type loginDoneMsg struct {
	owner View
	user  models.User
	err   error
}

func (msg loginDoneMsg) ownerView() View { return msg.owner }

// loginCmd exchanges the username for a session, persists it as one
// atomic replace, and resets the push channel so the next subscribe
// dials with the new token.
func (m *AccessModel) loginCmd(username string) tea.Cmd {
	return func() tea.Msg {
		payload, err := m.deps.API.Login(context.Background(), username)
		if err != nil {
			return loginDoneMsg{owner: m, err: err}
		}
		if err := m.deps.Session.Save(payload); err != nil {
			return loginDoneMsg{owner: m, err: err}
		}
		m.deps.Push.Reset()
		return loginDoneMsg{owner: m, user: payload.AuthUser}
	}
}

func (m *AccessModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case loginDoneMsg:
		m.submitting = false
		m.usernameInput.Focus()
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		return m, Go("/")

	case tea.KeyMsg:
		if m.submitting {
			return m, nil
		}

		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "tab", "shift+tab":
			m.focusIndex = 1 - m.focusIndex
			if m.focusIndex == 0 {
				m.usernameInput.Focus()
				m.callbackInput.Blur()
			} else {
				m.usernameInput.Blur()
				m.callbackInput.Focus()
			}
			return m, nil

		case "enter":
			if m.focusIndex == 1 {
				return m.submitCallback()
			}
			username := strings.TrimSpace(m.usernameInput.Value())
			if username == "" {
				m.inputErr = "Username required"
				return m, nil
			}
			m.inputErr = ""
			m.err = ""
			m.submitting = true
			m.usernameInput.Blur()
			return m, m.loginCmd(username)
		}
	}

	var cmd tea.Cmd
	if m.focusIndex == 0 {
		m.usernameInput, cmd = m.usernameInput.Update(msg)
	} else {
		m.callbackInput, cmd = m.callbackInput.Update(msg)
	}
	if m.inputErr != "" {
		m.inputErr = ""
	}
	return m, cmd
}

// submitCallback turns a pasted callback URL into a /callback
// navigation, the same completion path a browser redirect takes.
func (m *AccessModel) submitCallback() (tea.Model, tea.Cmd) {
	raw := strings.TrimSpace(m.callbackInput.Value())
	u, err := url.Parse(raw)
	if err != nil || u.Query().Get("token") == "" || u.Query().Get("expires_at") == "" {
		m.inputErr = "Paste the full callback URL, token and expiry included"
		return m, nil
	}
	q := url.Values{}
	q.Set("token", u.Query().Get("token"))
	q.Set("expires_at", u.Query().Get("expires_at"))
	return m, Go("/callback?" + q.Encode())
}

func (m *AccessModel) View() string {
	s := titleStyle.Render("Messenger") + "\n\n"

	s += inputStyle.Render("Login with username:") + "\n"
	s += m.usernameInput.View() + "\n\n"

	s += normalStyle.Render("Or sign in with GitHub in a browser:") + "\n"
	s += statusStyle.Render(m.deps.API.BaseURL()+"/api/oauth/github") + "\n"
	s += m.callbackInput.View() + "\n"

	if m.inputErr != "" {
		s += "\n" + errorStyle.Render(m.inputErr)
	}
	if m.err != "" {
		s += "\n" + errorStyle.Render("Error: "+m.err)
	}
	if m.submitting {
		s += "\n" + statusStyle.Render("Logging in...")
	}

	s += "\n\n" + helpStyle.Render("enter: submit • tab: switch field • ctrl+c: quit")
	return s
}
