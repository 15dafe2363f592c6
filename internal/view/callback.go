package view

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dmterm/internal/models"
	"dmterm/internal/router"
)

// CallbackModel completes an OAuth sign-in: it holds a token that is not
// yet persisted, fetches the user behind it, and saves the session.
type CallbackModel struct {
	deps      *Deps
	token     string
	expiresAt time.Time
	err       string
}

// callbackFactory redirects straight home when the URL is missing its
// parameters, yielding no view at all.
func callbackFactory(deps *Deps, m router.Match) (View, tea.Cmd) {
	token := m.Query.Get("token")
	rawExpiresAt := m.Query.Get("expires_at")
	if token == "" || rawExpiresAt == "" {
		return nil, Go("/")
	}

	expiresAt, err := time.Parse(time.RFC3339, rawExpiresAt)
	if err != nil {
		return nil, Go("/")
	}

	return &CallbackModel{deps: deps, token: token, expiresAt: expiresAt}, nil
}

type callbackDoneMsg struct {
	owner View
	err   error
}

func (msg callbackDoneMsg) ownerView() View { return msg.owner }

func (m *CallbackModel) Init() tea.Cmd {
	return func() tea.Msg {
		user, err := m.deps.API.AuthUserWithToken(context.Background(), m.token)
		if err != nil {
			return callbackDoneMsg{owner: m, err: err}
		}
		err = m.deps.Session.Save(models.LoginPayload{
			AuthUser:  user,
			Token:     m.token,
			ExpiresAt: m.expiresAt,
		})
		if err != nil {
			return callbackDoneMsg{owner: m, err: err}
		}
		m.deps.Push.Reset()
		return callbackDoneMsg{owner: m}
	}
}

func (m *CallbackModel) Deactivate() {}

func (m *CallbackModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case callbackDoneMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
			return m, nil
		}
		return m, Go("/")

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter", "esc":
			if m.err != "" {
				return m, Go("/")
			}
		}
	}
	return m, nil
}

func (m *CallbackModel) View() string {
	if m.err != "" {
		s := errorStyle.Render("Could not complete sign in: "+m.err) + "\n\n"
		s += helpStyle.Render("enter: back")
		return s
	}
	return statusStyle.Render("Completing sign in...")
}
