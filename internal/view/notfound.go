package view

import (
	tea "github.com/charmbracelet/bubbletea"

	"dmterm/internal/router"
)

// NotFoundModel is the catch-all route.
type NotFoundModel struct {
	path string
}

func notFoundFactory(_ *Deps, m router.Match) (View, tea.Cmd) {
	return &NotFoundModel{path: m.Path}, nil
}

func (m *NotFoundModel) Init() tea.Cmd { return nil }

func (m *NotFoundModel) Deactivate() {}

func (m *NotFoundModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "enter", "esc":
			return m, Go("/")
		}
	}
	return m, nil
}

func (m *NotFoundModel) View() string {
	s := titleStyle.Render("Not found") + "\n\n"
	s += normalStyle.Render("Nothing lives at "+m.path) + "\n\n"
	s += helpStyle.Render("enter: home • q: quit")
	return s
}
