package view

import (
	tea "github.com/charmbracelet/bubbletea"

	"dmterm/internal/registry"
	"dmterm/internal/router"
)

// App is the root model. It owns which view is current: navigation
// tears the previous view down, dispatches the path, and attaches the
// factory's result. Exactly one view is current at a time.
type App struct {
	deps    *Deps
	routes  *router.Router[Factory]
	current View
	width   int
	height  int
}

// NewApp builds the route table. The table mirrors the pages of the
// client: home behind the auth guard, the OAuth callback, conversations
// behind the guard, and a catch-all.
func NewApp(deps *Deps) *App {
	reg := registry.New[Factory]()
	reg.Register(registry.ViewAccess, func() (Factory, error) { return accessFactory, nil })
	reg.Register(registry.ViewCallback, func() (Factory, error) { return callbackFactory, nil })
	reg.Register(registry.ViewHome, func() (Factory, error) { return homeFactory, nil })
	reg.Register(registry.ViewConversation, func() (Factory, error) { return conversationFactory, nil })
	reg.Register(registry.ViewNotFound, func() (Factory, error) { return notFoundFactory, nil })

	routes := router.New[Factory]()
	routes.Handle("/", Guarded(resolve(reg, registry.ViewHome), resolve(reg, registry.ViewAccess)))
	routes.Handle("/callback", resolve(reg, registry.ViewCallback))
	routes.Handle(`^/conversations/([^/]+)$`, Guarded(resolve(reg, registry.ViewConversation), resolve(reg, registry.ViewAccess)))
	routes.Handle(`^/`, resolve(reg, registry.ViewNotFound))

	return &App{deps: deps, routes: routes}
}

// resolve defers the registry lookup to dispatch time, so the registry's
// single-flight load runs on first navigation to a view, not at startup.
func resolve(reg *registry.Registry[Factory], name registry.ViewName) Factory {
	return func(deps *Deps, m router.Match) (View, tea.Cmd) {
		f, err := reg.Resolve(name)
		if err != nil {
			deps.Logger.Printf("could not resolve view %q: %v", name, err)
			return nil, Go("/")
		}
		return f(deps, m)
	}
}

func (a *App) Init() tea.Cmd {
	return Go("/")
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case GoMsg:
		return a, a.navigate(msg.Path)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
	}

	// Late completions of a view that is no longer current are dropped,
	// releasing whatever they carry.
	if om, ok := msg.(ownedMsg); ok && om.ownerView() != a.current {
		if d, ok := msg.(discardable); ok {
			d.discard()
		}
		return a, nil
	}

	if a.current == nil {
		return a, nil
	}
	next, cmd := a.current.Update(msg)
	a.current = next.(View)
	return a, cmd
}

func (a *App) View() string {
	if a.current == nil {
		return ""
	}
	return a.current.View()
}

func (a *App) navigate(path string) tea.Cmd {
	if a.current != nil {
		a.current.Deactivate()
		a.current = nil
	}

	factory, match, ok := a.routes.Dispatch(path)
	if !ok {
		return nil
	}

	v, cmd := factory(a.deps, match)
	if v == nil {
		// The factory redirected; the display stays empty until the
		// next navigation lands.
		return cmd
	}

	a.current = v
	cmds := []tea.Cmd{v.Init(), cmd}
	if a.width > 0 {
		next, sizeCmd := v.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
		a.current = next.(View)
		cmds = append(cmds, sizeCmd)
	}
	return tea.Batch(cmds...)
}
