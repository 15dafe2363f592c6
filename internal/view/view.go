// Package view holds the bubbletea models behind each route and the app
// shell that swaps them. A view is activated by the shell (Init runs its
// data fetch and push subscription) and deactivated exactly once when
// the shell navigates away.
package view

import (
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"dmterm/internal/api"
	"dmterm/internal/cache"
	"dmterm/internal/push"
	"dmterm/internal/router"
	"dmterm/internal/session"
)

// Deps is what every view gets to work with.
type Deps struct {
	API     *api.Client
	Session *session.Store
	Push    *push.Manager
	Cache   *cache.Store
	Logger  *log.Logger
}

// View is a routed model. Deactivate releases the view's push listener
// and is safe to call when activation failed partway.
type View interface {
	tea.Model
	Deactivate()
}

// Factory builds the view for a matched route. A factory may return a
// nil view along with a navigation command instead, leaving the display
// empty until the redirect lands.
type Factory func(deps *Deps, m router.Match) (View, tea.Cmd)

// Guarded picks between two factories on the session state, evaluated
// fresh on every dispatch.
func Guarded(authed, unauthed Factory) Factory {
	return func(deps *Deps, m router.Match) (View, tea.Cmd) {
		if deps.Session.IsAuthenticated() {
			return authed(deps, m)
		}
		return unauthed(deps, m)
	}
}

// GoMsg asks the app shell to navigate to an internal path.
type GoMsg struct {
	Path string
}

// Go returns a command that navigates to path.
func Go(path string) tea.Cmd {
	return func() tea.Msg {
		return GoMsg{Path: path}
	}
}

// ownedMsg is implemented by every asynchronous completion a view emits.
// The shell drops messages whose owner is no longer the current view, so
// a torn-down view never acts on a late response.
type ownedMsg interface {
	ownerView() View
}

// discardable lets a dropped message release resources it carries, such
// as a push listener acquired by an activation that lost the race with a
// navigation.
type discardable interface {
	discard()
}
