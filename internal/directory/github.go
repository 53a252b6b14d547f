package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/zulandar/roundtable/internal/creation"
	"github.com/zulandar/roundtable/internal/identity"
	"github.com/zulandar/roundtable/internal/room"
)

// UsersService is the part of the GitHub users API GitHub needs.
type UsersService interface {
	Get(ctx context.Context, user string) (*github.User, *github.Response, error)
}

// SearchService is the part of the GitHub search API GitHub needs.
type SearchService interface {
	Users(ctx context.Context, query string, opts *github.SearchOptions) (*github.UsersSearchResult, *github.Response, error)
}

// GitHub resolves local accounts as GitHub logins and emails through the
// public-email user search. Phone numbers are never discoverable.
type GitHub struct {
	users  UsersService
	search SearchService
}

// NewGitHub creates a GitHub resolver authenticated with token.
func NewGitHub(ctx context.Context, token string) (*GitHub, error) {
	if token == "" {
		return nil, fmt.Errorf("directory: github token is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	return NewGitHubWithServices(client.Users, client.Search), nil
}

// NewGitHubWithServices creates a GitHub resolver over the given services.
func NewGitHubWithServices(users UsersService, search SearchService) *GitHub {
	return &GitHub{users: users, search: search}
}

// Resolve implements creation.Resolver.
func (g *GitHub) Resolve(ctx context.Context, p room.ParticipantSpec) (string, error) {
	switch p.Identifier.Kind {
	case room.IdentifierAgent:
		return AgentRef, nil
	case room.IdentifierLocalAccount:
		return g.byLogin(ctx, p.Identifier.Value)
	case room.IdentifierEmail:
		return g.byEmail(ctx, identity.NormalizeEmail(p.Identifier.Value))
	}
	return "", fmt.Errorf("directory: github: %s: %w", p.Identifier, creation.ErrNotDiscoverable)
}

func (g *GitHub) byLogin(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("directory: github: empty login: %w", creation.ErrNotDiscoverable)
	}
	u, _, err := g.users.Get(ctx, login)
	if err != nil {
		return "", classify("get user "+login, err)
	}
	return "github:" + u.GetLogin(), nil
}

func (g *GitHub) byEmail(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("directory: github: empty email: %w", creation.ErrNotDiscoverable)
	}
	res, _, err := g.search.Users(ctx, email+" in:email", &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 2}})
	if err != nil {
		return "", classify("search "+email, err)
	}
	switch len(res.Users) {
	case 0:
		return "", fmt.Errorf("directory: github: %s: %w", email, creation.ErrNotDiscoverable)
	case 1:
		return "github:" + res.Users[0].GetLogin(), nil
	}
	return "", fmt.Errorf("directory: github: %s matches %d users: %w", email, res.GetTotal(), creation.ErrNotDiscoverable)
}

// classify maps a GitHub API error onto the resolver taxonomy: 404 means not
// discoverable, context errors pass through, anything else is transient.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("directory: github: %s: %w", op, err)
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("directory: github: %s: %w", op, creation.ErrNotDiscoverable)
	}
	return &creation.NetworkError{Detail: "directory: github: " + op, Err: err}
}
