package service

import "github.com/relaychat/sync-backend/internal/models"

// ResolutionStrategy turns the two sides of a conflict into the
// accepted outcome. Strategies are registered per resolution kind so
// richer merge policies can be added without touching the resolver.
type ResolutionStrategy interface {
	Apply(server, client *models.MessageSnapshot) (*models.MessageSnapshot, error)
}

func defaultStrategies() map[models.Resolution]ResolutionStrategy {
	return map[models.Resolution]ResolutionStrategy{
		models.ServerWins: serverWinsStrategy{},
		models.ClientWins: clientWinsStrategy{},
		models.Merge:      mergeStrategy{},
	}
}

// serverWinsStrategy accepts the server version verbatim.
type serverWinsStrategy struct{}

func (serverWinsStrategy) Apply(server, client *models.MessageSnapshot) (*models.MessageSnapshot, error) {
	if server == nil {
		return nil, nil
	}
	return server.Clone(), nil
}

// clientWinsStrategy overlays fields the client explicitly set onto the
// server snapshot; server values stand for everything else.
type clientWinsStrategy struct{}

func (clientWinsStrategy) Apply(server, client *models.MessageSnapshot) (*models.MessageSnapshot, error) {
	if server == nil {
		return client.Clone(), nil
	}
	out := server.Clone()
	if client == nil {
		return out, nil
	}
	if client.Content != "" {
		out.Content = client.Content
	}
	if client.EditedAt != nil {
		t := *client.EditedAt
		out.EditedAt = &t
	}
	if client.Deleted {
		out.Deleted = true
	}
	return out, nil
}

// mergeStrategy is deliberately narrow: only the content field is
// merged (client content overwrites when present and different), all
// other fields retain the server values.
type mergeStrategy struct{}

func (mergeStrategy) Apply(server, client *models.MessageSnapshot) (*models.MessageSnapshot, error) {
	if server == nil {
		return client.Clone(), nil
	}
	out := server.Clone()
	if client != nil && client.Content != "" && client.Content != server.Content {
		out.Content = client.Content
	}
	return out, nil
}
