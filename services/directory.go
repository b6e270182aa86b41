package services

import (
	"context"
	"strings"

	"github.com/sahilm/fuzzy"

	"tradepost/database/models"
	"tradepost/database/repositories"
)

// Directory resolves trade partners. It backs the recipient picker on the
// trade creation page: visible, non-banned users matched fuzzily by name.
type Directory struct {
	users repositories.UserRepository
}

func NewDirectory(users repositories.UserRepository) *Directory {
	return &Directory{users: users}
}

// SearchRecipients returns up to limit users matching the query, best match
// first. An empty query lists users alphabetically. The requesting user is
// excluded so they cannot pick themselves.
func (d *Directory) SearchRecipients(ctx context.Context, query string, excludeID int64, limit int) ([]*models.User, error) {
	if limit <= 0 {
		limit = 10
	}

	users, err := d.users.ListVisible(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]*models.User, 0, len(users))
	for _, u := range users {
		if u.ID != excludeID {
			candidates = append(candidates, u)
		}
	}

	query = strings.TrimSpace(query)
	if query == "" {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates, nil
	}

	names := make([]string, len(candidates))
	for i, u := range candidates {
		names[i] = u.Username
	}

	matches := fuzzy.Find(query, names)

	results := make([]*models.User, 0, limit)
	for _, match := range matches {
		results = append(results, candidates[match.Index])
		if len(results) == limit {
			break
		}
	}
	return results, nil
}
