package repositories

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"tradepost/database/models"
)

type UserRepository interface {
	DB() *bun.DB
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByToken(ctx context.Context, token string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ListVisible(ctx context.Context) ([]*models.User, error)
}

type userRepository struct {
	*BaseRepository
}

func NewUserRepository(db *bun.DB) UserRepository {
	return &userRepository{BaseRepository: NewBaseRepository(db)}
}

func (r *userRepository) DB() *bun.DB {
	return r.GetDB()
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	if user.JoinedAt.IsZero() {
		user.JoinedAt = time.Now()
	}

	_, err := r.GetDB().NewInsert().Model(user).Exec(ctx)
	return r.HandleError("create", "user", err)
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user := new(models.User)
	err := r.GetDB().NewSelect().
		Model(user).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleErrorWithID("get", "user", id, err)
	}
	return user, nil
}

func (r *userRepository) GetByToken(ctx context.Context, token string) (*models.User, error) {
	user := new(models.User)
	err := r.GetDB().NewSelect().
		Model(user).
		Where("api_token = ?", token).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleError("get", "user", err)
	}
	return user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user := new(models.User)
	err := r.GetDB().NewSelect().
		Model(user).
		Where("username = ?", username).
		Scan(ctx)

	if err != nil {
		return nil, r.HandleErrorWithID("get", "user", username, err)
	}
	return user, nil
}

// ListVisible returns users eligible as trade recipients, ordered by name.
func (r *userRepository) ListVisible(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := r.GetDB().NewSelect().
		Model(&users).
		Where("visible = true AND banned = false").
		Order("username ASC").
		Scan(ctx)

	if err != nil {
		return nil, r.HandleError("list", "user", err)
	}
	return users, nil
}
