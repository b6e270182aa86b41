package trade

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"tradepost/database/models"
	"tradepost/database/repositories"
)

// setupTestDB starts a throwaway PostgreSQL container and creates the schema.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	tables := []interface{}{
		(*models.User)(nil),
		(*models.Item)(nil),
		(*models.Currency)(nil),
		(*models.ItemStack)(nil),
		(*models.UserCurrency)(nil),
		(*models.Character)(nil),
		(*models.Trade)(nil),
		(*models.Comment)(nil),
	}
	for _, model := range tables {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err, "failed to create table")
	}

	cleanup := func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return db, cleanup
}

// dbFixture is a seeded database with two users ready to trade: alice owns a
// sword stack, 50 gold and a tradeable character; bob owns a shield stack.
type dbFixture struct {
	manager    *Manager
	trades     repositories.TradeRepository
	stacks     repositories.StackRepository
	currencies repositories.CurrencyRepository
	characters repositories.CharacterRepository

	alice Actor
	bob   Actor

	swordStack  int64
	shieldStack int64
	knight      int64
}

func newDBFixture(t *testing.T, db *bun.DB) *dbFixture {
	t.Helper()

	ctx := context.Background()
	now := time.Now()

	users := []*models.User{
		{Username: "alice", APIToken: "tok-alice", Visible: true, JoinedAt: now, UpdatedAt: now},
		{Username: "bob", APIToken: "tok-bob", Visible: true, JoinedAt: now, UpdatedAt: now},
	}
	_, err := db.NewInsert().Model(&users).Exec(ctx)
	require.NoError(t, err, "failed to seed users")

	gold := &models.Currency{ID: "gold", Name: "Gold", Symbol: "g"}
	_, err = db.NewInsert().Model(gold).Exec(ctx)
	require.NoError(t, err, "failed to seed currency")

	items := []*models.Item{
		{ID: "sword", Name: "Sword", Category: "weapon", Rarity: 1, MaxStack: 1},
		{ID: "shield", Name: "Shield", Category: "armor", Rarity: 1, MaxStack: 1},
	}
	_, err = db.NewInsert().Model(&items).Exec(ctx)
	require.NoError(t, err, "failed to seed items")

	stacks := []*models.ItemStack{
		{OwnerID: users[0].ID, ItemID: "sword", Quantity: 1, ObtainedAt: now, UpdatedAt: now},
		{OwnerID: users[1].ID, ItemID: "shield", Quantity: 1, ObtainedAt: now, UpdatedAt: now},
	}
	_, err = db.NewInsert().Model(&stacks).Exec(ctx)
	require.NoError(t, err, "failed to seed stacks")

	balance := &models.UserCurrency{UserID: users[0].ID, CurrencyID: "gold", Balance: 50, UpdatedAt: now}
	_, err = db.NewInsert().Model(balance).Exec(ctx)
	require.NoError(t, err, "failed to seed balance")

	knight := &models.Character{OwnerID: users[0].ID, Name: "Knight", Slug: "knight", Tradeable: true, Visible: true, UpdatedAt: now}
	_, err = db.NewInsert().Model(knight).Exec(ctx)
	require.NoError(t, err, "failed to seed character")

	trades := repositories.NewTradeRepository(db)
	stackRepo := repositories.NewStackRepository(db)
	currencyRepo := repositories.NewCurrencyRepository(db)
	userRepo := repositories.NewUserRepository(db)
	characterRepo := repositories.NewCharacterRepository(db)

	return &dbFixture{
		manager:     NewManager(db, trades, stackRepo, currencyRepo, userRepo, characterRepo),
		trades:      trades,
		stacks:      stackRepo,
		currencies:  currencyRepo,
		characters:  characterRepo,
		alice:       Actor{ID: users[0].ID, Username: "alice"},
		bob:         Actor{ID: users[1].ID, Username: "bob"},
		swordStack:  stacks[0].ID,
		shieldStack: stacks[1].ID,
		knight:      knight.ID,
	}
}

// requireClass asserts that the operation failed with the given dominant class.
func requireClass(t *testing.T, err error, class Class) *ErrorList {
	t.Helper()

	require.Error(t, err)
	list, ok := AsErrorList(err)
	require.True(t, ok, "expected a classified error list, got %v", err)
	require.Equal(t, class, list.Worst())
	return list
}
