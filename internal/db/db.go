package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"docchat/internal/config"
)

// ErrEmptyLog is returned when no exchange has been recorded yet.
var ErrEmptyLog = errors.New("chat history is empty")

// ChatHistory is one durable question/answer exchange. Rows are only ever
// inserted.
type ChatHistory struct {
	bun.BaseModel     `bun:"table:chat_history,alias:ch"`
	ID                int64  `bun:"id,pk,autoincrement"`
	UserInput         string `bun:"user_input,notnull"`
	AssistantResponse string `bun:"assistant_response,notnull"`
}

// Open connects to the configured database. sqlite is the default.
func Open(cfg *config.DatabaseConfig) (*bun.DB, error) {
	var db *bun.DB
	switch cfg.Driver {
	case "", "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// a single writer keeps sqlite from returning SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case "postgres":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}

// InitDB creates the chat_history table if it does not exist.
func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*ChatHistory)(nil)).IfNotExists().Exec(ctx)
	return err
}

// AppendExchange inserts one exchange on a dedicated connection that is
// released on every path, and returns the new row id.
func AppendExchange(ctx context.Context, db *bun.DB, userInput, assistantResponse string) (int64, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	row := &ChatHistory{
		UserInput:         userInput,
		AssistantResponse: assistantResponse,
	}
	if _, err := conn.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("insert chat history: %w", err)
	}
	return row.ID, nil
}

// LatestExchange returns the most recently inserted exchange.
func LatestExchange(ctx context.Context, db *bun.DB) (*ChatHistory, error) {
	row := new(ChatHistory)
	err := db.NewSelect().Model(row).OrderExpr("id DESC").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmptyLog
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CountExchanges returns the number of recorded exchanges.
func CountExchanges(ctx context.Context, db *bun.DB) (int, error) {
	return db.NewSelect().Model((*ChatHistory)(nil)).Count(ctx)
}
