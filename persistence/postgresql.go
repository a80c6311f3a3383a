// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq"
	"github.com/wfunc/auctionserver/models"
)

const queryTimeout = 5 * time.Second

// PostgreSQL is a PlayerStore on database/sql with the lib/pq driver.
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS players (
            id SERIAL PRIMARY KEY,
            user_id BIGINT UNIQUE NOT NULL,
            name VARCHAR(64) NOT NULL,
            level INT NOT NULL DEFAULT 1,
            coins BIGINT NOT NULL DEFAULT 0,
            token VARCHAR(128) UNIQUE,
            data JSONB NOT NULL DEFAULT '{}',
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	return err
}

func (p *PostgreSQL) LoadPlayer(ctx context.Context, userID int64) (*models.PlayerData, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		player models.PlayerData
		data   []byte
	)
	query := `SELECT user_id, name, level, coins, data, created_at, updated_at FROM players WHERE user_id = $1`
	err := p.db.QueryRowContext(ctx, query, userID).Scan(
		&player.UserID, &player.Name, &player.Level, &player.Coins, &data, &player.CreatedAt, &player.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &player.Items); err != nil {
		return nil, fmt.Errorf("decode player %d data: %w", userID, err)
	}
	return &player, nil
}

func (p *PostgreSQL) FindUserIDByToken(ctx context.Context, token string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var userID int64
	err := p.db.QueryRowContext(ctx, `SELECT user_id FROM players WHERE token = $1`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRecordNotFound
		}
		return 0, err
	}
	return userID, nil
}

func (p *PostgreSQL) SavePlayer(ctx context.Context, player *models.PlayerData, token string) error {
	items := player.Items
	if items == nil {
		items = map[string]interface{}{}
	}
	jsonData, err := json.Marshal(items)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// 使用 UPSERT 操作 (PostgreSQL 9.5+)
	query := `
        INSERT INTO players (user_id, name, level, coins, token, data)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
        ON CONFLICT (user_id)
        DO UPDATE SET name = $2, level = $3, coins = $4,
            token = COALESCE(NULLIF($5, ''), players.token),
            data = $6, updated_at = CURRENT_TIMESTAMP
    `
	_, err = p.db.ExecContext(ctx, query, player.UserID, player.Name, player.Level, player.Coins, token, jsonData)
	return err
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
