// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wfunc/auctionserver/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// PlayerModel is the players table.
type PlayerModel struct {
	ID        uint                   `gorm:"primaryKey"`
	UserID    int64                  `gorm:"uniqueIndex;not null"`
	Name      string                 `gorm:"size:64;not null"`
	Level     int                    `gorm:"not null;default:1"`
	Coins     int64                  `gorm:"not null;default:0"`
	Token     *string                `gorm:"size:128;uniqueIndex"`
	Data      map[string]interface{} `gorm:"type:jsonb;serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PlayerModel) TableName() string {
	return "players"
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&PlayerModel{}); err != nil {
		return nil, fmt.Errorf("migrate players: %w", err)
	}

	return &GormPostgreSQL{db: db}, nil
}

func (g *GormPostgreSQL) LoadPlayer(ctx context.Context, userID int64) (*models.PlayerData, error) {
	var row PlayerModel
	err := g.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &models.PlayerData{
		UserID:    row.UserID,
		Name:      row.Name,
		Level:     row.Level,
		Coins:     row.Coins,
		Items:     row.Data,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (g *GormPostgreSQL) FindUserIDByToken(ctx context.Context, token string) (int64, error) {
	var row PlayerModel
	err := g.db.WithContext(ctx).Select("user_id").Where("token = ?", token).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrRecordNotFound
		}
		return 0, err
	}
	return row.UserID, nil
}

func (g *GormPostgreSQL) SavePlayer(ctx context.Context, player *models.PlayerData, token string) error {
	row := PlayerModel{
		UserID: player.UserID,
		Name:   player.Name,
		Level:  player.Level,
		Coins:  player.Coins,
		Data:   player.Items,
	}
	columns := []string{"name", "level", "coins", "data", "updated_at"}
	if token != "" {
		row.Token = &token
		columns = append(columns, "token")
	}

	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&row).Error
}

// Close 关闭数据库连接
func (g *GormPostgreSQL) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
