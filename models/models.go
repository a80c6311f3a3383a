// models/models.go
package models

import (
	"time"
)

// PlayerData 玩家数据模型
type PlayerData struct {
	UserID    int64                  `json:"user_id"`
	Name      string                 `json:"name"`
	Level     int                    `json:"level"`
	Coins     int64                  `json:"coins"`
	Items     map[string]interface{} `json:"items"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Resource is one cell of a generated mine.
type Resource struct {
	Kind     string `json:"kind"`
	Quantity int    `json:"quantity"`
}

// Mine is the content auctioned in a room. Rooms carry it as an opaque payload.
type Mine struct {
	Seed  int64        `json:"seed"`
	Size  int          `json:"size"`
	Cells [][]Resource `json:"cells"`
}
