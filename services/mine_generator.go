// services/mine_generator.go
package services

import (
	"encoding/json"
	"math/rand"
	"sync"

	"github.com/wfunc/auctionserver/models"
)

type resourceWeight struct {
	kind   string
	weight int
	max    int
}

var resourceTable = []resourceWeight{
	{"stone", 50, 20},
	{"coal", 25, 12},
	{"iron", 15, 8},
	{"gold", 8, 4},
	{"diamond", 2, 1},
}

// MineGenerator builds the resource grid auctioned in a room.
type MineGenerator struct {
	size  int
	mutex sync.Mutex
	rng   *rand.Rand
}

func NewMineGenerator(size int, seed int64) *MineGenerator {
	if size <= 0 {
		size = 1
	}
	return &MineGenerator{size: size, rng: rand.New(rand.NewSource(seed))}
}

// Generate returns a fresh mine encoded as JSON.
func (g *MineGenerator) Generate() ([]byte, error) {
	g.mutex.Lock()
	seed := g.rng.Int63()
	g.mutex.Unlock()

	return json.Marshal(BuildMine(seed, g.size))
}

// BuildMine is deterministic in seed and size.
func BuildMine(seed int64, size int) models.Mine {
	rng := rand.New(rand.NewSource(seed))
	total := 0
	for _, r := range resourceTable {
		total += r.weight
	}

	cells := make([][]models.Resource, size)
	for y := range cells {
		cells[y] = make([]models.Resource, size)
		for x := range cells[y] {
			pick := rng.Intn(total)
			for _, r := range resourceTable {
				if pick < r.weight {
					cells[y][x] = models.Resource{Kind: r.kind, Quantity: 1 + rng.Intn(r.max)}
					break
				}
				pick -= r.weight
			}
		}
	}
	return models.Mine{Seed: seed, Size: size, Cells: cells}
}
