package town

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/smalltown/internal/nav"
)

func TestCatalogLookups(t *testing.T) {
	_, cat := Generate(DefaultGenConfig(42))

	loc, ok := cat.Get("bakery")
	require.True(t, ok)
	assert.Equal(t, TypeCafe, loc.Type)

	_, ok = cat.Get("nowhere")
	assert.False(t, ok)

	assert.Len(t, cat.Residential(), 2)
}

func TestArrivalDetection(t *testing.T) {
	_, cat := Generate(DefaultGenConfig(42))

	plaza, _ := cat.Get("plaza")
	inside, ok := cat.At(plaza.Bounds.Center())
	require.True(t, ok)
	assert.Equal(t, "plaza", inside.ID)

	_, ok = cat.At(nav.Tile{X: 1, Y: 1})
	assert.False(t, ok, "border tiles belong to no location")
}

func TestGenerateDeterministic(t *testing.T) {
	m1, _ := Generate(DefaultGenConfig(7))
	m2, _ := Generate(DefaultGenConfig(7))
	assert.Equal(t, m1.Layers[CollisionLayer], m2.Layers[CollisionLayer])

	m3, _ := Generate(DefaultGenConfig(8))
	assert.NotEqual(t, m1.Layers[CollisionLayer], m3.Layers[CollisionLayer],
		"different seeds produce different towns")
}

func TestGeneratedTownIsConnected(t *testing.T) {
	tileMap, cat := Generate(DefaultGenConfig(42))
	grid := tileMap.NavGrid()
	pf := nav.NewPathfinder(grid, 0)

	plaza, _ := cat.Get("plaza")
	for _, l := range cat.All() {
		if l.ID == "plaza" {
			continue
		}
		path := pf.FindPath(l.SpawnTile(), plaza.Bounds.Center())
		assert.NotNil(t, path, "no route from %s to plaza", l.ID)
	}
}

func TestSpawnTilesWalkable(t *testing.T) {
	tileMap, cat := Generate(DefaultGenConfig(42))
	grid := tileMap.NavGrid()

	for _, l := range cat.All() {
		s := l.SpawnTile()
		assert.True(t, grid.IsWalkable(s.X, s.Y), "spawn of %s blocked", l.ID)
	}
}

func TestNewTileMapValidatesShape(t *testing.T) {
	_, err := NewTileMap(2, 2, map[string][][]int{
		"collision": {{0, 0}},
	})
	assert.Error(t, err)

	m, err := NewTileMap(2, 2, map[string][][]int{
		"collision": {{0, 1}, {0, 0}},
	})
	require.NoError(t, err)

	g := m.NavGrid()
	assert.False(t, g.IsWalkable(1, 0))
	assert.True(t, g.IsWalkable(0, 1))
}

func TestMissingCollisionLayerFullyWalkable(t *testing.T) {
	m, err := NewTileMap(3, 3, map[string][][]int{})
	require.NoError(t, err)
	g := m.NavGrid()
	assert.True(t, g.IsWalkable(0, 0))
	assert.True(t, g.IsWalkable(2, 2))
}
