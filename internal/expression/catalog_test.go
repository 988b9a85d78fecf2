package expression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(c *Catalog) []ID {
	var out []ID
	for _, e := range c.Expressions() {
		out = append(out, e.ID)
	}
	return out
}

func TestCatalog_UpsertKeepsPosition(t *testing.T) {
	c := NewCatalog(expr("a", 0), expr("b", 0.3))

	added := c.Upsert(Expression{ID: "a", Name: "renamed", Threshold: 0.1})
	assert.False(t, added)
	assert.Equal(t, []ID{"a", "b"}, ids(c))

	got, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Name)

	added = c.Upsert(Expression{Name: "fresh"})
	assert.True(t, added)
	require.Equal(t, 3, c.Len())
	assert.NotEmpty(t, c.Expressions()[2].ID, "an empty id is replaced")
}

func TestCatalog_RemoveAndMove(t *testing.T) {
	c := NewCatalog(expr("a", 0), expr("b", 0), expr("c", 0))

	require.True(t, c.Move("c", 0))
	assert.Equal(t, []ID{"c", "a", "b"}, ids(c))

	require.True(t, c.Move("c", 99))
	assert.Equal(t, []ID{"a", "b", "c"}, ids(c))

	require.True(t, c.Remove("b"))
	assert.Equal(t, []ID{"a", "c"}, ids(c))
	assert.False(t, c.Contains("b"))

	got, ok := c.Lookup("c")
	require.True(t, ok, "index is rebuilt after removal")
	assert.Equal(t, ID("c"), got.ID)

	assert.False(t, c.Remove("missing"))
	assert.False(t, c.Move("missing", 0))
}

func TestCatalog_ReturnedValuesDoNotAlias(t *testing.T) {
	c := NewCatalog(Expression{ID: "a", Bounce: &Bounce{MaxVelocity: 12, TotalFrames: 30}})

	got, _ := c.Lookup("a")
	got.Bounce.MaxVelocity = 1

	again, _ := c.Lookup("a")
	assert.Equal(t, float32(12), again.Bounce.MaxVelocity)
}

func TestNormalize_ClampsMalformedRecords(t *testing.T) {
	in := Expression{
		ID:        "x",
		Threshold: -0.5,
		AttackMS:  -10,
		ReleaseMS: math.NaN(),
		Bounce:    &Bounce{MaxVelocity: 4, TotalFrames: 0},
	}

	out := Normalize(in, NormalizeOptions{})
	assert.Equal(t, 0.0, out.Threshold)
	assert.Equal(t, 0.0, out.AttackMS)
	assert.Equal(t, 0.0, out.ReleaseMS)
	assert.Nil(t, out.Bounce, "bounce without frames is disabled")
	assert.False(t, out.HasBounce())

	// The input is left untouched.
	assert.NotNil(t, in.Bounce)
}

func TestNormalize_NegativeThresholdKeptForDBFS(t *testing.T) {
	out := Normalize(Expression{Threshold: -30}, NormalizeOptions{AllowNegativeThreshold: true})
	assert.Equal(t, -30.0, out.Threshold)
}

func TestNormalize_NegativeVelocity(t *testing.T) {
	out := Normalize(Expression{Bounce: &Bounce{MaxVelocity: -3, TotalFrames: 10}}, NormalizeOptions{})
	require.NotNil(t, out.Bounce)
	assert.Equal(t, float32(0), out.Bounce.MaxVelocity)
	assert.Equal(t, int32(10), out.Bounce.TotalFrames)
}

func TestNormalizeAll_AssignsUniqueIDs(t *testing.T) {
	out := NormalizeAll([]Expression{{ID: "a"}, {ID: "a"}, {}}, NormalizeOptions{})
	require.Len(t, out, 3)

	assert.Equal(t, ID("a"), out[0].ID)
	assert.NotEqual(t, ID("a"), out[1].ID)
	assert.NotEmpty(t, out[2].ID)
	assert.NotEqual(t, out[1].ID, out[2].ID)
}
