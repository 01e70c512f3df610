package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMap(t *testing.T) {
	t.Run("Get materializes missing entries", func(t *testing.T) {
		m := NewDefaultMap[string](func() int { return 7 })

		assert.Equal(t, 7, m.Get("a"))
		assert.Contains(t, m.ToMap(), "a")
	})

	t.Run("Set overrides the default", func(t *testing.T) {
		m := NewDefaultMap[string](func() int { return 0 })

		m.Set("a", 42)
		assert.Equal(t, 42, m.Get("a"))
	})

	t.Run("defaults are independent per key", func(t *testing.T) {
		m := NewDefaultMap[string](func() []int { return nil })

		m.Set("a", append(m.Get("a"), 1))
		assert.Equal(t, []int{1}, m.Get("a"))
		assert.Empty(t, m.Get("b"))
	})

	t.Run("ToMap exposes the backing map", func(t *testing.T) {
		m := NewDefaultMap[int](func() string { return "" })
		m.Set(1, "one")

		backing := m.ToMap()
		assert.Equal(t, map[int]string{1: "one"}, backing)
	})
}
