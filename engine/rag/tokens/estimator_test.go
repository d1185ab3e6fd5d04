package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproximate(t *testing.T) {
	t.Run("Should round rune counts up to whole tokens", func(t *testing.T) {
		assert.Equal(t, 0, Approximate(""))
		assert.Equal(t, 1, Approximate("abc"))
		assert.Equal(t, 1, Approximate("abcd"))
		assert.Equal(t, 2, Approximate("abcde"))
		assert.Equal(t, 3, Approximate("dû le 1er"))
	})
}

func TestEstimator_Count(t *testing.T) {
	t.Run("Should fall back to the heuristic without an encoder", func(t *testing.T) {
		var e *Estimator
		assert.Equal(t, 0, e.Count(""))
		assert.Equal(t, 4, e.Count("The monthly rent"))
		assert.Equal(t, 7, e.CountAll([]string{"The monthly rent", "is $1500 due"}))
	})
}
