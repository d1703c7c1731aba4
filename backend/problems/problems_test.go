package problems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogueYAML = `
problems:
  - description: "sum 1..100"
    starterCode: "main:"
    solution: "5050"
  - description: "fib 20"
    starterCode: "main:"
    solution: "4181"
  - description: "popcount"
    starterCode: "main:"
    solution: "24"
`

func TestLoad(t *testing.T) {
	got, err := Load([]byte(catalogueYAML))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "sum 1..100", got[0].Description)
	assert.Equal(t, "5050", got[0].Expected)
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load([]byte("problems: [not: valid"))
	assert.Error(t, err)
}

func TestLoad_Empty(t *testing.T) {
	got, err := Load([]byte("problems: []"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeck_EmptyCatalogue(t *testing.T) {
	d := NewDeck(nil)
	_, err := d.Draw()
	assert.ErrorIs(t, err, ErrNoProblem)
}

func TestDeck_DrawsWholeCatalogueBeforeRepeating(t *testing.T) {
	all, err := Load([]byte(catalogueYAML))
	require.NoError(t, err)

	d := NewDeckWithSeed(all, 42)

	seen := make(map[string]int)
	for i := 0; i < len(all); i++ {
		p, err := d.Draw()
		require.NoError(t, err)
		seen[p.Description]++
	}
	require.Len(t, seen, len(all), "first pass must cover the whole catalogue")
	for desc, n := range seen {
		assert.Equal(t, 1, n, "problem %q repeated within one pass", desc)
	}

	// the deck refills and keeps dealing
	for i := 0; i < len(all)*2; i++ {
		_, err := d.Draw()
		require.NoError(t, err)
	}
}

func TestDeck_ConcurrentDraw(t *testing.T) {
	all, err := Load([]byte(catalogueYAML))
	require.NoError(t, err)

	d := NewDeck(all)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				_, drawErr := d.Draw()
				assert.NoError(t, drawErr)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
