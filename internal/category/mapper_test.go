package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/material-scraper/internal/models"
)

func TestMapper_Map(t *testing.T) {
	m := NewMapper()

	tests := []struct {
		label    string
		expected models.Category
		unmapped bool
	}{
		{"tiles", models.CategoryTiles, false},
		{"Carrelage", models.CategoryTiles, false},
		{"Faïence", models.CategoryTiles, false},
		{"Éviers", models.CategorySinks, false},
		{"WC & toilettes", models.CategoryToilets, false},
		{"Peinture intérieure", models.CategoryPaint, false},
		{"Meuble sous-vasque", models.CategoryVanities, false},
		{"Salle de bain > Paroi de douche", models.CategoryShowers, false},
		{"  DOUCHE  ", models.CategoryShowers, false},
		{"Quincaillerie", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := m.Map("leroy_merlin", tt.label)
			if tt.unmapped {
				assert.ErrorIs(t, err, ErrUnmappedCategory)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMapper_SupplierOverride(t *testing.T) {
	m := NewMapper()
	require.NoError(t, m.Register("castorama", "Robinetterie de douche", models.CategoryShowers))
	require.NoError(t, m.Register("castorama", "Peinture", models.CategoryPaint))

	got, err := m.Map("castorama", "robinetterie de douche")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryShowers, got)

	_, err = m.Map("leroy_merlin", "Robinetterie de douche")
	assert.ErrorIs(t, err, ErrUnmappedCategory)

	assert.Error(t, m.Register("castorama", "Quincaillerie", models.Category("hardware")))
	assert.Error(t, m.Register("castorama", "   ", models.CategoryPaint))

	require.NoError(t, m.Register("castorama", "PEINTURE", models.CategoryPaint))
	err = m.Register("castorama", "Peinture", models.CategoryTiles)
	assert.ErrorIs(t, err, ErrLabelConflict)

	got, err = m.Map("castorama", "Peinture")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryPaint, got)
}

func TestMapper_Deterministic(t *testing.T) {
	m := NewMapper()
	for i := 0; i < 50; i++ {
		got, err := m.Map("castorama", "Lavabo")
		require.NoError(t, err)
		assert.Equal(t, models.CategorySinks, got)
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, "meuble sous vasque", Fold("Meuble sous-vasque"))
	assert.Equal(t, "eviers", Fold("Salle de bain / Éviers"))
	assert.Equal(t, "wc toilettes", Fold("WC & toilettes"))
}
