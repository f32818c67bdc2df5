package mlsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precifica/precifica/internal/mercadolivre"
)

func TestParseWeight(t *testing.T) {
	cases := []struct {
		in    string
		want  Weight
		grams float64
	}{
		{"500 g", Weight{500, "g"}, 500},
		{"0.5 kg", Weight{0.5, "kg"}, 500},
		{"2kg", Weight{2, "kg"}, 2000},
		{"1,2 kg", Weight{1.2, "kg"}, 1200},
		{"Peso: 350 gramas", Weight{350, "g"}, 350},
		{"8 oz", Weight{8, "oz"}, 226.8},
		{"1 lb", Weight{1, "lb"}, 453.59},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseWeight(tc.in)
			require.True(t, ok)
			assert.Equal(t, tc.want.Unit, got.Unit)
			assert.InDelta(t, tc.want.Value, got.Value, 1e-9)
			assert.InDelta(t, tc.grams, WeightToGrams(got), 1e-6)
		})
	}
}

func TestParseWeightRejectsTextWithoutUnit(t *testing.T) {
	for _, in := range []string{"", "pesado", "500", "12 cm"} {
		_, ok := ParseWeight(in)
		assert.False(t, ok, in)
	}
}

func TestItemWeightMatchesAccentedAttributeName(t *testing.T) {
	grams, ok := itemWeightGrams([]mercadolivre.Attribute{
		{ID: "COLOR", Name: "Cor", ValueName: "Preto"},
		{ID: "CUSTOM", Name: "PESO LÍQUIDO", ValueName: "1,5 kg"},
	})
	require.True(t, ok)
	assert.InDelta(t, 1500, grams, 1e-6)

	grams, ok = itemWeightGrams([]mercadolivre.Attribute{{ID: "PACKAGE_WEIGHT", ValueName: "750 g"}})
	require.True(t, ok)
	assert.InDelta(t, 750, grams, 1e-6)
}
