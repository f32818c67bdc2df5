package mlsync

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/precifica/precifica/internal/mercadolivre"
)

// Weight is a value with its unit as written in a listing attribute.
type Weight struct {
	Value float64
	Unit  string
}

var weightPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(kg|kgs|kilos?|g|gr|grs|gramas?|grams?|oz|lbs?)\b`)

var unitAliases = map[string]string{
	"kg": "kg", "kgs": "kg", "kilo": "kg", "kilos": "kg",
	"g": "g", "gr": "g", "grs": "g", "grama": "g", "gramas": "g", "gram": "g", "grams": "g",
	"oz": "oz",
	"lb": "lb", "lbs": "lb",
}

var gramsPerUnit = map[string]float64{
	"g":  1,
	"kg": 1000,
	"oz": 28.35,
	"lb": 453.59,
}

// ParseWeight extracts the first number and unit from free text such as
// "500 g", "2kg" or "1,2 kg". A comma is read as the decimal separator.
func ParseWeight(text string) (Weight, bool) {
	m := weightPattern.FindStringSubmatch(text)
	if m == nil {
		return Weight{}, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return Weight{}, false
	}
	unit, ok := unitAliases[strings.ToLower(m[2])]
	if !ok {
		return Weight{}, false
	}
	return Weight{Value: value, Unit: unit}, true
}

// WeightToGrams converts w to grams. Unknown units yield 0.
func WeightToGrams(w Weight) float64 {
	return w.Value * gramsPerUnit[w.Unit]
}

var weightAttributeIDs = []string{"PACKAGE_WEIGHT", "WEIGHT", "NET_WEIGHT"}

// itemWeightGrams looks for a weight attribute by id, then by a localised
// attribute name such as "Peso líquido".
func itemWeightGrams(attrs []mercadolivre.Attribute) (float64, bool) {
	for _, id := range weightAttributeIDs {
		if w, ok := ParseWeight(mercadolivre.AttributeValue(attrs, id)); ok {
			return WeightToGrams(w), true
		}
	}
	for _, a := range attrs {
		name := foldName(a.Name)
		if !strings.HasPrefix(name, "peso") && !strings.HasPrefix(name, "weight") {
			continue
		}
		if w, ok := ParseWeight(a.ValueName); ok {
			return WeightToGrams(w), true
		}
	}
	return 0, false
}

// foldName strips diacritics and case so "PESO LÍQUIDO" matches "peso liquido".
// Casers and transformers are stateful, so both are built per call.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(cases.Fold().String(out))
}
