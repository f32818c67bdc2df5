package mlsync

import (
	"github.com/precifica/precifica/internal/mercadolivre"
	"github.com/precifica/precifica/internal/products"
)

const sellerSKUAttribute = "SELLER_SKU"

// SKU is a derived stock keeping unit with its provenance.
type SKU struct {
	Value       string
	Source      products.SKUSource
	VariationID string
}

// DeriveSKU picks the SKU of an item. Precedence: the item custom field, the
// item SELLER_SKU attribute, then the matched variation's custom field,
// SELLER_SKU attribute and seller_sku, and finally the variation id itself.
// storedVariationID is the ml_variation_id already saved for the product.
func DeriveSKU(item mercadolivre.Item, storedVariationID string) SKU {
	var out SKU
	variation := matchVariation(item.Variations, storedVariationID)
	if variation != nil {
		out.VariationID = variation.IDString()
	}

	candidates := []string{
		item.SellerCustomField,
		mercadolivre.AttributeValue(item.Attributes, sellerSKUAttribute),
	}
	if variation != nil {
		candidates = append(candidates,
			variation.SellerCustomField,
			mercadolivre.AttributeValue(variation.Attributes, sellerSKUAttribute),
			variation.SellerSKU,
			variation.IDString(),
		)
	}
	for _, c := range candidates {
		if c != "" {
			out.Value = c
			out.Source = products.SKUSourceMercadoLivre
			return out
		}
	}
	out.Source = products.SKUSourceNone
	return out
}

// matchVariation finds the variation whose id equals stored. Without a stored
// id, an item with exactly one variation matches it.
func matchVariation(variations []mercadolivre.Variation, stored string) *mercadolivre.Variation {
	if stored != "" {
		for i := range variations {
			if variations[i].IDString() == stored {
				return &variations[i]
			}
		}
		return nil
	}
	if len(variations) == 1 {
		return &variations[0]
	}
	return nil
}
