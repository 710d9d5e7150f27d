package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Legacy document shapes used alternate field names (quantite for weight,
// categorie for category) and sometimes carried weights as strings. The
// normalization below runs once at the ingest boundary; everything past it
// sees the versioned schema only.

// CollectionDetails is the normalized payload of one submitted collection.
type CollectionDetails struct {
	Category Category
	Weight   decimal.Decimal
	Geo      *GeoPoint
}

// NormalizeCollectionDocument converts a raw document into CollectionDetails,
// resolving legacy field aliases exactly once.
func NormalizeCollectionDocument(doc map[string]interface{}) (CollectionDetails, error) {
	var details CollectionDetails

	rawCategory, ok := firstField(doc, "category", "categorie")
	if !ok {
		return details, fmt.Errorf("category is required")
	}
	category, ok := rawCategory.(string)
	if !ok {
		return details, fmt.Errorf("category must be a string, got %T", rawCategory)
	}
	details.Category = Category(category)
	if !ValidCategory(details.Category) {
		return details, fmt.Errorf("unknown category %q", category)
	}

	rawWeight, ok := firstField(doc, "weight", "kg", "quantite")
	if !ok {
		return details, fmt.Errorf("weight is required")
	}
	weight, err := coerceDecimal(rawWeight)
	if err != nil {
		return details, fmt.Errorf("weight: %w", err)
	}
	if weight.IsNegative() {
		return details, fmt.Errorf("weight must be non-negative, got %s", weight)
	}
	details.Weight = weight

	if rawGeo, ok := doc["geo"]; ok && rawGeo != nil {
		geo, err := coerceGeo(rawGeo)
		if err != nil {
			return details, fmt.Errorf("geo: %w", err)
		}
		details.Geo = geo
	}

	return details, nil
}

func firstField(doc map[string]interface{}, names ...string) (interface{}, bool) {
	for _, name := range names {
		if v, ok := doc[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// coerceDecimal accepts the numeric shapes that occur in stored documents.
// JSON numbers unmarshal to float64; legacy records carried strings.
func coerceDecimal(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", val)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", v)
	}
}

func coerceGeo(v interface{}) (*GeoPoint, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("must be an object, got %T", v)
	}
	lat, okLat := m["lat"].(float64)
	lng, okLng := m["lng"].(float64)
	if !okLat || !okLng {
		return nil, fmt.Errorf("lat and lng are required numbers")
	}
	return &GeoPoint{Lat: lat, Lng: lng}, nil
}
