// Package registry holds the static catalogs: tracked items with their unit
// rules, and the connector catalog with rate/retry policy per provider.
package registry

// ItemDef describes one tracked item: its standard unit, the alternate units
// providers are allowed to report in, and the linear factors that convert an
// alternate unit into the standard one. A unit with no conversion entry has
// no path to the standard unit and points in it are dropped during
// normalization, not guessed.
type ItemDef struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	StandardUnit string             `yaml:"standard_unit"`
	Alternates   []string           `yaml:"alternates,omitempty"`
	Conversions  map[string]float64 `yaml:"conversions,omitempty"` // unit -> factor into StandardUnit
}

// AcceptsUnit reports whether the unit is the standard unit or a known
// alternate.
func (d *ItemDef) AcceptsUnit(unit string) bool {
	if unit == d.StandardUnit {
		return true
	}
	for _, alt := range d.Alternates {
		if alt == unit {
			return true
		}
	}
	return false
}

// ConversionFactor returns the linear factor from the given unit into the
// standard unit, and whether a conversion path exists.
func (d *ItemDef) ConversionFactor(unit string) (float64, bool) {
	if unit == d.StandardUnit {
		return 1, true
	}
	f, ok := d.Conversions[unit]
	return f, ok
}

// defaultItems is the built-in item catalog for the cost-of-essentials
// basket. Conversions are linear factors into the standard unit.
var defaultItems = []ItemDef{
	{
		ID:           "gasoline-gallon",
		Name:         "Regular gasoline, per gallon",
		StandardUnit: "usd/gallon",
		Alternates:   []string{"usd-cents/gallon", "usd/liter"},
		Conversions: map[string]float64{
			"usd-cents/gallon": 0.01,
			"usd/liter":        3.785411784,
		},
	},
	{
		ID:           "milk-gallon",
		Name:         "Whole milk, per gallon",
		StandardUnit: "usd/gallon",
		Alternates:   []string{"usd-cents/gallon", "usd/half-gallon"},
		Conversions: map[string]float64{
			"usd-cents/gallon": 0.01,
			"usd/half-gallon":  2,
		},
	},
	{
		ID:           "eggs-dozen",
		Name:         "Grade A eggs, per dozen",
		StandardUnit: "usd/dozen",
		Alternates:   []string{"usd-cents/dozen"},
		Conversions: map[string]float64{
			"usd-cents/dozen": 0.01,
		},
	},
	{
		ID:           "bread-loaf",
		Name:         "White bread, per pound loaf",
		StandardUnit: "usd/lb",
		Alternates:   []string{"usd-cents/lb", "usd/kg"},
		Conversions: map[string]float64{
			"usd-cents/lb": 0.01,
			"usd/kg":       0.45359237,
		},
	},
	{
		ID:           "electricity-kwh",
		Name:         "Residential electricity, per kWh",
		StandardUnit: "usd/kwh",
		Alternates:   []string{"usd-cents/kwh"},
		Conversions: map[string]float64{
			"usd-cents/kwh": 0.01,
		},
	},
	{
		ID:           "rent-2br",
		Name:         "Two-bedroom rent, monthly",
		StandardUnit: "usd/month",
	},
}

// ItemCatalog indexes item definitions by id.
type ItemCatalog struct {
	items map[string]*ItemDef
}

// NewItemCatalog builds a catalog from the given definitions. Later
// definitions with a duplicate id override earlier ones.
func NewItemCatalog(defs []ItemDef) *ItemCatalog {
	c := &ItemCatalog{items: make(map[string]*ItemDef, len(defs))}
	for i := range defs {
		d := defs[i]
		c.items[d.ID] = &d
	}
	return c
}

// DefaultItemCatalog returns the built-in item catalog.
func DefaultItemCatalog() *ItemCatalog {
	return NewItemCatalog(defaultItems)
}

// Item returns the definition for an item id.
func (c *ItemCatalog) Item(id string) (*ItemDef, bool) {
	d, ok := c.items[id]
	return d, ok
}

// IDs returns all item ids in the catalog.
func (c *ItemCatalog) IDs() []string {
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	return ids
}
