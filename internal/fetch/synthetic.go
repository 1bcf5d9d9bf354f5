package fetch

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/registry"
)

// Synthetic base values per item, in the item's standard unit. Roughly
// plausible US levels so downstream charts degrade gracefully.
var syntheticBase = map[string]float64{
	"gasoline-gallon": 3.40,
	"milk-gallon":     4.10,
	"eggs-dozen":      3.20,
	"bread-loaf":      2.50,
	"electricity-kwh": 0.17,
	"rent-2br":        1850,
}

const syntheticDefaultBase = 10.0

// SyntheticProvider generates plausible placeholder series when every real
// source is unavailable. Deterministic: the same item, region, and month
// always produce the same value, so repeated fallbacks do not jitter.
type SyntheticProvider struct {
	items *registry.ItemCatalog
}

// NewSyntheticProvider creates the generator over the item catalog.
func NewSyntheticProvider(items *registry.ItemCatalog) *SyntheticProvider {
	return &SyntheticProvider{items: items}
}

func (p *SyntheticProvider) Kind() model.ProviderKind { return model.ProviderSynthetic }

func (p *SyntheticProvider) Fetch(_ context.Context, conn *model.Connector, req model.FetchRequest) ([]model.RawPoint, error) {
	item, ok := p.items.Item(req.ItemID)
	if !ok {
		return nil, eris.Errorf("fetch: synthetic generator has no item %s", req.ItemID)
	}

	base := syntheticBase[req.ItemID]
	if base == 0 {
		base = syntheticDefaultBase
	}

	retrievedAt := time.Now().UTC()
	start := time.Date(req.Start.Year(), req.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(req.End.Year(), req.End.Month(), 1, 0, 0, 0, 0, time.UTC)

	var points []model.RawPoint
	for month := start; !month.After(end); month = month.AddDate(0, 1, 0) {
		value := syntheticValue(base, req.ItemID, req.Region, month)
		raw, err := toRawPoint(observation{
			ItemID: req.ItemID,
			Date:   month.Format("2006-01"),
			Region: req.Region,
			Value:  value,
			Unit:   item.StandardUnit,
		}, conn, "", retrievedAt)
		if err != nil {
			return nil, err
		}
		points = append(points, raw)
	}
	return points, nil
}

// syntheticValue draws the month's value from a generator seeded by the
// (item, region, month) triple: a mild seasonal wave plus bounded noise
// around the base level.
func syntheticValue(base float64, itemID, region string, month time.Time) float64 {
	h := fnv.New64a()
	h.Write([]byte(itemID))
	h.Write([]byte{'|'})
	h.Write([]byte(region))
	h.Write([]byte{'|'})
	h.Write([]byte(month.Format("2006-01")))
	seed := h.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed>>1))
	noise := (rng.Float64() - 0.5) * 0.04 // +/- 2%
	seasonal := 0.03 * seasonWave(int(month.Month()))
	return round2(base * (1 + seasonal + noise))
}

// seasonWave approximates an annual cycle peaking mid-year, in [-1, 1].
func seasonWave(month int) float64 {
	// Triangle wave, peak in June.
	if month <= 6 {
		return float64(month-3) / 3
	}
	return float64(9-month) / 3
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
