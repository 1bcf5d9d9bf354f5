// Package fetch turns connector definitions into raw observations. Each
// provider kind speaks one wire format; the Service wraps them with rate
// limiting, circuit breaking, and the fallback chain.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/econfeed/internal/model"
)

// Provider retrieves raw points for one request from one wire format.
type Provider interface {
	Kind() model.ProviderKind
	Fetch(ctx context.Context, conn *model.Connector, req model.FetchRequest) ([]model.RawPoint, error)
}

// observation is the neutral row shape every parser converges on before it
// becomes a RawPoint.
type observation struct {
	ItemID string
	Date   string
	Region string
	Value  float64
	Unit   string
}

// dateFormats accepted on the wire, tried in order.
var dateFormats = []string{"2006-01", "2006-01-02", time.RFC3339}

func parseObservationDate(s string) (time.Time, error) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("fetch: unparseable date %q", s)
}

// toRawPoint freezes an observation into an immutable RawPoint.
func toRawPoint(obs observation, conn *model.Connector, sourceURL string, retrievedAt time.Time) (model.RawPoint, error) {
	date, err := parseObservationDate(obs.Date)
	if err != nil {
		return model.RawPoint{}, err
	}
	p := model.RawPoint{
		ID:          uuid.New().String(),
		ItemID:      obs.ItemID,
		Date:        date,
		Region:      obs.Region,
		Value:       obs.Value,
		Unit:        obs.Unit,
		SourceID:    conn.SourceID,
		RetrievedAt: retrievedAt,
		SourceURL:   sourceURL,
	}
	p.Checksum = checksum(p)
	return p, nil
}

// checksum fingerprints the observation content, not its identity or
// retrieval time, so revised values produce different checksums.
func checksum(p model.RawPoint) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%g|%s|%s", p.ItemID, p.Date.Format("2006-01"), p.Region, p.Value, p.Unit, p.SourceID)
	return hex.EncodeToString(h.Sum(nil))
}

// requestURL builds the provider query URL from the connector base and the
// request parameters.
func requestURL(conn *model.Connector, req model.FetchRequest) (string, error) {
	u, err := url.Parse(conn.BaseURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetch: parse base url for %s", conn.ID)
	}
	q := u.Query()
	q.Set("item", req.ItemID)
	q.Set("region", req.Region)
	q.Set("start", req.Start.Format("2006-01"))
	q.Set("end", req.End.Format("2006-01"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// coveragePercent is the share of expected months actually observed,
// capped at 100.
func coveragePercent(points []model.RawPoint, req model.FetchRequest) float64 {
	expected := req.ExpectedMonths()
	if expected == 0 {
		return 0
	}
	months := make(map[string]struct{})
	for i := range points {
		months[points[i].Date.Format("2006-01")] = struct{}{}
	}
	pct := float64(len(months)) / float64(expected) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// rowToObservation maps a header-indexed CSV or XLSX row.
func rowToObservation(header, row []string) (observation, error) {
	var obs observation
	for i, col := range header {
		if i >= len(row) {
			break
		}
		val := strings.TrimSpace(row[i])
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "item_id", "item":
			obs.ItemID = val
		case "date", "period":
			obs.Date = val
		case "region", "area":
			obs.Region = val
		case "value", "price":
			f, err := parseFloat(val)
			if err != nil {
				return obs, eris.Wrapf(err, "fetch: parse value %q", val)
			}
			obs.Value = f
		case "unit", "units":
			obs.Unit = val
		}
	}
	if obs.ItemID == "" || obs.Date == "" {
		return obs, eris.New("fetch: row missing item or date")
	}
	return obs, nil
}

// parseFloat tolerates thousands separators, which show up in spreadsheet
// exports.
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
