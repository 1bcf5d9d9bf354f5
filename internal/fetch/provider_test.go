package fetch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/econfeed/internal/model"
)

func TestRequestURL(t *testing.T) {
	conn := &model.Connector{ID: "fred", BaseURL: "https://api.example.org/series"}
	req := model.FetchRequest{
		ItemID: "milk-gallon",
		Region: "US",
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	u, err := requestURL(conn, req)
	require.NoError(t, err)
	assert.Contains(t, u, "item=milk-gallon")
	assert.Contains(t, u, "region=US")
	assert.Contains(t, u, "start=2024-01")
	assert.Contains(t, u, "end=2024-06")
}

func TestParseObservationDate(t *testing.T) {
	for _, input := range []string{"2024-03", "2024-03-01", "2024-03-01T00:00:00Z"} {
		got, err := parseObservationDate(input)
		require.NoError(t, err, input)
		assert.Equal(t, 2024, got.Year())
		assert.Equal(t, time.March, got.Month())
	}

	_, err := parseObservationDate("03/2024")
	assert.Error(t, err)
}

func TestCoveragePercent(t *testing.T) {
	req := model.FetchRequest{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	points := []model.RawPoint{
		{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		// Duplicate month counts once.
		{Date: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)},
	}
	assert.InDelta(t, 50.0, coveragePercent(points, req), 0.001)
	assert.Zero(t, coveragePercent(nil, model.FetchRequest{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func TestParseCSVObservations(t *testing.T) {
	body := `item_id,date,region,value,unit
gasoline-gallon,2024-01,US,3.01,usd/gallon
gasoline-gallon,2024-02,US,"3,050.25",usd/gallon
bad-row,not-a-date,US,1.0,usd
gasoline-gallon,2024-03,US,3.12,usd/gallon
`
	conn := &model.Connector{ID: "community-prices", SourceID: "community"}
	points, err := parseCSVObservations(context.Background(), strings.NewReader(body), conn, "https://example.com/data.csv")
	require.NoError(t, err)

	// The malformed row is skipped, not fatal.
	require.Len(t, points, 3)
	assert.InDelta(t, 3050.25, points[1].Value, 0.001)
	assert.Equal(t, "community", points[0].SourceID)
	assert.Equal(t, "https://example.com/data.csv", points[0].SourceURL)
}

func TestParseCSVObservationsEmptyBody(t *testing.T) {
	conn := &model.Connector{ID: "community-prices"}
	points, err := parseCSVObservations(context.Background(), strings.NewReader(""), conn, "")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestStreamXMLObservations(t *testing.T) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<dataset>
  <series>
    <obs item="electricity-kwh" date="2024-01" region="US" unit="usd/kwh">0.168</obs>
    <obs item="electricity-kwh" date="2024-02" region="US" unit="usd/kwh">0.171</obs>
  </series>
</dataset>`

	var got []xmlObservation
	obsCh, errCh := streamXML[xmlObservation](context.Background(), strings.NewReader(body), "obs")
	for obs := range obsCh {
		got = append(got, obs)
	}
	require.NoError(t, <-errCh)

	require.Len(t, got, 2)
	assert.Equal(t, "electricity-kwh", got[0].ItemID)
	assert.Equal(t, "2024-01", got[0].Date)
	assert.Equal(t, "0.168", strings.TrimSpace(got[0].Value))
}

func TestDecodeJSONArrayRejectsObject(t *testing.T) {
	obsCh, errCh := decodeJSONArray[jsonObservation](context.Background(), strings.NewReader(`{"not":"an array"}`))
	for range obsCh {
	}
	assert.Error(t, <-errCh)
}

func TestRowToObservationHeaderAliases(t *testing.T) {
	header := []string{"Item", "Period", "Area", "Price", "Units"}
	row := []string{"eggs-dozen", "2024-05", "midwest", "2.89", "usd/dozen"}

	obs, err := rowToObservation(header, row)
	require.NoError(t, err)
	assert.Equal(t, "eggs-dozen", obs.ItemID)
	assert.Equal(t, "2024-05", obs.Date)
	assert.Equal(t, "midwest", obs.Region)
	assert.InDelta(t, 2.89, obs.Value, 0.001)
	assert.Equal(t, "usd/dozen", obs.Unit)

	_, err = rowToObservation([]string{"value"}, []string{"1.0"})
	assert.Error(t, err)
}

func TestChecksumTracksContent(t *testing.T) {
	base := model.RawPoint{
		ItemID: "milk-gallon", Region: "US", Value: 4.05, Unit: "usd/gallon", SourceID: "bls",
		Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	revised := base
	revised.Value = 4.10

	assert.Equal(t, checksum(base), checksum(base))
	assert.NotEqual(t, checksum(base), checksum(revised))
}
