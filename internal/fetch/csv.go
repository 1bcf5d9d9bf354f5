package fetch

import (
	"context"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
)

// CSVProvider reads providers that serve observations as CSV with a header
// row over HTTP.
type CSVProvider struct {
	client *HTTPClient
}

// NewCSVProvider creates the CSV provider over the shared HTTP client.
func NewCSVProvider(client *HTTPClient) *CSVProvider {
	return &CSVProvider{client: client}
}

func (p *CSVProvider) Kind() model.ProviderKind { return model.ProviderCSV }

func (p *CSVProvider) Fetch(ctx context.Context, conn *model.Connector, req model.FetchRequest) ([]model.RawPoint, error) {
	u, err := requestURL(conn, req)
	if err != nil {
		return nil, err
	}
	body, err := p.client.Download(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	return parseCSVObservations(ctx, body, conn, u)
}

// parseCSVObservations streams a headered CSV body into raw points. Rows
// that fail to parse are logged and skipped rather than failing the batch;
// the validator accounts for the gap through coverage.
func parseCSVObservations(ctx context.Context, r io.Reader, conn *model.Connector, sourceURL string) ([]model.RawPoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "fetch: csv read header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	retrievedAt := time.Now().UTC()
	var points []model.RawPoint
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetch: csv context cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "fetch: csv read row")
		}

		obs, err := rowToObservation(header, record)
		if err != nil {
			zap.L().Warn("fetch: skipping malformed csv row",
				zap.String("connector", conn.ID),
				zap.Error(err),
			)
			continue
		}
		raw, err := toRawPoint(obs, conn, sourceURL, retrievedAt)
		if err != nil {
			zap.L().Warn("fetch: skipping csv row with bad date",
				zap.String("connector", conn.ID),
				zap.Error(err),
			)
			continue
		}
		points = append(points, raw)
	}
	return points, nil
}
