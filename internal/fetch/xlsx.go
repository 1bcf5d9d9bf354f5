package fetch

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
)

// XLSXProvider reads providers that publish observations as a spreadsheet.
// The file is downloaded to a temp path because the parser needs random
// access to the zip structure.
type XLSXProvider struct {
	client *HTTPClient
}

// NewXLSXProvider creates the XLSX provider over the shared HTTP client.
func NewXLSXProvider(client *HTTPClient) *XLSXProvider {
	return &XLSXProvider{client: client}
}

func (p *XLSXProvider) Kind() model.ProviderKind { return model.ProviderXLSX }

func (p *XLSXProvider) Fetch(ctx context.Context, conn *model.Connector, req model.FetchRequest) ([]model.RawPoint, error) {
	u, err := requestURL(conn, req)
	if err != nil {
		return nil, err
	}
	path, err := p.client.DownloadToFile(ctx, u, "econfeed-*.xlsx")
	if err != nil {
		return nil, err
	}
	defer os.Remove(path) //nolint:errcheck

	return parseXLSXObservations(ctx, path, conn, u)
}

// parseXLSXObservations reads the first sheet, treating row 0 as the header.
func parseXLSXObservations(ctx context.Context, path string, conn *model.Connector, sourceURL string) ([]model.RawPoint, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: xlsx open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("fetch: xlsx file from %s has no sheets", conn.ID)
	}
	sheet := f.Sheets[0]

	retrievedAt := time.Now().UTC()
	var header []string
	var points []model.RawPoint
	for i, row := range sheet.Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetch: xlsx context cancelled")
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			header = cells
			continue
		}

		obs, err := rowToObservation(header, cells)
		if err != nil {
			zap.L().Warn("fetch: skipping malformed xlsx row",
				zap.String("connector", conn.ID),
				zap.Int("row", i),
				zap.Error(err),
			)
			continue
		}
		raw, err := toRawPoint(obs, conn, sourceURL, retrievedAt)
		if err != nil {
			zap.L().Warn("fetch: skipping xlsx row with bad date",
				zap.String("connector", conn.ID),
				zap.Int("row", i),
				zap.Error(err),
			)
			continue
		}
		points = append(points, raw)
	}
	return points, nil
}
