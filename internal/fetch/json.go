package fetch

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/econfeed/internal/model"
)

// jsonObservation is the wire shape of one element in a JSON provider's
// observation array.
type jsonObservation struct {
	ItemID string  `json:"item_id"`
	Date   string  `json:"date"`
	Region string  `json:"region"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
}

// JSONProvider reads providers that return a JSON array of observations.
type JSONProvider struct {
	client *HTTPClient
}

// NewJSONProvider creates the JSON provider over the shared HTTP client.
func NewJSONProvider(client *HTTPClient) *JSONProvider {
	return &JSONProvider{client: client}
}

func (p *JSONProvider) Kind() model.ProviderKind { return model.ProviderJSON }

func (p *JSONProvider) Fetch(ctx context.Context, conn *model.Connector, req model.FetchRequest) ([]model.RawPoint, error) {
	u, err := requestURL(conn, req)
	if err != nil {
		return nil, err
	}
	body, err := p.client.Download(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	retrievedAt := time.Now().UTC()
	var points []model.RawPoint
	obsCh, errCh := decodeJSONArray[jsonObservation](ctx, body)
	for obs := range obsCh {
		raw, err := toRawPoint(observation{
			ItemID: obs.ItemID,
			Date:   obs.Date,
			Region: obs.Region,
			Value:  obs.Value,
			Unit:   obs.Unit,
		}, conn, u, retrievedAt)
		if err != nil {
			return nil, err
		}
		points = append(points, raw)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return points, nil
}

// decodeJSONArray decodes a JSON array streaming, sending each element to a
// channel. Both channels are closed when processing completes.
func decodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "fetch: json read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("fetch: json expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "fetch: json context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "fetch: json decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "fetch: json context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "fetch: json read closing token")
		}
	}()

	return outCh, errCh
}
