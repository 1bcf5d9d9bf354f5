package fetch

import (
	"context"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/econfeed/internal/model"
)

// xmlObservation is one <obs> element in an XML provider's response.
// Statistical agencies still publish SDMX-flavored XML, often in legacy
// charsets, hence the charset reader below.
type xmlObservation struct {
	ItemID string `xml:"item,attr"`
	Date   string `xml:"date,attr"`
	Region string `xml:"region,attr"`
	Unit   string `xml:"unit,attr"`
	Value  string `xml:",chardata"`
}

// XMLProvider reads providers that serve observations as XML documents.
type XMLProvider struct {
	client *HTTPClient
}

// NewXMLProvider creates the XML provider over the shared HTTP client.
func NewXMLProvider(client *HTTPClient) *XMLProvider {
	return &XMLProvider{client: client}
}

func (p *XMLProvider) Kind() model.ProviderKind { return model.ProviderXML }

func (p *XMLProvider) Fetch(ctx context.Context, conn *model.Connector, req model.FetchRequest) ([]model.RawPoint, error) {
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
	obsCh, errCh := streamXML[xmlObservation](ctx, body, "obs")
	for obs := range obsCh {
		value, err := parseFloat(strings.TrimSpace(obs.Value))
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: xml parse value %q", obs.Value)
		}
		raw, err := toRawPoint(observation{
			ItemID: obs.ItemID,
			Date:   obs.Date,
			Region: obs.Region,
			Value:  value,
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

// streamXML decodes XML elements matching the given local name and sends
// them to a channel. Both channels are closed when processing completes.
func streamXML[T any](ctx context.Context, r io.Reader, elementName string) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := xml.NewDecoder(r)
		decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := htmlindex.Get(charset)
			if err != nil {
				return nil, eris.Wrapf(err, "fetch: xml unsupported charset %q", charset)
			}
			return enc.NewDecoder().Reader(input), nil
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "fetch: xml context cancelled")
				return
			}

			tok, err := decoder.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "fetch: xml read token")
				return
			}

			se, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}
			if se.Name.Local != elementName {
				continue
			}

			var item T
			if err := decoder.DecodeElement(&item, &se); err != nil {
				errCh <- eris.Wrap(err, "fetch: xml decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "fetch: xml context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}
