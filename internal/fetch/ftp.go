package fetch

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/resilience"
)

// FTPCSVProvider reads providers that drop CSV files on an FTP server. The
// request range maps to a single file path under the connector's base URL.
type FTPCSVProvider struct {
	timeout time.Duration
}

// NewFTPCSVProvider creates the FTP provider with the given dial timeout.
func NewFTPCSVProvider(timeout time.Duration) *FTPCSVProvider {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &FTPCSVProvider{timeout: timeout}
}

func (p *FTPCSVProvider) Kind() model.ProviderKind { return model.ProviderFTPCSV }

func (p *FTPCSVProvider) Fetch(ctx context.Context, conn *model.Connector, req model.FetchRequest) ([]model.RawPoint, error) {
	fileURL := ftpFileURL(conn, req)
	body, err := p.download(ctx, fileURL)
	if err != nil {
		return nil, resilience.NewTransportError(err, 0)
	}
	defer body.Close() //nolint:errcheck

	return parseCSVObservations(ctx, body, conn, fileURL)
}

// ftpFileURL maps a request onto the provider's drop-file naming scheme:
// <base>/<item>-<region>-<start>-<end>.csv
func ftpFileURL(conn *model.Connector, req model.FetchRequest) string {
	return conn.BaseURL + "/" + req.ItemID + "-" + req.Region + "-" +
		req.Start.Format("2006-01") + "-" + req.End.Format("2006-01") + ".csv"
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetch: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetch: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("fetch: empty path in ftp url")
	}

	return host, path, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the
// reader also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetch: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetch: quit ftp connection")
	}
	return nil
}

// download connects, retrieves the file, and returns a reader. The caller
// must close the returned ReadCloser to release the FTP connection.
func (p *FTPCSVProvider) download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetch: ftp connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(p.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: ftp dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "fetch: ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "fetch: ftp retrieve")
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}
