package collab

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
)

// OSHTTP is the default HTTP collaborator, backed by net/http. net/http is
// used directly rather than a third-party HTTP client: none of the
// retrieval pack's example repos pull in a dedicated HTTP client library
// for outbound fetches beyond the stdlib (see DESIGN.md).
type OSHTTP struct {
	Client *http.Client
}

// NewOSHTTP builds the default HTTP collaborator with a bounded timeout.
func NewOSHTTP() *OSHTTP {
	return &OSHTTP{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *OSHTTP) Fetch(ctx context.Context, url string, opts HTTPOptions) (HTTPResponse, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return HTTPResponse{}, mlerr.Wrap(mlerr.HTTPError, err, "building request for %s", url)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return HTTPResponse{}, mlerr.Wrap(mlerr.HTTPError, err, "fetching %s", url).WithContext("url", url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return HTTPResponse{}, mlerr.Wrap(mlerr.HTTPError, err, "reading response body from %s", url)
	}

	return HTTPResponse{Status: resp.StatusCode, Body: string(data), Headers: resp.Header}, nil
}
