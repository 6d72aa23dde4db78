package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	kghttp "kgraphsvc.evalgo.org/http"
)

// HTTPProvider fetches documents from two HTTP endpoints: fullURL returns the
// complete document set for a full build as a JSON array of strings, and
// incrementalURL returns the document set observed since a given version, also as
// a JSON array of strings, via a "since_version" query parameter. It reuses the
// teacher's retry-capable request runner (kgraphsvc.evalgo.org/http) the way a
// generic webhook fetcher would.
type HTTPProvider struct {
	fullURL        string
	incrementalURL string
	retryCount     int
}

// NewHTTPProvider builds an HTTPProvider pointed at the two configured endpoints.
func NewHTTPProvider(fullURL, incrementalURL string, retryCount int) *HTTPProvider {
	return &HTTPProvider{fullURL: fullURL, incrementalURL: incrementalURL, retryCount: retryCount}
}

// FetchFull issues a GET to fullURL and decodes the response as a JSON array of
// strings.
func (p *HTTPProvider) FetchFull(ctx context.Context) ([]string, error) {
	req := kghttp.NewRequest("GET", p.fullURL)
	req.RetryCount = p.retryCount
	resp, err := kghttp.Execute(req)
	if err != nil {
		return nil, fmt.Errorf("fetch full documents: %w", err)
	}
	return decodeDocuments(resp.Body)
}

// FetchIncremental issues a GET to incrementalURL with since_version set, and
// decodes the response as a JSON array of strings.
func (p *HTTPProvider) FetchIncremental(ctx context.Context, sinceVersion string) ([]string, error) {
	u, err := url.Parse(p.incrementalURL)
	if err != nil {
		return nil, fmt.Errorf("parse incremental hook url: %w", err)
	}
	q := u.Query()
	q.Set("since_version", sinceVersion)
	u.RawQuery = q.Encode()

	req := kghttp.NewRequest("GET", u.String())
	req.RetryCount = p.retryCount
	resp, err := kghttp.Execute(req)
	if err != nil {
		return nil, fmt.Errorf("fetch incremental documents: %w", err)
	}
	return decodeDocuments(resp.Body)
}

func decodeDocuments(body []byte) ([]string, error) {
	var docs []string
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}
