// Package analytics talks to the course analytics API (v0) through the
// tunnel: learner lists and problem response reports, both delivered as CSV.
package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"engagement-sync/internal/domain"
	"engagement-sync/internal/httpx"
)

const acceptCSV = "text/csv"

// Filters narrows a learner list by engagement segment.
type Filters struct {
	Segments       []string
	IgnoreSegments []string
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Retry   httpx.RetryConfig

	// Now stamps each batch when its fetch completes.
	Now func() time.Time
}

func New(baseURL, token string, maxAttempts int) *Client {
	retry := httpx.DefaultRetryConfig()
	if maxAttempts > 0 {
		retry.MaxAttempts = maxAttempts
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		Retry: retry,
		Now:   time.Now,
	}
}

// LearnersURL builds the learner list query for one course.
func (c *Client) LearnersURL(courseID string, fields []string, f Filters) string {
	q := url.Values{}
	q.Set("course_id", courseID)
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	if len(f.Segments) > 0 {
		q.Set("segments", strings.Join(f.Segments, ","))
	}
	if len(f.IgnoreSegments) > 0 {
		q.Set("ignore_segments", strings.Join(f.IgnoreSegments, ","))
	}
	return c.BaseURL + "/api/v0/learners/?" + q.Encode()
}

// ProblemResponseURL is the report endpoint; the course id goes into the path
// unescaped, as the API expects.
func (c *Client) ProblemResponseURL(courseID string) string {
	return c.BaseURL + "/api/v0/courses/" + courseID + "/reports/problem_response"
}

// FetchLearners returns the learners of courseID restricted to fields.
func (c *Client) FetchLearners(ctx context.Context, courseID string, fields []string, f Filters) (domain.Batch, error) {
	return c.fetch(ctx, c.LearnersURL(courseID, fields, f))
}

// FetchProblemResponses resolves the problem response report of courseID and
// downloads the CSV it points at.
func (c *Client) FetchProblemResponses(ctx context.Context, courseID string) (domain.Batch, error) {
	return c.fetch(ctx, c.ProblemResponseURL(courseID))
}

type reportLink struct {
	DownloadURL string `json:"download_url"`
}

func (c *Client) fetch(ctx context.Context, u string) (domain.Batch, error) {
	if c.Token == "" {
		return domain.Batch{}, &domain.ConfigurationError{Key: "ANALYTICS_TOKEN", Reason: "no secret token configured"}
	}

	resp, body, err := c.get(ctx, u, true)
	if err != nil {
		return domain.Batch{}, err
	}

	// Reports answer with a pointer to the real file.
	if isJSON(resp.Header, body) {
		var link reportLink
		if err := json.Unmarshal(body, &link); err != nil {
			return domain.Batch{}, &domain.FetchError{URL: stripQuery(u), Err: fmt.Errorf("decode json: %w", err)}
		}
		if link.DownloadURL == "" {
			return domain.Batch{}, &domain.FetchError{URL: stripQuery(u), Err: errors.New("json response without download_url")}
		}
		// The download URL is pre-signed; our token must not travel with it.
		_, body, err = c.get(ctx, link.DownloadURL, false)
		if err != nil {
			return domain.Batch{}, err
		}
	}

	header, rows, err := parseCSV(body)
	if err != nil {
		return domain.Batch{}, &domain.FetchError{URL: stripQuery(u), Err: err}
	}
	return domain.Batch{
		Header:     header,
		Rows:       rows,
		CapturedAt: c.now().UTC().Truncate(time.Second),
	}, nil
}

func (c *Client) get(ctx context.Context, u string, auth bool) (*http.Response, []byte, error) {
	resp, body, err := httpx.DoWithRetry(
		ctx,
		c.HTTP,
		func(ctx context.Context) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			r.Header.Set("Accept", acceptCSV)
			r.Header.Set("Accept-Encoding", httpx.AcceptEncoding)
			if auth {
				r.Header.Set("Authorization", "Token "+c.Token)
			}
			return r, nil
		},
		c.Retry,
	)
	if err != nil {
		return nil, nil, classify(u, err)
	}
	return resp, body, nil
}

// classify maps httpx failures onto the error taxonomy.
func classify(u string, err error) error {
	var herr *httpx.HTTPError
	if errors.As(err, &herr) {
		return &domain.FetchError{URL: herr.URL, StatusCode: herr.StatusCode, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("analytics: %w", err)
	}
	if httpx.IsTransportErr(err) {
		return &domain.ConnectivityError{Addr: host(u), Err: err}
	}
	return &domain.FetchError{URL: stripQuery(u), Err: err}
}

func (c *Client) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func isJSON(h http.Header, body []byte) bool {
	if strings.Contains(h.Get("Content-Type"), "json") {
		return true
	}
	b := bytes.TrimSpace(body)
	return len(b) > 0 && b[0] == '{'
}

// stripNonASCII drops every byte outside 7-bit ASCII.
func stripNonASCII(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c < 0x80 {
			out = append(out, c)
		}
	}
	return out
}

// parseCSV splits a body into header and rows. Field counts are not checked
// here; the archive writer rejects short rows.
func parseCSV(body []byte) (domain.Header, []domain.Row, error) {
	r := csv.NewReader(bytes.NewReader(stripNonASCII(body)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var header domain.Header
	var rows []domain.Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return header, rows, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parse csv: %w", err)
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
}

func host(u string) string {
	p, err := url.Parse(u)
	if err != nil {
		return u
	}
	return p.Host
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
