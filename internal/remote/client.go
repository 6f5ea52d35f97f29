package remote

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"

	"github.com/driftlock/driftsync/internal/version"
)

const (
	dataPathFmt   = "/api/v1/data/%s"
	recordPathFmt = "/api/v1/data/%s/%s"
	healthPath    = "/api/v1/healthz"
)

// Client is the HTTP Adapter implementation against the managed backend.
type Client struct {
	http *req.Client
}

// NewClient builds a Client for the backend at baseURL. An empty token
// disables auth (local dev stacks).
func NewClient(baseURL, token string) *Client {
	httpClient := req.C().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetUserAgent("driftsync/" + version.Version).
		SetCommonRetryCount(2).
		SetCommonRetryBackoffInterval(500*time.Millisecond, 2*time.Second).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal).
		SetCommonErrorResult(&APIError{})

	if token != "" {
		httpClient.SetCommonBearerAuthToken(token)
	}

	return &Client{http: httpClient}
}

func (c *Client) Insert(ctx context.Context, table string, record Record) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(record).
		Post(fmt.Sprintf(dataPathFmt, url.PathEscape(table)))
	return wrapResponse("insert", table, resp, err)
}

func (c *Client) Update(ctx context.Context, table string, record Record) error {
	id, _ := record[IDField].(string)
	if id == "" {
		return &ValidationError{Table: table, Op: "update", Reason: "record has no identifier field"}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(record).
		Patch(fmt.Sprintf(recordPathFmt, url.PathEscape(table), url.PathEscape(id)))
	return wrapResponse("update", table, resp, err)
}

func (c *Client) Delete(ctx context.Context, table string, id string) error {
	if id == "" {
		return &ValidationError{Table: table, Op: "delete", Reason: "missing record id"}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf(recordPathFmt, url.PathEscape(table), url.PathEscape(id)))
	return wrapResponse("delete", table, resp, err)
}

func (c *Client) List(ctx context.Context, table string, owner string, updatedAfter time.Time) ([]Record, error) {
	request := c.http.R().
		SetContext(ctx).
		SetQueryParam("owner", owner)
	if !updatedAfter.IsZero() {
		request.SetQueryParam("updated_after", updatedAfter.UTC().Format(time.RFC3339))
	}

	var records []Record
	resp, err := request.
		SetSuccessResult(&records).
		Get(fmt.Sprintf(dataPathFmt, url.PathEscape(table)))
	if err := wrapResponse("list", table, resp, err); err != nil {
		return nil, err
	}
	return records, nil
}

// Ping probes the backend health endpoint. Used by the network monitor.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(healthPath)
	return wrapResponse("ping", "", resp, err)
}

// wrapResponse folds transport failures and API error envelopes into a
// single TransportError for the retry path.
func wrapResponse(op, table string, resp *req.Response, requestErr error) error {
	if requestErr != nil {
		return &TransportError{Table: table, Op: op, Err: requestErr}
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			return &TransportError{Table: table, Op: op, Err: apiErr}
		}
		return &TransportError{Table: table, Op: op, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	return nil
}

var _ Adapter = (*Client)(nil)
