// Package sync pulls daily market data from a tushare-style HTTP JSON API
// into the local store, incrementally per (table, symbol).
package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oarkflow/errors"
	"github.com/oarkflow/log"
)

const (
	defaultPageLimit = 6000
	defaultMaxRetry  = 3
	retryBackoff     = 2 * time.Second
)

// Client talks to a tushare-style endpoint: one POST per page carrying the
// api name, auth token, query params and a field list, answered with a
// columnar {fields, items} payload.
type Client struct {
	URL       string
	Token     string
	PageLimit int
	MaxRetry  int

	httpClient  *http.Client
	minInterval time.Duration
	lastRequest time.Time
}

// NewClient returns a client throttled to ratePerMin requests per minute.
func NewClient(url, token string, ratePerMin int) *Client {
	c := &Client{
		URL:        url,
		Token:      token,
		PageLimit:  defaultPageLimit,
		MaxRetry:   defaultMaxRetry,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if ratePerMin > 0 {
		c.minInterval = time.Minute / time.Duration(ratePerMin)
	}
	return c
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type apiResponse struct {
	Code int      `json:"code"`
	Msg  string   `json:"msg"`
	Data *apiData `json:"data"`
}

type apiData struct {
	Fields  []string        `json:"fields"`
	Items   [][]interface{} `json:"items"`
	HasMore bool            `json:"has_more"`
}

func (c *Client) throttle() {
	if c.minInterval <= 0 {
		return
	}
	if wait := c.minInterval - time.Since(c.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	c.lastRequest = time.Now()
}

func (c *Client) post(req apiRequest) (*apiData, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewE(err, "encode api request", "")
	}
	c.throttle()
	resp, err := c.httpClient.Post(c.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewE(err, "call "+req.APIName, "")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(fmt.Sprintf("%s: unexpected status %d", req.APIName, resp.StatusCode))
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.NewE(err, "decode "+req.APIName+" response", "")
	}
	if out.Code != 0 {
		return nil, errors.New(fmt.Sprintf("%s: api error %d: %s", req.APIName, out.Code, out.Msg))
	}
	if out.Data == nil {
		return nil, errors.New(req.APIName + ": empty data payload")
	}
	return out.Data, nil
}

func (c *Client) fetchPage(apiName string, params map[string]string, fields []string, offset int) (*apiData, error) {
	pageParams := make(map[string]string, len(params)+2)
	for k, v := range params {
		pageParams[k] = v
	}
	pageParams["offset"] = fmt.Sprintf("%d", offset)
	pageParams["limit"] = fmt.Sprintf("%d", c.PageLimit)

	req := apiRequest{
		APIName: apiName,
		Token:   c.Token,
		Params:  pageParams,
		Fields:  strings.Join(fields, ","),
	}

	var lastErr error
	for attempt := 1; attempt <= c.MaxRetry; attempt++ {
		data, err := c.post(req)
		if err == nil {
			return data, nil
		}
		lastErr = err
		log.Warn().
			Str("api", apiName).
			Int("offset", offset).
			Int("attempt", attempt).
			Err(err).
			Msg("fetch page failed")
		if attempt < c.MaxRetry {
			time.Sleep(retryBackoff)
		}
	}
	return nil, lastErr
}

// Fetch pulls all pages of one api call and returns the rows as maps keyed
// by the response's field names.
func (c *Client) Fetch(apiName string, params map[string]string, fields []string) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	offset := 0
	for {
		data, err := c.fetchPage(apiName, params, fields, offset)
		if err != nil {
			return nil, err
		}
		for _, item := range data.Items {
			row := make(map[string]interface{}, len(data.Fields))
			for i, f := range data.Fields {
				if i < len(item) {
					row[f] = item[i]
				}
			}
			rows = append(rows, row)
		}
		if !data.HasMore || len(data.Items) < c.PageLimit {
			return rows, nil
		}
		offset += len(data.Items)
	}
}
