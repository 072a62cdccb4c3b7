// Package sheets reads the order spreadsheet through the Google Sheets
// values API. It is the only component talking to the sheets quota, so the
// rate limiter lives here rather than in the engine.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orderbot_backend/internal/dispatch"
	"orderbot_backend/internal/resilience"
	"orderbot_backend/platform/config"
	"orderbot_backend/platform/logger"

	"golang.org/x/time/rate"
)

// Column layout of the order sheet. Rows shorter than colStatus+1 are
// skipped as incomplete.
const (
	colOrderID = iota
	colCustomer
	colPhone
	colProduct
	colAmount
	colStatus
)

// Client implements dispatch.Source against the spreadsheet values API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sheetID    string
	readRange  string
	apiKey     string
	limiter    *rate.Limiter
	exec       *resilience.Executor
	log        *logger.Logger
}

// NewClient creates the spreadsheet source.
func NewClient(cfg config.SheetsConfig, rcfg resilience.Config, log *logger.Logger) *Client {
	rps := cfg.GetSheetsRateRPS()
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(cfg.GetSheetsBaseURL(), "/"),
		sheetID:    cfg.GetSheetID(),
		readRange:  cfg.GetSheetRange(),
		apiKey:     cfg.GetSheetsAPIKey(),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		exec:       resilience.NewExecutor("sheets", rcfg, log),
		log:        log.WithComponent("sheets"),
	}
}

type valuesResponse struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

// FetchOrders reads the configured range and maps rows to orders. Header
// and incomplete rows are dropped; a quota or transport failure surfaces
// after the retry budget is spent.
func (c *Client) FetchOrders(ctx context.Context) ([]dispatch.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp valuesResponse
	err := c.exec.Do(ctx, "values.get", func(ctx context.Context) error {
		return c.fetchValues(ctx, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch sheet values: %w", err)
	}

	return c.mapRows(resp.Values), nil
}

func (c *Client) fetchValues(ctx context.Context, out *valuesResponse) error {
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s?key=%s",
		c.baseURL, url.PathEscape(c.sheetID), url.PathEscape(c.readRange), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &resilience.StatusError{StatusCode: res.StatusCode, Body: string(body)}
	}

	return json.NewDecoder(res.Body).Decode(out)
}

func (c *Client) mapRows(rows [][]any) []dispatch.Order {
	orders := make([]dispatch.Order, 0, len(rows))
	for i, row := range rows {
		if len(row) <= colStatus {
			continue
		}
		if i == 0 && isHeader(row) {
			continue
		}

		order := dispatch.Order{
			ID:           cell(row, colOrderID),
			CustomerName: cell(row, colCustomer),
			Phone:        cell(row, colPhone),
			Product:      cell(row, colProduct),
			Amount:       cell(row, colAmount),
			RawStatus:    cell(row, colStatus),
			Row:          i + 1,
		}
		if order.ID == "" || order.Phone == "" {
			c.log.Debug("skipping incomplete row", "row", i+1)
			continue
		}
		orders = append(orders, order)
	}
	return orders
}

func isHeader(row []any) bool {
	first := strings.ToLower(strings.TrimSpace(cell(row, colOrderID)))
	switch first {
	case "order id", "orderid", "order", "id", "#":
		return true
	}
	return false
}

func cell(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	switch v := row[idx].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
