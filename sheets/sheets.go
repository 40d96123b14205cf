// Package sheets wraps the Google Sheets v4 API for reading team data.
package sheets

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// ValuesReader reads cell values from the team spreadsheet.
type ValuesReader interface {
	Values(ctx context.Context, readRange string) ([][]string, error)
}

// Client is a Sheets service bound to one spreadsheet.
type Client struct {
	svc           *sheetsapi.Service
	spreadsheetID string
}

// NewClient builds a Sheets service authorised by ts. Extra options are
// appended after the token source, which lets tests point it elsewhere.
func NewClient(ctx context.Context, ts oauth2.TokenSource, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if ts != nil {
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// SpreadsheetID returns the spreadsheet the client reads from.
func (c *Client) SpreadsheetID() string {
	return c.spreadsheetID
}

// Values returns the formatted cell values of readRange, row by row.
func (c *Client) Values(ctx context.Context, readRange string) ([][]string, error) {
	if c.spreadsheetID == "" {
		return nil, errors.New("google_api.spreadsheet_id is not configured")
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read range %s: %w", readRange, err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, fmt.Sprint(cell))
		}
		rows = append(rows, cells)
	}

	return rows, nil
}
