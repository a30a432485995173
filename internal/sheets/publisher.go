// Package sheets replaces named ranges of partner dashboard spreadsheets.
package sheets

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// RawInput writes values verbatim; nothing is parsed as a formula or date.
const RawInput = "RAW"

// RangeUpdate overwrites one named range with rows.
type RangeUpdate struct {
	Range string
	Rows  [][]string
}

type Publisher struct {
	svc *gsheets.Service
}

// New builds a publisher authenticated by ts.
func New(ctx context.Context, ts oauth2.TokenSource) (*Publisher, error) {
	return NewWithOptions(ctx, option.WithTokenSource(ts))
}

// NewWithOptions is New for callers that bring their own client options
// (tests point it at a local endpoint).
func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Publisher, error) {
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new service: %w", err)
	}
	return &Publisher{svc: svc}, nil
}

// Publish sends every update in one values.batchUpdate call. An empty update
// list makes no call at all.
func (p *Publisher) Publish(ctx context.Context, spreadsheetID string, updates []RangeUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	req := &gsheets.BatchUpdateValuesRequest{ValueInputOption: RawInput}
	cells := 0
	for _, u := range updates {
		req.Data = append(req.Data, &gsheets.ValueRange{
			Range:  u.Range,
			Values: toValues(u.Rows),
		})
		for _, r := range u.Rows {
			cells += len(r)
		}
	}

	resp, err := p.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: batch update %s: %w", spreadsheetID, err)
	}
	slog.DebugContext(ctx, "sheets updated",
		"spreadsheet", spreadsheetID,
		"ranges", len(updates),
		"cells_sent", cells,
		"cells_updated", resp.TotalUpdatedCells,
	)
	return nil
}

func toValues(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		vals := make([]interface{}, len(r))
		for j, v := range r {
			vals[j] = v
		}
		out[i] = vals
	}
	return out
}
