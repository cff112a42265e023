package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

var ErrNotConfigured = errors.New("google sheet id or service account not configured")

// Scopes needed by the service account that owns the ledger spreadsheet.
var Scopes = []string{
	gsheets.SpreadsheetsScope,
	"https://www.googleapis.com/auth/drive",
}

// Mirror appends rows to worksheets of one spreadsheet, creating missing
// worksheets on first use. Writes are throttled to stay inside the Sheets
// per-user write quota.
type Mirror struct {
	svc           *gsheets.Service
	spreadsheetID string
	limiter       *rate.Limiter

	mu    sync.Mutex
	known map[string]bool
}

func New(ctx context.Context, spreadsheetID string, writesPerMinute int, opts ...option.ClientOption) (*Mirror, error) {
	if spreadsheetID == "" {
		return nil, ErrNotConfigured
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	if writesPerMinute <= 0 {
		writesPerMinute = 60
	}
	return &Mirror{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(writesPerMinute)), 5),
		known:         make(map[string]bool),
	}, nil
}

// FromServiceAccount builds a Mirror authenticated with the JSON key of a
// service account that has edit access to the spreadsheet.
func FromServiceAccount(ctx context.Context, spreadsheetID, credentialsJSON string, writesPerMinute int) (*Mirror, error) {
	if credentialsJSON == "" {
		return nil, ErrNotConfigured
	}
	return New(ctx, spreadsheetID, writesPerMinute,
		option.WithCredentialsJSON([]byte(credentialsJSON)),
		option.WithScopes(Scopes...),
	)
}

// Append writes values as a new row at the end of sheetName.
func (m *Mirror) Append(ctx context.Context, sheetName string, values []interface{}) error {
	if err := m.ensureWorksheet(ctx, sheetName, len(values)); err != nil {
		return err
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	vr := &gsheets.ValueRange{Values: [][]interface{}{values}}
	_, err := m.svc.Spreadsheets.Values.
		Append(m.spreadsheetID, quoteSheet(sheetName)+"!A1", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row to %s: %w", sheetName, err)
	}
	return nil
}

// Worksheets lists the worksheet titles of the spreadsheet.
func (m *Mirror) Worksheets(ctx context.Context) ([]string, error) {
	ss, err := m.svc.Spreadsheets.Get(m.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

func (m *Mirror) ensureWorksheet(ctx context.Context, name string, cols int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.known[name] {
		return nil
	}

	titles, err := m.Worksheets(ctx)
	if err != nil {
		return err
	}
	for _, t := range titles {
		m.known[t] = true
	}
	if m.known[name] {
		return nil
	}

	if cols < 1 {
		cols = 1
	}
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{
					Title: name,
					GridProperties: &gsheets.GridProperties{
						RowCount:    1,
						ColumnCount: int64(cols),
					},
				},
			},
		}},
	}
	if _, err := m.svc.Spreadsheets.BatchUpdate(m.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add worksheet %s: %w", name, err)
	}
	m.known[name] = true
	return nil
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
