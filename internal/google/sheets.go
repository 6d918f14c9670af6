// Package google mirrors the ledger tables into a Google spreadsheet so the
// schedule can be browsed where the office already looks for it.
package google

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"meetbook/internal/events"
	"meetbook/internal/ledger"
)

// CredentialsOption reads a service account JSON file.
func CredentialsOption(ctx context.Context, credentialsFile string) (option.ClientOption, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	return option.WithCredentials(creds), nil
}

// SheetsService copies every ledger table to the sheet of the same name.
type SheetsService struct {
	srv           *sheets.Service
	spreadsheetID string
	ledger        *ledger.Ledger
	logger        *zerolog.Logger

	mu    sync.Mutex // one sync at a time
	dirty atomic.Bool
}

func NewSheetsService(ctx context.Context, l *ledger.Ledger, spreadsheetID string, logger *zerolog.Logger, opts ...option.ClientOption) (*SheetsService, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	s := &SheetsService{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		ledger:        l,
		logger:        logger,
	}
	s.dirty.Store(true)
	return s, nil
}

// Subscribe marks the mirror dirty on every ledger event.
func (s *SheetsService) Subscribe(bus *events.EventBus) {
	bus.Subscribe("*", func(events.Event) error {
		s.dirty.Store(true)
		return nil
	})
}

// Dirty reports whether a sync is pending.
func (s *SheetsService) Dirty() bool {
	return s.dirty.Load()
}

// Start syncs on every tick while changes are pending. It blocks until ctx is done.
func (s *SheetsService) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.dirty.Load() {
				continue
			}
			if err := s.SyncAll(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sheets sync failed")
			}
		}
	}
}

// SyncAll rewrites every table in the spreadsheet.
func (s *SheetsService) SyncAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// cleared before reading so changes made during the sync trigger another one
	s.dirty.Store(false)

	if err := s.ensureSheets(ctx); err != nil {
		s.dirty.Store(true)
		return err
	}

	var (
		ranges []string
		data   []*sheets.ValueRange
	)
	for _, t := range ledger.Tables() {
		rows, err := s.ledger.Store().ReadAll(ctx, t)
		if err != nil {
			s.dirty.Store(true)
			return fmt.Errorf("read %s: %w", t, err)
		}
		ranges = append(ranges, string(t))
		data = append(data, &sheets.ValueRange{
			Range:  string(t) + "!A1",
			Values: tableValues(t, rows),
		})
	}

	_, err := s.srv.Spreadsheets.Values.BatchClear(s.spreadsheetID, &sheets.BatchClearValuesRequest{
		Ranges: ranges,
	}).Context(ctx).Do()
	if err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("clear sheets: %w", err)
	}
	_, err = s.srv.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("update sheets: %w", err)
	}

	s.logger.Info().Str("spreadsheet", s.spreadsheetID).Msg("ledger mirrored to google sheets")
	return nil
}

// ensureSheets adds the tabs that do not exist yet.
func (s *SheetsService) ensureSheets(ctx context.Context) error {
	sp, err := s.srv.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	existing := make([]string, 0, len(sp.Sheets))
	for _, sh := range sp.Sheets {
		if sh.Properties != nil {
			existing = append(existing, sh.Properties.Title)
		}
	}

	missing := missingSheets(existing)
	if len(missing) == 0 {
		return nil
	}
	reqs := make([]*sheets.Request, len(missing))
	for i, title := range missing {
		reqs[i] = &sheets.Request{AddSheet: &sheets.AddSheetRequest{
			Properties: &sheets.SheetProperties{Title: title},
		}}
	}
	_, err = s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add sheets: %w", err)
	}
	return nil
}

func missingSheets(existing []string) []string {
	have := make(map[string]bool, len(existing))
	for _, title := range existing {
		have[title] = true
	}
	var missing []string
	for _, t := range ledger.Tables() {
		if !have[string(t)] {
			missing = append(missing, string(t))
		}
	}
	return missing
}

// tableValues renders the header followed by the rows.
func tableValues(t ledger.Table, rows []ledger.Row) [][]interface{} {
	values := make([][]interface{}, 0, len(rows)+1)
	header := t.Header()
	h := make([]interface{}, len(header))
	for i, c := range header {
		h[i] = c
	}
	values = append(values, h)
	for _, r := range rows {
		row := make([]interface{}, len(r))
		for i, c := range r {
			row[i] = c
		}
		values = append(values, row)
	}
	return values
}
