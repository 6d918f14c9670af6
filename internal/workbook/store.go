// Package workbook stores the ledger in a single .xlsx file, one sheet per
// table with the header in the first row, so the file stays editable by hand.
package workbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"meetbook/internal/ledger"
	"meetbook/internal/model"
)

// ErrWorkbookOpen is returned while a spreadsheet editor holds the file.
var ErrWorkbookOpen = errors.New("workbook is open in another program")

// Store implements ledger.Store on top of an xlsx file. Every write rebuilds
// the workbook in a temp file and renames it over the original.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *zerolog.Logger
}

var _ ledger.Store = (*Store)(nil)

func NewStore(path string, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{path: path, logger: logger}
}

// Path returns the workbook file, used by the backup service.
func (s *Store) Path() string {
	return s.path
}

// lockFile is the owner file office suites create next to an open workbook.
func (s *Store) lockFile() string {
	return filepath.Join(filepath.Dir(s.path), "~$"+filepath.Base(s.path))
}

func (s *Store) checkNotOpen() error {
	if _, err := os.Stat(s.lockFile()); err == nil {
		return ErrWorkbookOpen
	}
	return nil
}

// load reads every known table. A missing file yields empty tables.
func (s *Store) load() (map[ledger.Table][]ledger.Row, error) {
	tables := make(map[ledger.Table][]ledger.Row)
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return tables, nil
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for _, t := range ledger.Tables() {
		if idx, err := f.GetSheetIndex(string(t)); err != nil || idx == -1 {
			continue
		}
		raw, err := f.GetRows(string(t))
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", t, err)
		}
		if len(raw) <= 1 {
			continue
		}
		rows := make([]ledger.Row, 0, len(raw)-1)
		for _, r := range raw[1:] {
			rows = append(rows, ledger.Row(r))
		}
		tables[t] = rows
	}
	return tables, nil
}

// save writes all tables to a temp file in the same directory and renames
// it over the workbook.
func (s *Store) save(tables map[ledger.Table][]ledger.Row) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, t := range ledger.Tables() {
		if err := writeSheet(f, i == 0, string(t), t.Header(), tables[t]); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".meetbook-*.xlsx")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func writeSheet(f *excelize.File, first bool, name string, header []string, rows []ledger.Row) error {
	if first {
		if err := f.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	if err := setRow(f, name, 1, header); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		endCell, _ := excelize.CoordinatesToCellName(len(header), 1)
		_ = f.SetCellStyle(name, "A1", endCell, style)
	}

	for i, r := range rows {
		if err := setRow(f, name, i+2, r); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []string) error {
	if len(cells) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func (s *Store) ReadAll(ctx context.Context, table ledger.Table) ([]ledger.Row, error) {
	if err := ledger.CheckTable(table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, model.Unavailable("read "+string(table), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tables, err := s.load()
	if err != nil {
		return nil, model.Unavailable("read "+string(table), err)
	}
	return tables[table], nil
}

func (s *Store) Append(ctx context.Context, table ledger.Table, rows ...ledger.Row) error {
	return s.write(ctx, "append", table, func(current []ledger.Row) []ledger.Row {
		return append(current, rows...)
	})
}

func (s *Store) ReplaceAll(ctx context.Context, table ledger.Table, rows []ledger.Row) error {
	return s.write(ctx, "replace", table, func([]ledger.Row) []ledger.Row {
		return rows
	})
}

func (s *Store) write(ctx context.Context, op string, table ledger.Table, fn func([]ledger.Row) []ledger.Row) error {
	if err := ledger.CheckTable(table); err != nil {
		return err
	}
	op = op + " " + string(table)
	if err := ctx.Err(); err != nil {
		return model.Unavailable(op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNotOpen(); err != nil {
		return model.Unavailable(op, err)
	}
	tables, err := s.load()
	if err != nil {
		return model.Unavailable(op, err)
	}
	tables[table] = fn(tables[table])
	if err := s.save(tables); err != nil {
		return model.Unavailable(op, err)
	}
	s.logger.Debug().Str("op", op).Int("rows", len(tables[table])).Msg("workbook saved")
	return nil
}

// Probe checks that the workbook is not held open and that its directory
// accepts new files.
func (s *Store) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return model.Unavailable("probe", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkNotOpen(); err != nil {
		return model.Unavailable("probe", err)
	}
	if info, err := os.Stat(s.path); err == nil && info.Mode().Perm()&0o200 == 0 {
		return model.Unavailable("probe", fmt.Errorf("%s is read-only", s.path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".probe-*")
	if err != nil {
		return model.Unavailable("probe", err)
	}
	tmp.Close()
	if err := os.Remove(tmp.Name()); err != nil {
		return model.Unavailable("probe", err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
