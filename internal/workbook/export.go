package workbook

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"meetbook/internal/ledger"
	"meetbook/internal/model"
)

// Report columns.
var (
	bookingColumns   = []string{"ID", "Date", "Weekday", "Slots", "Room", "Requester", "Purpose", "Status"}
	recurringColumns = []string{"ID", "Weekday", "Slot", "Room", "Requester", "Purpose", "Status"}
)

func status(canceled bool) string {
	if canceled {
		return "canceled"
	}
	return "active"
}

// ExportReport writes a human-readable workbook with the bookings dated on or
// after from and every recurring rule. Slot ids are rendered with their labels.
func ExportReport(ctx context.Context, l *ledger.Ledger, from model.Date, w io.Writer) error {
	slots, err := l.Slots(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	labels := make(map[int]string, len(slots))
	for _, s := range slots {
		labels[s.ID] = s.Label
	}
	label := func(id int) string {
		if name, ok := labels[id]; ok {
			return name
		}
		return fmt.Sprintf("slot %d", id)
	}

	bookings, err := l.Bookings(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	recurring, err := l.RecurringBookings(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	var bookingRows [][]string
	for _, b := range bookings {
		if b.Date.Before(from) {
			continue
		}
		names := make([]string, len(b.SlotIDs))
		for i, id := range b.SlotIDs {
			names[i] = label(id)
		}
		bookingRows = append(bookingRows, []string{
			fmt.Sprint(b.ID), b.Date.String(), b.Date.Weekday().Label(), strings.Join(names, ", "),
			b.RoomID, b.RequesterID, b.Purpose, status(b.Canceled),
		})
	}
	if err := writeReportSheet(f, true, "Bookings", bookingColumns, bookingRows); err != nil {
		return err
	}

	var recurringRows [][]string
	for _, r := range recurring {
		recurringRows = append(recurringRows, []string{
			fmt.Sprint(r.ID), r.Weekday.Label(), label(r.SlotID),
			r.RoomID, r.RequesterID, r.Purpose, status(r.Canceled),
		})
	}
	if err := writeReportSheet(f, false, "Recurring", recurringColumns, recurringRows); err != nil {
		return err
	}

	return f.Write(w)
}

func writeReportSheet(f *excelize.File, first bool, name string, header []string, rows [][]string) error {
	table := make([]ledger.Row, len(rows))
	for i, r := range rows {
		table[i] = r
	}
	if err := writeSheet(f, first, name, header, table); err != nil {
		return err
	}
	return f.SetColWidth(name, "A", "H", 16)
}
