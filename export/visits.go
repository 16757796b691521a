// Package export renders one day of lab visits as a spreadsheet.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"lab_visit_tracker/models"

	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

const (
	sheetName  = "Visits"
	title      = "LAB VISIT REPORT"
	headerRow  = 4
	noTime     = "-"
	deletedTag = "Deleted item"
)

var Headings = []string{
	"No", "Date", "Time In", "Time Out", "Visitor Name", "NIM", "Purpose", "Borrowing Details", "Status",
}

// VisitReport is the visits of one local day, oldest first, with their
// borrowings and items loaded.
type VisitReport struct {
	Date   time.Time
	Loc    *time.Location
	Visits []models.Visit
}

func (r VisitReport) loc() *time.Location {
	if r.Loc == nil {
		return time.UTC
	}
	return r.Loc
}

func (r VisitReport) FileName(f Format) string {
	return fmt.Sprintf("visits_%s.%s", r.Date.In(r.loc()).Format("2006-01-02"), f)
}

// Rows returns one formatted row per visit in heading order.
func (r VisitReport) Rows() [][]string {
	loc := r.loc()
	rows := make([][]string, 0, len(r.Visits))
	for i := range r.Visits {
		v := &r.Visits[i]
		in := v.CreatedAt.In(loc)
		out := noTime
		if v.TappedOutAt != nil {
			out = v.TappedOutAt.In(loc).Format("15:04")
		}
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			in.Format("02/01/2006"),
			in.Format("15:04"),
			out,
			v.VisitorName,
			v.VisitorID,
			PurposeLabel(v.Purpose),
			BorrowingDetails(v),
			Status(v),
		})
	}
	return rows
}

type Summary struct {
	Total  int
	Study  int
	Borrow int
}

func (r VisitReport) Summary() Summary {
	s := Summary{Total: len(r.Visits)}
	for _, v := range r.Visits {
		switch v.Purpose {
		case models.PurposeStudy:
			s.Study++
		case models.PurposeBorrow:
			s.Borrow++
		}
	}
	return s
}

func PurposeLabel(p models.Purpose) string {
	switch p {
	case models.PurposeStudy:
		return "Study"
	case models.PurposeBorrow:
		return "Borrow"
	}
	return string(p)
}

// BorrowingDetails lists "Name (qty)" per borrowing, "-" when there are none.
func BorrowingDetails(v *models.Visit) string {
	if len(v.Borrowings) == 0 {
		return noTime
	}
	parts := make([]string, 0, len(v.Borrowings))
	for _, b := range v.Borrowings {
		name := deletedTag
		if b.Item != nil && !b.Item.DeletedAt.Valid {
			name = b.Item.Name
		}
		parts = append(parts, fmt.Sprintf("%s (%d)", name, b.Quantity))
	}
	return strings.Join(parts, ", ")
}

// Status is "Borrowing" while any borrowing is open, then "Done" once the
// visitor tapped out, otherwise "In Lab".
func Status(v *models.Visit) string {
	for _, b := range v.Borrowings {
		if b.IsOpen() {
			return "Borrowing"
		}
	}
	if !v.IsOpen() {
		return "Done"
	}
	return "In Lab"
}

func (r VisitReport) Write(w io.Writer, f Format) error {
	if f == FormatCSV {
		return r.WriteCSV(w)
	}
	return r.WriteXLSX(w)
}

func (r VisitReport) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headings); err != nil {
		return err
	}
	if err := cw.WriteAll(r.Rows()); err != nil {
		return err
	}
	return cw.Error()
}

func (r VisitReport) WriteXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(Headings))

	set := func(col, row int, v any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheetName, cell, v)
	}

	if err := set(1, 1, title); err != nil {
		return err
	}
	if err := set(1, 2, "Date: "+r.Date.In(r.loc()).Format("Monday, 2 January 2006")); err != nil {
		return err
	}
	for _, row := range []string{"1", "2"} {
		if err := f.MergeCell(sheetName, "A"+row, lastCol+row); err != nil {
			return err
		}
	}

	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", "A2", titleStyle); err != nil {
		return err
	}

	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	headStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"6366F1"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    border,
	})
	if err != nil {
		return err
	}
	dataStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "center"},
		Border:    border,
	})
	if err != nil {
		return err
	}
	stripeStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Vertical: "center"},
		Border:    border,
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"F3F4F6"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	for i, h := range Headings {
		if err := set(i+1, headerRow, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheetName, fmt.Sprintf("A%d", headerRow), fmt.Sprintf("%s%d", lastCol, headerRow), headStyle); err != nil {
		return err
	}

	row := headerRow + 1
	for _, data := range r.Rows() {
		for i, v := range data {
			if err := set(i+1, row, v); err != nil {
				return err
			}
		}
		style := dataStyle
		if row%2 == 0 {
			style = stripeStyle
		}
		if err := f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", lastCol, row), style); err != nil {
			return err
		}
		row++
	}

	if err := f.SetColWidth(sheetName, "A", "A", 6); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "B", lastCol, 18); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "H", "H", 40); err != nil {
		return err
	}

	sum := r.Summary()
	row++
	for _, line := range []string{
		fmt.Sprintf("Total Visits: %d", sum.Total),
		fmt.Sprintf("Study: %d", sum.Study),
		fmt.Sprintf("Borrow: %d", sum.Borrow),
	} {
		if err := set(1, row, line); err != nil {
			return err
		}
		row++
	}

	_, err = f.WriteTo(w)
	return err
}
