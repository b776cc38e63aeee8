// Package report writes evaluations out as Excel workbooks.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"procura.dev/bid-workbench/internal/core"
)

// maxSheetName is Excel's limit on sheet names.
const maxSheetName = 31

// Build lays an evaluation out as a workbook: one sheet per criterion and
// partner, one combined sheet per criterion, and a bookmarks sheet.
func Build(exp *core.Export) (*xlsx.File, error) {
	f := xlsx.NewFile()

	for _, t := range exp.Partners {
		sheet, err := f.AddSheet(sheetName(t.CriterionID, t.Partner.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "add sheet for %s", t.Partner)
		}
		addRow(sheet, t.Title+" - "+t.Partner.Name())
		addRow(sheet, "Year", "Value", "Page", "Modified by", "Modified at", "Approved")
		for _, r := range t.Rows {
			addRow(sheet, r.Year, r.Value, pageText(r.PageNumber), string(r.ModifiedBy), timeText(r.ModifiedAt), yesNo(r.Approved))
		}
	}

	for _, t := range exp.Combined {
		sheet, err := f.AddSheet(sheetName(t.CriterionID, core.CombinedLabel))
		if err != nil {
			return nil, eris.Wrapf(err, "add combined sheet for criterion %s", t.CriterionID)
		}
		addRow(sheet, exp.Titles[t.CriterionID]+" - Joint Venture")
		header := []string{"Year"}
		header = append(header, t.Partners...)
		header = append(header, "Total", "Multiplier", "Page", "Weighted")
		addRow(sheet, header...)
		for _, r := range t.Rows {
			cols := []string{r.Year}
			for _, p := range t.Partners {
				cols = append(cols, r.Display(p))
			}
			cols = append(cols, r.Aggregate, r.Multiplier, pageText(r.MultiplierPage), r.DerivedValue)
			addRow(sheet, cols...)
		}
	}

	sheet, err := f.AddSheet("Bookmarks")
	if err != nil {
		return nil, eris.Wrap(err, "add bookmarks sheet")
	}
	addRow(sheet, "Criterion", "Partner", "Page", "Added at")
	for _, b := range exp.Bookmarks {
		addRow(sheet, b.CriterionID, b.Partner.Name(), strconv.Itoa(b.PageNumber), timeText(b.CreatedAt))
	}
	return f, nil
}

// WriteWorkbook builds the workbook and writes it to w.
func WriteWorkbook(w io.Writer, exp *core.Export) error {
	f, err := Build(exp)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "write workbook")
	}
	return nil
}

// SaveWorkbook builds the workbook and saves it at path.
func SaveWorkbook(path string, exp *core.Export) error {
	f, err := Build(exp)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "save workbook %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func sheetName(criterionID, partner string) string {
	name := fmt.Sprintf("C%s %s", criterionID, partner)
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

func pageText(p int) string {
	if p < 1 {
		return ""
	}
	return strconv.Itoa(p)
}

func timeText(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
