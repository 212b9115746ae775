package report

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ohsome-cli/internal/model"
)

// Sheet names in summary.xlsx.
const (
	SheetPersistence = "persistence"
	SheetFits        = "fits"
	SheetSkipped     = "skipped"
)

func addHeader(sheet *xlsx.Sheet, cols ...string) {
	row := sheet.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}

func writeSummaryXLSX(path string, s *model.RunSummary) error {
	f := xlsx.NewFile()

	pers, err := f.AddSheet(SheetPersistence)
	if err != nil {
		return eris.Wrap(err, "report: add persistence sheet")
	}
	addHeader(pers, "cell_id", "ratio", "total_created", "total_removed", "at", "status")
	for _, c := range s.Cells {
		if c.Persistence == nil {
			continue
		}
		p := c.Persistence
		row := pers.AddRow()
		row.AddCell().SetInt64(p.CellID)
		if p.Ratio != nil {
			row.AddCell().SetFloat(*p.Ratio)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetInt64(p.TotalCreated)
		row.AddCell().SetInt64(p.TotalRemoved)
		row.AddCell().SetString(p.At.UTC().Format(time.RFC3339))
		if p.Defined() {
			row.AddCell().SetString("defined")
		} else {
			row.AddCell().SetString("undefined")
		}
	}

	fits, err := f.AddSheet(SheetFits)
	if err != nil {
		return eris.Wrap(err, "report: add fits sheet")
	}
	addHeader(fits, "cell_id", "kind", "status", "capacity", "growth_rate_per_day", "midpoint", "r_squared", "rmse", "points", "reason")
	for _, c := range s.Cells {
		for _, ft := range c.Fits {
			row := fits.AddRow()
			row.AddCell().SetInt64(ft.CellID)
			row.AddCell().SetString(string(ft.Kind))
			row.AddCell().SetString(string(ft.Status))
			if ft.Status == model.FitOK {
				row.AddCell().SetFloat(ft.Capacity)
				row.AddCell().SetFloat(ft.GrowthRate)
				row.AddCell().SetString(ft.Midpoint.UTC().Format(dateFormat))
				row.AddCell().SetFloat(ft.RSquared)
				row.AddCell().SetFloat(ft.RMSE)
			} else {
				for i := 0; i < 5; i++ {
					row.AddCell().SetString("")
				}
			}
			row.AddCell().SetInt(ft.Points)
			row.AddCell().SetString(ft.Reason)
		}
	}

	skipped, err := f.AddSheet(SheetSkipped)
	if err != nil {
		return eris.Wrap(err, "report: add skipped sheet")
	}
	addHeader(skipped, "cell_id", "kind", "stage", "error")
	for _, sk := range s.Skipped {
		row := skipped.AddRow()
		row.AddCell().SetInt64(sk.CellID)
		row.AddCell().SetString(string(sk.Kind))
		row.AddCell().SetString(sk.Stage)
		row.AddCell().SetString(sk.Error)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}
