package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"

	"github.com/admincore/admincore/internal/models"
)

const noDataLine = "No data available"

// ArtifactName builds the on-disk file name for one execution.
func ArtifactName(tmpl *models.ReportTemplate, at time.Time) string {
	return fmt.Sprintf("%s_%s.%s", tmpl.Name, at.Format("20060102_150405"), tmpl.Format)
}

// WriteArtifact renders the dataset in the template's format under dir and
// returns the file path and size.
func WriteArtifact(dir string, tmpl *models.ReportTemplate, ds *Dataset, at time.Time) (string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create reports dir: %w", err)
	}
	path := filepath.Join(dir, ArtifactName(tmpl, at))

	var err error
	switch tmpl.Format {
	case models.FormatJSON:
		err = writeJSON(path, ds)
	case models.FormatCSV:
		err = writeCSV(path, ds)
	case models.FormatXLSX:
		err = writeXLSX(path, tmpl.Name, ds)
	case models.FormatPDF:
		err = writePDF(path, tmpl.Name, ds)
	case models.FormatHTML:
		err = writeHTML(path, tmpl.Name, ds)
	default:
		err = fmt.Errorf("unknown report format %q", tmpl.Format)
	}
	if err != nil {
		return "", 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}
	return path, info.Size(), nil
}

// writeJSON emits pretty-printed UTF-8 with non-ASCII preserved. A single
// unnamed section renders as a bare array, composite datasets as an object
// keyed by section name.
func writeJSON(path string, ds *Dataset) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	var payload any
	if len(ds.Sections) == 1 && ds.Sections[0].Name == "" {
		payload = recordsOrEmpty(ds.Sections[0].Records)
	} else {
		obj := make(map[string]any, len(ds.Sections))
		for _, s := range ds.Sections {
			obj[s.Name] = recordsOrEmpty(s.Records)
		}
		payload = obj
	}
	if err := enc.Encode(payload); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func recordsOrEmpty(records []*Record) any {
	if records == nil {
		return []*Record{}
	}
	return records
}

// writeCSV emits a header row taken from the first record's keys in insertion
// order. Empty datasets produce a single "No data available" line. Composite
// datasets are written section by section, separated by a blank line.
func writeCSV(path string, ds *Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if ds.Empty() {
		_, err = fmt.Fprintln(f, noDataLine)
		return err
	}

	w := csv.NewWriter(f)
	multi := len(ds.Sections) > 1
	for i, s := range ds.Sections {
		if len(s.Records) == 0 {
			continue
		}
		if multi {
			if i > 0 {
				if err := w.Write([]string{}); err != nil {
					return err
				}
			}
			if err := w.Write([]string{s.Name}); err != nil {
				return err
			}
		}
		header := s.Records[0].Keys()
		if err := w.Write(header); err != nil {
			return err
		}
		for _, r := range s.Records {
			row := make([]string, len(header))
			for j, k := range header {
				row[j] = cellString(r.Get(k))
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// writeXLSX emits one sheet named after the template, header in row 1.
func writeXLSX(path, name string, ds *Dataset) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := name
	if len(sheet) > 31 { // sheet name cap
		sheet = sheet[:31]
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	row := 1
	for _, s := range ds.Sections {
		if len(s.Records) == 0 {
			continue
		}
		if s.Name != "" {
			if err := setRow(f, sheet, row, []string{s.Name}); err != nil {
				return err
			}
			row++
		}
		header := s.Records[0].Keys()
		if err := setRow(f, sheet, row, header); err != nil {
			return err
		}
		row++
		for _, r := range s.Records {
			cells := make([]string, len(header))
			for j, k := range header {
				cells[j] = cellString(r.Get(k))
			}
			if err := setRow(f, sheet, row, cells); err != nil {
				return err
			}
			row++
		}
		row++
	}
	if ds.Empty() {
		if err := setRow(f, sheet, 1, []string{noDataLine}); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func setRow(f *excelize.File, sheet string, row int, cells []string) error {
	for col, v := range cells {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// writePDF renders the same column set as a landscape table.
func writePDF(path, name string, ds *Dataset) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, name, "", 1, "L", false, 0, "")

	if ds.Empty() {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 8, noDataLine, "", 1, "L", false, 0, "")
		return pdf.OutputFileAndClose(path)
	}

	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	usable := pageW - left - right

	for _, s := range ds.Sections {
		if len(s.Records) == 0 {
			continue
		}
		if s.Name != "" {
			pdf.SetFont("Helvetica", "B", 11)
			pdf.CellFormat(0, 8, s.Name, "", 1, "L", false, 0, "")
		}
		header := s.Records[0].Keys()
		colW := usable / float64(len(header))
		pdf.SetFont("Helvetica", "B", 8)
		for _, h := range header {
			pdf.CellFormat(colW, 6, h, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 8)
		for _, r := range s.Records {
			for _, k := range header {
				pdf.CellFormat(colW, 6, cellString(r.Get(k)), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
		pdf.Ln(4)
	}
	return pdf.OutputFileAndClose(path)
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Name}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
th { background: #f0f0f0; }
</style>
</head>
<body>
<h1>{{.Name}}</h1>
{{if .Empty}}<p>No data available</p>{{end}}
{{range .Sections}}
{{if .Name}}<h2>{{.Name}}</h2>{{end}}
{{if .Rows}}
<table>
<tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}
</table>
{{end}}
{{end}}
</body>
</html>
`))

// writeHTML renders the same column set as styled tables.
func writeHTML(path, name string, ds *Dataset) error {
	type section struct {
		Name   string
		Header []string
		Rows   [][]string
	}
	data := struct {
		Name     string
		Empty    bool
		Sections []section
	}{Name: name, Empty: ds.Empty()}

	for _, s := range ds.Sections {
		if len(s.Records) == 0 {
			continue
		}
		sec := section{Name: s.Name, Header: s.Records[0].Keys()}
		for _, r := range s.Records {
			row := make([]string, len(sec.Header))
			for j, k := range sec.Header {
				row[j] = cellString(r.Get(k))
			}
			sec.Rows = append(sec.Rows, row)
		}
		data.Sections = append(data.Sections, sec)
	}

	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, data); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
