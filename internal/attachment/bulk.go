package attachment

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/requests"
	"github.com/memohai/intake/internal/session"
	"github.com/memohai/intake/internal/submission"
)

const unknownLocation = "unknown"

// ErrUnreadableSpreadsheet reports a spreadsheet without a header row or
// in a format that cannot be parsed.
var ErrUnreadableSpreadsheet = errors.New("unreadable spreadsheet")

var spreadsheetMimes = map[string]bool{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-excel":                       true,
	"application/vnd.ms-excel.sheet.macroenabled.12": true,
	"text/csv":        true,
	"application/csv": true,
}

// IsSpreadsheet reports whether an attachment should take the bulk upload path.
func IsSpreadsheet(mime, name string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if spreadsheetMimes[mime] {
		return true
	}
	switch strings.ToLower(path.Ext(strings.TrimSpace(name))) {
	case ".xlsx", ".xlsm", ".xls", ".csv":
		return true
	}
	return false
}

// BulkResult describes a processed bulk upload.
type BulkResult struct {
	RequestID string
	Records   int
}

// IngestBulk stores a spreadsheet, parses its rows and submits them as a
// bulk_customers request. It ignores the session step; region and store fall
// back to "unknown" when not yet selected.
func (i *Ingestor) IngestBulk(ctx context.Context, att channel.Attachment, sess session.Session) (BulkResult, string, error) {
	data, mime, name, err := i.fetch(ctx, att)
	if err != nil {
		return BulkResult{}, fetchFailed, err
	}
	asset, err := i.store(ctx, sess.UserID, data, mime, name)
	if err != nil {
		return BulkResult{}, storeFailed, err
	}
	headers, rows, err := parseSpreadsheet(data, mime, name)
	if err != nil {
		i.logger.Warn("parse spreadsheet failed", slog.String("user", sess.UserID), slog.Any("error", err))
		return BulkResult{}, bulkFailed, err
	}
	if i.submitter == nil {
		return BulkResult{}, bulkRejected, fmt.Errorf("no submitter configured")
	}
	id, err := i.submitter.Submit(ctx, submission.Input{
		UserID: sess.UserID,
		Region: orUnknown(sess.SelectedRegion),
		Store:  orUnknown(sess.SelectedStore),
		Type:   requests.TypeBulkCustomers,
		Payload: map[string]any{
			"totalRecords": len(rows),
			"headers":      headers,
			"rows":         rows,
		},
		AttachmentRef: asset.URL,
	})
	if err != nil {
		i.logger.Error("submit bulk upload failed", slog.String("user", sess.UserID), slog.Any("error", err))
		return BulkResult{}, bulkRejected, err
	}
	ack := fmt.Sprintf("✅ Bulk upload received! %d customer records submitted.\n\nYour Query ID: #%s", len(rows), id)
	return BulkResult{RequestID: id, Records: len(rows)}, ack, nil
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return unknownLocation
	}
	return v
}

// parseSpreadsheet picks the reader from the sniffed content rather than the
// declared type, which platforms often get wrong (CSV sent as ms-excel).
// Legacy BIFF workbooks are refused; excelize only reads OOXML.
func parseSpreadsheet(data []byte, mime, name string) ([]string, []map[string]string, error) {
	var (
		table [][]string
		err   error
	)
	detected := mimetype.Detect(data)
	switch {
	case descendsFrom(detected, "application/zip"):
		table, err = readWorkbook(data)
	case descendsFrom(detected, "application/x-ole-storage"):
		err = errors.New("legacy .xls workbooks are not supported")
	case descendsFrom(detected, "text/plain") && !declaresWorkbook(mime, name):
		table, err = readCSV(data)
	default:
		err = fmt.Errorf("unsupported content type %s", detected.String())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnreadableSpreadsheet, err)
	}
	return tabulate(table)
}

func descendsFrom(m *mimetype.MIME, ancestor string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(ancestor) {
			return true
		}
	}
	return false
}

// declaresWorkbook reports an explicit OOXML declaration, so plain text sent
// as .xlsx is refused instead of read as CSV.
func declaresWorkbook(mime, name string) bool {
	mime = strings.ToLower(mime)
	if strings.Contains(mime, "spreadsheetml") || strings.Contains(mime, "macroenabled") {
		return true
	}
	switch strings.ToLower(path.Ext(strings.TrimSpace(name))) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var out [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
}

// readWorkbook returns the rows of the first sheet.
func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

var headerSpace = regexp.MustCompile(`\s+`)

// tabulate turns the first row into snake_cased headers and the remaining
// non-blank rows into header-keyed maps.
func tabulate(table [][]string) ([]string, []map[string]string, error) {
	if len(table) == 0 {
		return nil, nil, fmt.Errorf("%w: no header row", ErrUnreadableSpreadsheet)
	}
	headers := make([]string, len(table[0]))
	named := 0
	for idx, h := range table[0] {
		headers[idx] = headerSpace.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), "_")
		if headers[idx] != "" {
			named++
		}
	}
	if named == 0 {
		return nil, nil, fmt.Errorf("%w: empty header row", ErrUnreadableSpreadsheet)
	}
	rows := make([]map[string]string, 0, len(table)-1)
	for _, record := range table[1:] {
		if isBlankRow(record) {
			continue
		}
		row := make(map[string]string, named)
		for idx, key := range headers {
			if key == "" {
				continue
			}
			value := ""
			if idx < len(record) {
				value = strings.TrimSpace(record[idx])
			}
			row[key] = value
		}
		rows = append(rows, row)
	}
	kept := make([]string, 0, named)
	for _, h := range headers {
		if h != "" {
			kept = append(kept, h)
		}
	}
	return kept, rows, nil
}

func isBlankRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
