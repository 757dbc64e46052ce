// Package export writes triage items and queue entries as spreadsheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pipeline-intel/internal/model"
)

// Table is a header plus typed rows. Cells are string, int, float64 or
// time.Time.
type Table struct {
	Sheet  string
	Header []string
	Rows   [][]any
}

// QueueTable lays out active queue entries.
func QueueTable(entries []model.ActionQueueEntry) Table {
	t := Table{
		Sheet: "queue",
		Header: []string{
			"id", "owner_id", "entity_id", "action_type", "priority", "expected_gain",
			"reason", "artifact_kind", "artifact_subject", "artifact_body", "created_at", "expires_at",
		},
	}
	for _, e := range entries {
		t.Rows = append(t.Rows, []any{
			e.ID, e.OwnerID, e.EntityID, string(e.ActionType), e.Priority, e.ExpectedGain,
			e.Reason, e.Artifact.Kind, e.Artifact.Subject, e.Artifact.Body, e.CreatedAt, e.ExpiresAt,
		})
	}
	return t
}

// TriageTable lays out a ranked triage run.
func TriageTable(items []model.TriageItem) Table {
	t := Table{
		Sheet: "triage",
		Header: []string{
			"rank", "entity_id", "entity_name", "stage", "action_type", "priority", "probability",
			"expected_gain", "urgency", "reason", "blockers", "artifact_kind", "artifact_subject", "artifact_body",
		},
	}
	for i, it := range items {
		t.Rows = append(t.Rows, []any{
			i + 1, it.EntityID, it.EntityName, string(it.Stage), string(it.ActionType), it.Priority, it.Probability,
			it.ExpectedGain, it.Urgency, it.Reason, len(it.Blockers), it.Artifact.Kind, it.Artifact.Subject, it.Artifact.Body,
		})
	}
	return t
}

// WriteXLSX writes t as a single-sheet workbook.
func WriteXLSX(w io.Writer, t Table) error {
	f := xlsx.NewFile()
	name := t.Sheet
	if name == "" {
		name = "Sheet1"
	}
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", name)
	}

	header := sheet.AddRow()
	for _, h := range t.Header {
		header.AddCell().SetString(h)
	}
	for _, r := range t.Rows {
		row := sheet.AddRow()
		for _, v := range r {
			cell := row.AddCell()
			switch v := v.(type) {
			case float64:
				cell.SetFloat(v)
			case int:
				cell.SetInt(v)
			case time.Time:
				cell.SetString(v.UTC().Format(time.RFC3339))
			default:
				cell.SetString(fmt.Sprint(v))
			}
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

// WriteCSV writes t as CSV with a header row.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	record := make([]string, len(t.Header))
	for _, r := range t.Rows {
		for i, v := range r {
			record[i] = formatCell(v)
		}
		if err := cw.Write(record[:len(r)]); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func formatCell(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', 4, 64)
	case int:
		return strconv.Itoa(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
