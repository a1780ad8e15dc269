package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/rescale/runwatch/internal/models"
	"github.com/rescale/runwatch/internal/scanner"
)

const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
	formatWire  = "wire"
)

func validFormat(f string) bool {
	switch f {
	case formatJSON, formatYAML, formatTable, formatWire:
		return true
	}
	return false
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170")).Padding(0, 1)
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
	borderStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true).Padding(0, 1)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Padding(0, 1)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Padding(0, 1)
	unknownStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
)

// styleForState returns the table style for a state cell.
func styleForState(s models.RunState) lipgloss.Style {
	switch s {
	case models.StateRunning:
		return runningStyle
	case models.StateCompleted:
		return completedStyle
	case models.StateFailed:
		return failedStyle
	default:
		return unknownStyle
	}
}

// renderReport writes report to w in format.
func renderReport(w io.Writer, report *scanner.Report, format string) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()

	case formatTable:
		_, err := fmt.Fprintln(w, reportTable(report))
		return err

	case formatWire:
		data, err := report.Wire()
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		_, err = w.Write(data)
		return err

	default:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
}

// reportTable renders one row per run, grouped by state.
func reportTable(report *scanner.Report) string {
	type row struct {
		state models.RunState
		cells []string
	}
	var rows []row
	for _, st := range models.States() {
		for _, doc := range report.Runs(st) {
			cycles := ""
			if doc.HasNumCycles() {
				cycles = strconv.Itoa(doc.Cycles())
			}
			completed := ""
			if doc.HasCompletionDate() {
				completed = doc.CompletionDate
			}
			rows = append(rows, row{state: st, cells: []string{
				st.String(), doc.RunName, cycles, doc.StartDate, completed, doc.FullPath,
			}})
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("STATE", "RUN", "CYCLES", "STARTED", "COMPLETED", "PATH").
		StyleFunc(func(r, c int) lipgloss.Style {
			if r == table.HeaderRow {
				return headerStyle
			}
			if c == 0 && r >= 0 && r < len(rows) {
				return styleForState(rows[r].state)
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(r.cells...)
	}

	summary := fmt.Sprintf("%d runs", len(rows))
	if n := len(report.Skipped); n > 0 {
		summary += fmt.Sprintf(", %d skipped", n)
	}
	if report.CacheHits > 0 {
		summary += fmt.Sprintf(", %d from cache", report.CacheHits)
	}
	return t.Render() + "\n" + summary
}

// renderInterOp writes the InterOp records as an indented JSON array.
func renderInterOp(w io.Writer, records []scanner.InterOpRecord) error {
	if records == nil {
		records = []scanner.InterOpRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
