// Package tui renders conversion summaries, file info and progress on the
// terminal. Simple, streaming output; no full-screen interface.
package tui

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/schollz/progressbar/v3"

	"github.com/ismailhammounou/db2ixf/pkg/convert"
	"github.com/ismailhammounou/db2ixf/pkg/ixf"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warning).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(white).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

func line(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(label), titleStyle.Render(value))
}

// PrintInfo prints the header, table and column descriptors of an opened
// parser.
func PrintInfo(w io.Writer, path string, p *ixf.Parser) {
	h, t := p.Header(), p.Table()

	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ "+filepath.Base(path)))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	line(w, "Product:", h.Product)
	line(w, "Created:", h.Date+" "+h.Time)
	line(w, "Code pages:", fmt.Sprintf("single-byte %d, double-byte %d", h.SBCP, h.DBCP))
	name := t.Name
	if t.Qualifier != "" {
		name = t.Qualifier + "." + t.Name
	}
	line(w, "Table:", name)
	line(w, "Columns:", strconv.Itoa(t.ColumnCount))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintln(w, ColumnsTable(p.Columns(), p.Schema()))
}

// ColumnsTable renders one row per column with its IXF and Arrow types.
func ColumnsTable(cols []ixf.Column, schema *ixf.Schema) string {
	arrowSchema := schema.Arrow()
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("#", "NAME", "TYPE", "LENGTH", "NULL", "CODE PAGE", "ARROW").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for i, c := range cols {
		null := "no"
		if c.Nullable {
			null = "yes"
		}
		cp := "-"
		if c.HasCodePage() {
			page, _ := c.CodePage()
			cp = strconv.Itoa(page)
		}
		tbl.Row(
			strconv.Itoa(i+1),
			c.Name,
			c.Type.String(),
			c.Length,
			null,
			cp,
			arrowSchema.Field(i).Type.String(),
		)
	}
	return tbl.Render()
}

// PrintSummary prints the outcome of one conversion.
func PrintSummary(w io.Writer, sum *convert.Summary) {
	fmt.Fprintln(w)
	if sum.Stats.Corrupted > 0 {
		fmt.Fprintln(w, warningStyle.Render("  ✓ CONVERTED WITH DROPPED ROWS"))
	} else {
		fmt.Fprintln(w, successStyle.Render("  ✓ CONVERSION COMPLETE"))
	}
	fmt.Fprintln(w)
	line(w, "Table:", sum.Table)
	line(w, "Output:", sum.Output)
	line(w, "Rows:", fmt.Sprintf("%s healthy, %s corrupted, %s total",
		formatNumber(sum.Stats.Healthy), formatNumber(sum.Stats.Corrupted), formatNumber(sum.Stats.Total())))
	line(w, "Corruption:", fmt.Sprintf("%.2f%%", sum.Stats.Rate()))
	if sum.BytesWritten > 0 {
		line(w, "Size:", formatBytes(sum.Stats.BytesRead)+" → "+formatBytes(sum.BytesWritten))
	}
	if sum.Duration > 0 {
		rps := float64(sum.Stats.Total()) / sum.Duration.Seconds()
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(sum.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s rows/sec, %d batches)", formatNumber(int64(rps)), sum.Batches)))
	}
	fmt.Fprintln(w)
}

// BatchResult is the outcome of one input of a batch run.
type BatchResult struct {
	Input   string
	Summary *convert.Summary
	Skipped bool
	// Reason says why an input was skipped.
	Reason string
	Err    error
}

// PrintBatch prints one line per input and the totals.
func PrintBatch(w io.Writer, results []BatchResult) {
	var ok, skipped, failed int
	var rows int64
	fmt.Fprintln(w)
	for _, r := range results {
		name := filepath.Base(r.Input)
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(w, "  %s %s %s\n", accentStyle.Render("✗"), name, mutedStyle.Render(r.Err.Error()))
		case r.Skipped:
			skipped++
			reason := r.Reason
			if reason == "" {
				reason = "already converted"
			}
			fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("-"), name, mutedStyle.Render(reason))
		default:
			ok++
			rows += r.Summary.Stats.Healthy
			fmt.Fprintf(w, "  %s %s %s\n", successStyle.Render("✓"), name,
				mutedStyle.Render(fmt.Sprintf("%s rows → %s", formatNumber(r.Summary.Stats.Healthy), r.Summary.Output)))
		}
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintf(w, "  %s converted, %s skipped, %s failed, %s rows\n",
		titleStyle.Render(strconv.Itoa(ok)),
		titleStyle.Render(strconv.Itoa(skipped)),
		titleStyle.Render(strconv.Itoa(failed)),
		titleStyle.Render(formatNumber(rows)))
	fmt.Fprintln(w)
}

// ShowProgress creates a byte progress bar for reading an input of size
// bytes.
func ShowProgress(w io.Writer, size int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// ProgressFunc adapts a bar to convert.Options.OnBatch.
func ProgressFunc(bar *progressbar.ProgressBar) func(convert.Progress) {
	return func(p convert.Progress) {
		bar.Set64(p.BytesRead)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
