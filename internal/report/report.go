package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/maltedev/material-scraper/internal/models"
)

var header = []string{"Supplier", "Category", "Records", "Skipped", "Price unparsed", "Error"}

// WriteSummary renders one markdown table row per (supplier, category) pair.
// Columns are padded by display width so accented names stay aligned.
func WriteSummary(w io.Writer, summaries []models.Summary) error {
	rows := make([][]string, 0, len(summaries)+1)
	rows = append(rows, header)
	for _, s := range summaries {
		errorKind := "-"
		if s.ErrorKind != nil {
			errorKind = *s.ErrorKind
		}
		rows = append(rows, []string{
			s.Supplier,
			string(s.Category),
			strconv.Itoa(s.SuccessCount),
			strconv.Itoa(s.SkippedCount),
			strconv.Itoa(s.PriceUnparsedCount),
			errorKind,
		})
	}

	widths := make([]int, len(header))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell), 3)
		}
	}

	for i, row := range rows {
		if _, err := io.WriteString(w, formatRow(row, widths)); err != nil {
			return err
		}
		if i == 0 {
			sep := make([]string, len(widths))
			for j, width := range widths {
				sep[j] = strings.Repeat("-", width)
			}
			if _, err := io.WriteString(w, formatRow(sep, widths)); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w, "\n%d pairs\n", len(summaries))
	return err
}

func formatRow(cells []string, widths []int) string {
	var sb strings.Builder
	sb.WriteString("|")
	for i, cell := range cells {
		sb.WriteString(" ")
		sb.WriteString(runewidth.FillRight(cell, widths[i]))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
	return sb.String()
}
