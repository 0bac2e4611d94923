package export

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxExt       = ".xlsx"
	columnHeader  = "assistant_response"
	lineHeightPt  = 15.0
	maxRowHeight  = 409.0 // Excel's limit
	defaultSheet  = "Sheet1"
	minColWidth   = 10
	widthPadding  = 2
	maxClaimTries = 10000
)

// Writer writes single-answer spreadsheets without ever overwriting an
// existing file.
type Writer struct {
	Dir         string
	BaseName    string
	Sheet       string
	MaxColWidth int
}

// NextFreePath returns dir/base.ext if unused, otherwise dir/base.N.ext for
// the smallest unused N starting at 1.
func NextFreePath(dir, base, ext string) string {
	for n := 0; ; n++ {
		p := candidate(dir, base, ext, n)
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p
		}
	}
}

func candidate(dir, base, ext string, n int) string {
	if n == 0 {
		return filepath.Join(dir, base+ext)
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%d%s", base, n, ext))
}

// Write stores text in a new spreadsheet and returns its path. The path is
// claimed with O_EXCL so concurrent exports cannot collide.
func (w *Writer) Write(text string) (string, error) {
	f, path, err := w.claim()
	if err != nil {
		return "", err
	}

	if err := w.render(f, text); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (w *Writer) claim() (*os.File, string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, "", err
	}
	for n := 0; n < maxClaimTries; n++ {
		p := candidate(w.Dir, w.BaseName, xlsxExt, n)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, p, nil
	}
	return nil, "", fmt.Errorf("no free export name for %s in %s", w.BaseName, w.Dir)
}

func (w *Writer) render(out *os.File, text string) error {
	xl := excelize.NewFile()
	defer xl.Close()

	sheet := defaultSheet
	if w.Sheet != "" && w.Sheet != defaultSheet {
		if err := xl.SetSheetName(defaultSheet, w.Sheet); err != nil {
			return err
		}
		sheet = w.Sheet
	}

	if err := xl.SetCellValue(sheet, "A1", columnHeader); err != nil {
		return err
	}
	if err := xl.SetCellValue(sheet, "A2", text); err != nil {
		return err
	}

	style, err := xl.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return err
	}
	if err := xl.SetCellStyle(sheet, "A1", "A2", style); err != nil {
		return err
	}

	width := ColumnWidth([]string{columnHeader, text}, w.MaxColWidth)
	if err := xl.SetColWidth(sheet, "A", "A", float64(width)); err != nil {
		return err
	}
	height := math.Min(float64(WrappedLines(text, width))*lineHeightPt, maxRowHeight)
	if err := xl.SetRowHeight(sheet, 2, height); err != nil {
		return err
	}

	return xl.Write(out)
}

// ColumnWidth is the width, in characters, that fits the longest line of
// any value, capped at maxWidth.
func ColumnWidth(values []string, maxWidth int) int {
	longest := 0
	for _, v := range values {
		for _, line := range strings.Split(v, "\n") {
			longest = max(longest, utf8.RuneCountInString(line))
		}
	}
	width := max(longest+widthPadding, minColWidth)
	if maxWidth > 0 {
		width = min(width, maxWidth)
	}
	return width
}

// WrappedLines counts the rendered lines of text in a column of width chars.
func WrappedLines(text string, width int) int {
	if width <= 0 {
		width = 1
	}
	lines := 0
	for _, line := range strings.Split(text, "\n") {
		n := utf8.RuneCountInString(line)
		lines += max(1, (n+width-1)/width)
	}
	return lines
}
