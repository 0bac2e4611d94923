package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"

	"docchat/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"golang.org/x/sync/errgroup"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

const pageSeparator = "\n"

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxText         = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	docxTag          = regexp.MustCompile(`<[^>]+>`)
)

// Load parses one file into a Document based on its extension.
func Load(filePath string) (models.Document, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		pages []string
		err   error
	)
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".txt", ".md":
		pages, err = parseText(filePath)
	default:
		return models.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("parse %s: %w", filepath.Base(filePath), err)
	}
	return newDocument(filePath, pages), nil
}

// LoadAll parses every file concurrently. Documents come back in the order
// of paths; the first failure cancels the batch.
func LoadAll(ctx context.Context, paths []string) ([]models.Document, error) {
	docs := make([]models.Document, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := Load(p)
			if err != nil {
				return err
			}
			log.Debug().Str("file", p).Int("pages", len(doc.PageStarts)).Msg("Parsed document")
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func newDocument(filePath string, pages []string) models.Document {
	var content strings.Builder
	starts := make([]int, 0, len(pages))
	offset := 0
	for i, page := range pages {
		if i > 0 {
			content.WriteString(pageSeparator)
			offset += utf8.RuneCountInString(pageSeparator)
		}
		starts = append(starts, offset)
		content.WriteString(page)
		offset += utf8.RuneCountInString(page)
	}
	return models.Document{
		Source:     filepath.Base(filePath),
		Content:    content.String(),
		PageStarts: starts,
		Metadata: map[string]string{
			"source": filePath,
			"pages":  strconv.Itoa(len(pages)),
		},
	}
}

func parsePDF(filePath string) (pages []string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		pages = append(pages, pageText)
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return []string{extractDocxText(r.Editable().GetContent())}, nil
}

// extractDocxText turns WordprocessingML into plain text, one line per paragraph.
func extractDocxText(xmlContent string) string {
	var text strings.Builder
	for _, para := range docxParagraphEnd.Split(xmlContent, -1) {
		var line strings.Builder
		for _, m := range docxText.FindAllStringSubmatch(para, -1) {
			line.WriteString(m[1])
		}
		if line.Len() == 0 {
			// content that is not wrapped in runs
			stripped := strings.TrimSpace(docxTag.ReplaceAllString(para, ""))
			if stripped == "" {
				continue
			}
			line.WriteString(stripped)
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(line.String())
	}
	return text.String()
}

func parseXLSX(filePath string) ([]string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []string
	for _, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, text.String())
	}
	return pages, nil
}

func parseText(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, errors.New("file is not valid UTF-8 text")
	}
	return []string{string(data)}, nil
}
