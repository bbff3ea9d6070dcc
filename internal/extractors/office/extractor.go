// Package office extracts text and tables from OOXML office documents
// (docx, xlsx, pptx). Legacy OLE2 formats are recognised but carry no
// extractable text layer here.
package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// ole2Signature is the magic number of legacy doc/xls/ppt containers.
var ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Extractor handles office documents.
type Extractor struct{}

// New creates an office extractor.
func New() *Extractor {
	return &Extractor{}
}

// Type returns the file type this extractor handles.
func (e *Extractor) Type() domain.FileType {
	return domain.TypeOffice
}

// Extract dispatches on the container's entries: word processing,
// spreadsheet or presentation.
func (e *Extractor) Extract(ctx context.Context, src io.Reader) (*driven.ExtractionResult, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: reading document: %v", domain.ErrUnreadableInput, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if bytes.HasPrefix(data, ole2Signature) {
		return &driven.ExtractionResult{
			Warnings: []string{"legacy binary office format; no text layer extracted"},
			Partial:  true,
			Metadata: map[string]string{"format": "ole2"},
		}, nil
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening container: %v", domain.ErrCorruptContent, err)
	}

	entries := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		entries[f.Name] = f
	}

	var res *driven.ExtractionResult
	switch {
	case entries["word/document.xml"] != nil:
		res, err = extractDocx(entries)
	case entries["xl/workbook.xml"] != nil:
		res, err = extractXlsx(reader, entries)
	case entries["ppt/presentation.xml"] != nil:
		res, err = extractPptx(reader)
	default:
		return nil, fmt.Errorf("%w: zip container is not an office document", domain.ErrCorruptContent)
	}
	if err != nil {
		return nil, err
	}
	res.Images = countMedia(reader)
	return res, nil
}

// countMedia counts embedded media parts (word/media, xl/media,
// ppt/media).
func countMedia(reader *zip.Reader) int {
	n := 0
	for _, f := range reader.File {
		if strings.Contains(f.Name, "/media/") {
			n++
		}
	}
	return n
}

// readEntry reads one file out of the container.
func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", domain.ErrCorruptContent, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", domain.ErrCorruptContent, f.Name, err)
	}
	return data, nil
}

// --- docx ---

// documentXML mirrors the parts of word/document.xml we lift text from.
type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

func extractDocx(entries map[string]*zip.File) (*driven.ExtractionResult, error) {
	data, err := readEntry(entries["word/document.xml"])
	if err != nil {
		return nil, err
	}

	var doc documentXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing document xml: %v", domain.ErrCorruptContent, err)
	}

	var sb strings.Builder
	for i, para := range doc.Body.Paragraphs {
		if i > 0 {
			sb.WriteString("\n")
		}
		for _, r := range para.Runs {
			for _, t := range r.Text {
				sb.WriteString(t.Content)
			}
		}
	}

	return &driven.ExtractionResult{
		Text: strings.TrimSpace(sb.String()),
		Metadata: map[string]string{
			"format":     "docx",
			"paragraphs": strconv.Itoa(len(doc.Body.Paragraphs)),
		},
	}, nil
}

// --- xlsx ---

// sstXML mirrors xl/sharedStrings.xml.
type sstXML struct {
	Items []sstItem `xml:"si"`
}

type sstItem struct {
	T    string `xml:"t"`
	Runs []struct {
		T string `xml:"t"`
	} `xml:"r"`
}

func (s sstItem) text() string {
	if len(s.Runs) == 0 {
		return s.T
	}
	var sb strings.Builder
	for _, r := range s.Runs {
		sb.WriteString(r.T)
	}
	return sb.String()
}

// sheetXML mirrors the cell grid of one worksheet.
type sheetXML struct {
	SheetData struct {
		Rows []struct {
			Cells []struct {
				Type  string `xml:"t,attr"`
				Value string `xml:"v"`
				// Inline strings live under is/t.
				Inline string `xml:"is>t"`
			} `xml:"c"`
		} `xml:"row"`
	} `xml:"sheetData"`
}

func extractXlsx(reader *zip.Reader, entries map[string]*zip.File) (*driven.ExtractionResult, error) {
	var shared []string
	if f := entries["xl/sharedStrings.xml"]; f != nil {
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		var sst sstXML
		if err := xml.Unmarshal(data, &sst); err != nil {
			return nil, fmt.Errorf("%w: parsing shared strings: %v", domain.ErrCorruptContent, err)
		}
		shared = make([]string, len(sst.Items))
		for i, item := range sst.Items {
			shared[i] = item.text()
		}
	}

	var sheetFiles []*zip.File
	for _, f := range reader.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/") && strings.HasSuffix(f.Name, ".xml") {
			sheetFiles = append(sheetFiles, f)
		}
	}
	sort.Slice(sheetFiles, func(i, j int) bool { return sheetFiles[i].Name < sheetFiles[j].Name })

	res := &driven.ExtractionResult{
		Metadata: map[string]string{
			"format": "xlsx",
			"sheets": strconv.Itoa(len(sheetFiles)),
		},
	}

	var sb strings.Builder
	for _, f := range sheetFiles {
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		var sheet sheetXML
		if err := xml.Unmarshal(data, &sheet); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", domain.ErrCorruptContent, f.Name, err)
		}

		table := domain.Table{Name: strings.TrimSuffix(path.Base(f.Name), ".xml")}
		for _, row := range sheet.SheetData.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, c := range row.Cells {
				cells = append(cells, resolveCell(c.Type, c.Value, c.Inline, shared))
			}
			table.Rows = append(table.Rows, cells)

			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.Join(cells, "\t"))
		}
		res.Tables = append(res.Tables, table)
	}

	res.Text = strings.TrimSpace(sb.String())
	return res, nil
}

// resolveCell maps a raw cell onto its display text.
func resolveCell(cellType, value, inline string, shared []string) string {
	switch cellType {
	case "s":
		idx, err := strconv.Atoi(value)
		if err != nil || idx < 0 || idx >= len(shared) {
			return value
		}
		return shared[idx]
	case "inlineStr":
		return inline
	default:
		return value
	}
}

// --- pptx ---

func extractPptx(reader *zip.Reader) (*driven.ExtractionResult, error) {
	var slides []*zip.File
	for _, f := range reader.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].Name < slides[j].Name })

	var sb strings.Builder
	for _, f := range slides {
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		text, err := slideText(data)
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
	}

	return &driven.ExtractionResult{
		Text: strings.TrimSpace(sb.String()),
		Metadata: map[string]string{
			"format": "pptx",
			"slides": strconv.Itoa(len(slides)),
		},
	}, nil
}

// slideText collects the character data of every a:t element.
func slideText(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var sb strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: parsing slide xml: %v", domain.ErrCorruptContent, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				if sb.Len() > 0 {
					sb.WriteString(" ")
				}
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
