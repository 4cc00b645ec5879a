// Package ingest loads raw tabular files for analysis. It hands back plain
// string cells; all typing decisions belong to the preprocessor.
package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"datapulse/internal"
	"datapulse/ports"
)

// FileReader reads CSV and Excel files from disk.
type FileReader struct {
	log *internal.Logger
}

// NewFileReader creates a file reader.
func NewFileReader(log *internal.Logger) ports.TableReader {
	if log == nil {
		log = internal.DefaultLogger
	}
	return &FileReader{log: log}
}

// Read loads the file at path into a header row and data rows. The format is
// chosen by extension; anything that is not .xlsx is treated as delimited
// text.
func (r *FileReader) Read(path string) (header []string, rows [][]string, err error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("input file %s: %w", path, err)
	}

	var all [][]string
	if strings.ToLower(filepath.Ext(path)) == ".xlsx" {
		all, err = r.readExcel(path)
	} else {
		all, err = r.readDelimited(path)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(all) < 2 {
		return nil, nil, fmt.Errorf("file %s needs a header row and at least one data row", path)
	}

	header = make([]string, len(all[0]))
	for i, h := range all[0] {
		header[i] = strings.TrimSpace(h)
	}
	r.log.Info("read %s: %d columns, %d rows", filepath.Base(path), len(header), len(all)-1)
	return header, all[1:], nil
}

func (r *FileReader) readExcel(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func (r *FileReader) readDelimited(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	// Sniff the delimiter from the first line before handing off to csv.
	head := make([]byte, 4096)
	n, _ := file.Read(head)
	delim := sniffDelimiter(string(head[:n]))
	if _, err := file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("rewind file: %w", err)
	}

	reader := csv.NewReader(file)
	reader.Comma = delim
	reader.FieldsPerRecord = -1 // ragged rows are the preprocessor's problem
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse delimited file: %w", err)
	}
	return rows, nil
}

// sniffDelimiter picks the candidate that splits the first line most often.
func sniffDelimiter(head string) rune {
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestCount := ',', 0
	for _, candidate := range []rune{',', ';', '\t', '|'} {
		if count := strings.Count(head, string(candidate)); count > bestCount {
			best, bestCount = candidate, count
		}
	}
	return best
}
