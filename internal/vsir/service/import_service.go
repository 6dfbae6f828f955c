package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
	"github.com/sooshee9/AIR01/internal/vsir/store"
)

// ImportResult 导入结果
type ImportResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ImportService loads reference collections from spreadsheets or delimited
// text exported by the owning modules. The first row holds the field names.
type ImportService struct {
	docs   store.DocumentStore
	logger *zap.Logger
}

func NewImportService(docs store.DocumentStore, logger *zap.Logger) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{docs: docs, logger: logger}
}

// Import reads filename's rows into documents of coll. encoding "gbk" decodes
// legacy text exports; xlsx files ignore it.
func (s *ImportService) Import(ctx context.Context, userID string, coll entity.Collection, filename string, r io.Reader, encoding string) (*ImportResult, error) {
	if !coll.IsReference() {
		return nil, fmt.Errorf("unknown reference collection %q", coll)
	}

	var rows [][]string
	var err error
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		rows, err = readWorkbook(r)
	} else {
		rows, err = readDelimited(r, encoding)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	result := &ImportResult{}
	for lineNo, row := range rows[1:] {
		data := entity.JSONB{}
		for i, v := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v = strings.TrimSpace(v); v != "" {
				data[header[i]] = v
			}
		}
		if len(data) == 0 {
			result.Skipped++
			continue
		}
		doc := &entity.Document{Collection: coll, Data: data}
		if err := s.docs.Add(ctx, userID, doc); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", lineNo+2, err))
			continue
		}
		result.Created++
	}

	s.logger.Info("vsir reference imported",
		zap.String("user_id", userID),
		zap.String("collection", string(coll)),
		zap.String("file", filename),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Errors)),
	)
	return result, nil
}

func readWorkbook(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// readDelimited accepts comma or tab separated text; the header line decides.
func readDelimited(r io.Reader, encoding string) ([][]string, error) {
	if strings.EqualFold(encoding, "gbk") {
		// GBK → UTF-8
		r = transform.NewReader(r, simplifiedchinese.GBK.NewDecoder())
	}
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("read file: %w", err)
	}
	line := string(first)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	cr := csv.NewReader(br)
	if strings.Contains(line, "\t") {
		cr.Comma = '\t'
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}
	return rows, nil
}
