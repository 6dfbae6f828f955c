package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/sooshee9/AIR01/internal/vsir/entity"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var exportHeaders = []string{
	"Received Date", "Indent No", "PO No", "OA No", "Purchase Batch No", "Vendor Batch No",
	"DC No", "Invoice/DC No", "Vendor Name", "Item Name", "Item Code",
	"Qty Received", "OK Qty", "Rework Qty", "Reject Qty", "GRN No", "Remarks",
}

// ExportService renders records as xlsx and optionally archives the file.
type ExportService struct {
	minio  *minio.Client
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

func NewExportService(client *minio.Client, bucket string, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{minio: client, bucket: bucket, logger: logger, now: time.Now}
}

// Export 导出VSIR记录为xlsx
func (s *ExportService) Export(records []entity.Record) (*excelize.File, string, error) {
	f := excelize.NewFile()
	sheet := "VSIR"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range exportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for rowIdx, r := range records {
		row := rowIdx + 2
		values := []interface{}{
			r.ReceivedDate, r.IndentNo, r.PONo, r.OANo, r.PurchaseBatchNo, r.VendorBatchNo,
			r.DCNo, r.InvoiceDCNo, r.VendorName, r.ItemName, r.ItemCode,
			r.QtyReceived, r.OKQty, r.ReworkQty, r.RejectQty, r.GRNNo, r.Remarks,
		}
		for i, v := range values {
			col, _ := excelize.ColumnNumberToName(i + 1)
			f.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), v)
		}
	}

	colWidths := []float64{12, 12, 14, 12, 16, 14, 12, 14, 20, 20, 14, 10, 8, 10, 10, 12, 24}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("VSIR_%s.xlsx", s.now().Format("20060102_150405"))
	return f, filename, nil
}

// Archive uploads the workbook to object storage. It is a no-op without MinIO.
func (s *ExportService) Archive(ctx context.Context, userID string, f *excelize.File, filename string) (string, error) {
	if s.minio == nil {
		return "", nil
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("encode workbook: %w", err)
	}
	objectName := fmt.Sprintf("vsir/exports/%s/%s", userID, filename)
	_, err = s.minio.PutObject(ctx, s.bucket, objectName, bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{
		ContentType: xlsxContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	s.logger.Info("vsir export archived", zap.String("object", objectName), zap.Int("bytes", buf.Len()))
	return objectName, nil
}

// ContentType of exported workbooks.
func (s *ExportService) ContentType() string {
	return xlsxContentType
}
