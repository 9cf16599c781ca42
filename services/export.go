package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"esp32watch/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const exportSheet = "Detections"

// DetectionExportHeader is the header row of the detections workbook
var DetectionExportHeader = []string{
	"ID",
	"Device ID",
	"Location",
	"Detection Time",
	"Human Detected",
	"Confidence",
	"Detected Objects",
	"Batch ID",
	"DSP Time (ms)",
	"Classification Time (ms)",
	"Anomaly Time (ms)",
}

var exportColumnWidths = []float64{8, 20, 20, 22, 15, 12, 25, 38, 14, 24, 18}

// DetectionRangeReader loads detections of a time range with their samples
type DetectionRangeReader interface {
	DetectionsBetween(ctx context.Context, from, to time.Time) ([]models.Detection, error)
	PerformanceForDetections(ctx context.Context, ids []uint) (map[uint][]models.PerformanceSample, error)
}

// DetectionExporter renders detections into an XLSX workbook
type DetectionExporter struct {
	reader   DetectionRangeReader
	location *time.Location
	logger   *zap.Logger
}

func NewDetectionExporter(reader DetectionRangeReader, location *time.Location, logger *zap.Logger) *DetectionExporter {
	if location == nil {
		location = time.UTC
	}
	return &DetectionExporter{reader: reader, location: location, logger: logger}
}

// Export returns the workbook bytes and the number of detection rows written
func (e *DetectionExporter) Export(ctx context.Context, from, to time.Time) ([]byte, int, error) {
	if !to.After(from) {
		return nil, 0, fmt.Errorf("invalid export range: %s to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	detections, err := e.reader.DetectionsBetween(ctx, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load detections: %w", err)
	}

	ids := make([]uint, 0, len(detections))
	for _, d := range detections {
		ids = append(ids, d.ID)
	}
	perf, err := e.reader.PerformanceForDetections(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load performance samples: %w", err)
	}

	data, err := e.render(detections, perf)
	if err != nil {
		return nil, 0, err
	}

	e.logger.Info("Detections exported",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("rows", len(detections)),
		zap.Int("bytes", len(data)))
	return data, len(detections), nil
}

func (e *DetectionExporter) render(detections []models.Detection, perf map[uint][]models.PerformanceSample) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDE2E2"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(DetectionExportHeader))
	for i, h := range DetectionExportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(DetectionExportHeader))
	if err != nil {
		return nil, fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(exportSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, w := range exportColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(exportSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, d := range detections {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := e.row(d, perf[d.ID])
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *DetectionExporter) row(d models.Detection, samples []models.PerformanceSample) []interface{} {
	human := "No"
	if d.HumanDetected {
		human = "Yes"
	}
	var confidence interface{} = ""
	if d.Confidence != nil {
		confidence = *d.Confidence
	}

	row := []interface{}{
		d.ID,
		d.DeviceID,
		d.Location,
		d.DetectionTime.In(e.location).Format("2006-01-02 15:04:05"),
		human,
		confidence,
		strings.Join(d.DetectedObjects, ", "),
		d.BatchID,
		"", "", "",
	}
	if len(samples) > 0 {
		s := samples[0]
		row[8], row[9], row[10] = s.DSPTime, s.ClassificationTime, s.AnomalyTime
	}
	return row
}
