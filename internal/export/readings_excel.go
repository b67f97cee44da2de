package export

import (
	"bytes"
	"context"
	"fmt"

	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// SheetName 导出工作表名称
const SheetName = "Readings"

// ReadingsHeader 导出表头
var ReadingsHeader = []string{
	"Timestamp",
	"Device",
	"Sensor",
	"Unit",
	"Status",
	"Distance (cm)",
	"Filtered Distance (cm)",
	"Percent Full",
	"Temperature (C)",
	"Reading ID",
}

var columnWidths = []float64{22, 16, 12, 8, 8, 14, 22, 14, 16, 38}

// ExportDevice 查询设备历史并生成 Excel，返回文件内容和行数
func ExportDevice(ctx context.Context, readings store.ReadingStore, device string, q store.ReadingQuery) ([]byte, int, error) {
	rows, err := readings.ListReadings(ctx, device, q)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list readings: %w", err)
	}
	data, err := GenerateReadingsExport(rows)
	if err != nil {
		return nil, 0, err
	}
	return data, len(rows), nil
}

// GenerateReadingsExport 生成历史记录 Excel 文件（数值列为空表示该字段缺失）
func GenerateReadingsExport(readings []models.Reading) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ReadingsHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(SheetName, name, name, columnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, r := range readings {
		row := i + 2
		values := []interface{}{
			r.Ts,
			r.Device,
			r.Sensor,
			r.Unit,
			r.Status,
			decimalCell(r.DistanceCm),
			decimalCell(r.DistanceCmFiltered),
			decimalCell(r.PercentFull),
			decimalCell(r.TemperatureC),
			r.ID,
		}
		for col, value := range values {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(SheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func decimalCell(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.InexactFloat64()
}
