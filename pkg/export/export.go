package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/autonlab/auviewer/pkg/detect"
	"github.com/autonlab/auviewer/pkg/series"
)

// Formats supported by the exporter
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// ExportResult contains stats about the export
type ExportResult struct {
	RowsExported int       `json:"rows_exported"`
	SourceType   string    `json:"source_type,omitempty"`
	Format       string    `json:"format"`
	ExportedAt   time.Time `json:"exported_at"`
}

// ExportOutput writes a series output in the given format
func ExportOutput(w io.Writer, seriesID string, out *series.Output, format string) (*ExportResult, error) {
	switch format {
	case FormatJSON:
		return exportOutputJSON(w, seriesID, out)
	case FormatCSV:
		return exportOutputCSV(w, out)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func exportOutputJSON(w io.Writer, seriesID string, out *series.Output) (*ExportResult, error) {
	result := &ExportResult{
		RowsExported: len(out.Points),
		SourceType:   out.SourceType,
		Format:       FormatJSON,
		ExportedAt:   time.Now(),
	}

	exportData := struct {
		Metadata struct {
			SeriesID   string    `json:"series_id"`
			ExportedAt time.Time `json:"exported_at"`
			Rows       int       `json:"rows"`
		} `json:"metadata"`
		*series.Output
	}{Output: out}
	exportData.Metadata.SeriesID = seriesID
	exportData.Metadata.ExportedAt = result.ExportedAt
	exportData.Metadata.Rows = len(out.Points)

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return result, nil
}

// exportOutputCSV writes time,min,max,value rows; unset fields are empty
func exportOutputCSV(w io.Writer, out *series.Output) (*ExportResult, error) {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"time", "min", "max", "value"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, p := range out.Points {
		row := []string{formatFloat(p.Time), "", "", ""}
		if p.Raw {
			row[3] = formatFloat(p.Value)
		} else {
			row[1], row[2] = formatFloat(p.Min), formatFloat(p.Max)
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return &ExportResult{
		RowsExported: len(out.Points),
		SourceType:   out.SourceType,
		Format:       FormatCSV,
		ExportedAt:   time.Now(),
	}, nil
}

// ExportEpisodes writes episodes as start,end CSV rows
func ExportEpisodes(w io.Writer, episodes []detect.Episode) (*ExportResult, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"start", "end"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range episodes {
		if err := writer.Write([]string{formatFloat(e.Start), formatFloat(e.End)}); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return &ExportResult{RowsExported: len(episodes), Format: FormatCSV, ExportedAt: time.Now()}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
