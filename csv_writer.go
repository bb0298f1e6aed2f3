package garagepi

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"timestamp", "temp_c", "temp_f", "pressure", "humidity"}

type CSVWriter struct {
	writer *csv.Writer
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{
		writer: csv.NewWriter(w),
	}
}

func (cw *CSVWriter) WriteHeader() error {
	if err := cw.writer.Write(csvHeader); err != nil {
		return fmt.Errorf("error writing CSV header: %w", err)
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Start writes the header and then every reading received until the
// channel is closed.
func (cw *CSVWriter) Start(readings <-chan SensorReading) error {
	if err := cw.WriteHeader(); err != nil {
		return err
	}

	for reading := range readings {
		if err := cw.WriteReading(time.UnixMicro(reading.Timestamp), reading.Reading); err != nil {
			return err
		}
	}

	return nil
}

func (cw *CSVWriter) Close() {
	cw.writer.Flush()
}

func (cw *CSVWriter) WriteReading(ts time.Time, r Reading) error {
	if err := cw.writer.Write(csvRecord(ts, r)); err != nil {
		return fmt.Errorf("error writing CSV: %w", err)
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

func csvRecord(ts time.Time, r Reading) []string {
	return []string{
		ts.Format(time.RFC3339),
		strconv.FormatFloat(r.TempC, 'f', 2, 64),
		strconv.FormatFloat(r.TempF, 'f', 1, 64),
		strconv.FormatFloat(r.Pressure, 'f', 1, 64),
		strconv.FormatFloat(r.Humidity, 'f', 1, 64),
	}
}
