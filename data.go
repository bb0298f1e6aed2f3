package garagepi

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DataRecorder keeps the reading history in SQLite.
type DataRecorder struct {
	db *sql.DB
}

// HistoricalData is one stored reading.
type HistoricalData struct {
	Timestamp int64   `json:"timestamp"` // unix micros
	TempC     float64 `json:"temp_c"`
	TempF     float64 `json:"temp_f"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

func NewDataRecorder(path string) (*DataRecorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Create table if it doesn't exist
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			timestamp INTEGER PRIMARY KEY,
			temp_c REAL,
			temp_f REAL,
			pressure REAL,
			humidity REAL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating readings table: %w", err)
	}

	return &DataRecorder{db: db}, nil
}

func (dr *DataRecorder) Close() error {
	return dr.db.Close()
}

// Record stores r under timestamp ts (unix micros). A second reading with
// the same timestamp replaces the first.
func (dr *DataRecorder) Record(ts int64, r Reading) error {
	_, err := dr.db.Exec(`
		INSERT OR REPLACE INTO readings (
			timestamp,
			temp_c,
			temp_f,
			pressure,
			humidity
		) VALUES (?, ?, ?, ?, ?)`,
		ts,
		r.TempC,
		r.TempF,
		r.Pressure,
		r.Humidity,
	)
	return err
}

func (dr *DataRecorder) GetHistoricalData(startTime, endTime int64) ([]HistoricalData, error) {
	rows, err := dr.db.Query(`
		SELECT
			timestamp,
			temp_c,
			temp_f,
			pressure,
			humidity
		FROM readings
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC
	`, startTime, endTime)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []HistoricalData

	for rows.Next() {
		var point HistoricalData
		err := rows.Scan(
			&point.Timestamp,
			&point.TempC,
			&point.TempF,
			&point.Pressure,
			&point.Humidity,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, point)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
