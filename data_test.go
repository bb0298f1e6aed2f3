package garagepi

import (
	"path/filepath"
	"testing"
)

func newTestRecorder(t *testing.T) *DataRecorder {
	t.Helper()
	dr, err := NewDataRecorder(filepath.Join(t.TempDir(), "readings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dr.Close() })
	return dr
}

func TestDataRecorder(t *testing.T) {
	dr := newTestRecorder(t)

	readings := []Reading{
		{TempC: 20.5, TempF: 68.9, Pressure: 1001.2, Humidity: 40},
		{TempC: 21.0, TempF: 69.8, Pressure: 1001.4, Humidity: 41.5},
		{TempC: 21.5, TempF: 70.7, Pressure: 1001.1, Humidity: 42},
	}
	for i, r := range readings {
		if err := dr.Record(int64(1000*(i+1)), r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := dr.GetHistoricalData(1500, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	want := HistoricalData{Timestamp: 2000, TempC: 21.0, TempF: 69.8, Pressure: 1001.4, Humidity: 41.5}
	if got[0] != want {
		t.Errorf("row 0 = %+v, want %+v", got[0], want)
	}
	if got[1].Timestamp != 3000 {
		t.Errorf("rows not ordered: %+v", got)
	}

	none, err := dr.GetHistoricalData(5000, 6000)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("got %d rows outside range", len(none))
	}
}

func TestDataRecorderReplace(t *testing.T) {
	dr := newTestRecorder(t)
	if err := dr.Record(42, Reading{TempC: 1}); err != nil {
		t.Fatal(err)
	}
	if err := dr.Record(42, Reading{TempC: 2}); err != nil {
		t.Fatal(err)
	}
	got, err := dr.GetHistoricalData(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TempC != 2 {
		t.Fatalf("got %+v", got)
	}
}
