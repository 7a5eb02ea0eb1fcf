package driver

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/aristath/backtree/internal/engine"
)

// LoadUniverseCSV reads a price panel CSV with a "date" column followed by
// one column per symbol (dates × symbols, per SPEC_FULL.md §3.6), building
// an engine.Universe from it. Dates must be RFC3339 or "2006-01-02"; blank
// cells become NaN gaps, not an error. Grounded on the teacher pack's
// generic candle-CSV loader shape (header row mapped to column index,
// unknown/blank cells tolerated).
func LoadUniverseCSV(path string) (*engine.Universe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("driver: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("driver: reading header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("driver: csv needs a date column plus at least one symbol column")
	}
	symbols := header[1:]

	var dates []time.Time
	columns := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		columns[sym] = nil
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("driver: reading row: %w", err)
		}

		date, err := parseDate(rec[0])
		if err != nil {
			return nil, fmt.Errorf("driver: parsing date %q: %w", rec[0], err)
		}
		dates = append(dates, date)

		for i, sym := range symbols {
			v := float64(0)
			if i+1 < len(rec) && rec[i+1] != "" {
				v, err = strconv.ParseFloat(rec[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("driver: parsing price %q for %s: %w", rec[i+1], sym, err)
				}
			} else {
				v = math.NaN()
			}
			columns[sym] = append(columns[sym], v)
		}
	}

	return engine.NewUniverse(dates, columns)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
