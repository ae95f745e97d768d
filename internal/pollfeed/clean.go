package pollfeed

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rewired-gh/evforecast/internal/models"
)

var validate = validator.New()

// feedRecord is a parsed feed row awaiting validation.
type feedRecord struct {
	StateName string  `validate:"required"`
	SupportA  float64 `validate:"gte=0,lte=100"`
	SupportB  float64 `validate:"gte=0,lte=100"`
	Weight    int     `validate:"min=1,max=10"`
	MOE       float64 `validate:"gte=0,lte=100"`
}

// Report counts what cleaning did with the feed rows.
type Report struct {
	Rows       int
	Kept       int
	Incomplete int
	Invalid    int
}

// Clean converts raw feed rows into poll records. Rows with a missing or
// unparseable state, support or moe value are dropped. A missing or
// unparseable weight defaults to 1 and fractional weights are truncated.
// Infinite values count as unparseable. Rows failing range validation,
// including weights outside [1,10] before truncation, are dropped.
func Clean(rows []map[string]string) ([]models.PollRecord, Report) {
	report := Report{Rows: len(rows)}
	polls := make([]models.PollRecord, 0, len(rows))

	for _, row := range rows {
		rec, ok := parseRecord(row)
		if !ok {
			report.Incomplete++
			continue
		}
		if err := validate.Struct(rec); err != nil {
			report.Invalid++
			continue
		}
		polls = append(polls, models.PollRecord{
			StateName: rec.StateName,
			Poll: models.Poll{
				SupportA:      rec.SupportA,
				SupportB:      rec.SupportB,
				Weight:        rec.Weight,
				MarginOfError: rec.MOE,
			},
		})
	}
	report.Kept = len(polls)
	return polls, report
}

func parseRecord(row map[string]string) (feedRecord, bool) {
	rec := feedRecord{StateName: strings.TrimSpace(row["state_name"])}
	if rec.StateName == "" {
		return rec, false
	}

	var ok bool
	if rec.SupportA, ok = parseFloat(row["support_a"]); !ok {
		return rec, false
	}
	if rec.SupportB, ok = parseFloat(row["support_b"]); !ok {
		return rec, false
	}
	if rec.MOE, ok = parseFloat(row["moe"]); !ok {
		return rec, false
	}

	rec.Weight = 1
	if w, ok := parseFloat(row["weight"]); ok {
		if w >= models.MinPollWeight && w < models.MaxPollWeight+1 {
			rec.Weight = int(w)
		} else {
			rec.Weight = 0 // fails validation
		}
	}
	return rec, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func decodeCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
