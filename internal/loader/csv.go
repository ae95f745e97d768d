// Package loader reads rosters, state lists, polls and scenario files from disk.
package loader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rewired-gh/evforecast/internal/models"
)

// row is one CSV record addressed by header name.
type row struct {
	file   string
	line   int
	fields map[string]string
}

func (r row) str(col string) string {
	return strings.TrimSpace(r.fields[col])
}

func (r row) floatField(col string) (float64, error) {
	v, err := strconv.ParseFloat(r.str(col), 64)
	if err != nil {
		return 0, fmt.Errorf("%s:%d: invalid %s %q: %w", r.file, r.line, col, r.str(col), err)
	}
	return v, nil
}

func (r row) intField(col string) (int, error) {
	v, err := strconv.Atoi(r.str(col))
	if err != nil {
		return 0, fmt.Errorf("%s:%d: invalid %s %q: %w", r.file, r.line, col, r.str(col), err)
	}
	return v, nil
}

// readRows parses a headered CSV and checks that every required column exists.
func readRows(path string, required ...string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return parseRows(f, path, required...)
}

func parseRows(r io.Reader, name string, required ...string) ([]row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: missing header", name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", name, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	for _, col := range required {
		found := false
		for _, h := range header {
			if h == col {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: missing column %q", name, col)
		}
	}

	var rows []row
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		fields := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				fields[h] = rec[i]
			}
		}
		rows = append(rows, row{file: name, line: line, fields: fields})
	}
	return rows, nil
}

// ReadRoster reads a CSV with columns name,electoral_votes.
func ReadRoster(path string) ([]models.RosterEntry, error) {
	rows, err := readRows(path, "name", "electoral_votes")
	if err != nil {
		return nil, err
	}
	roster := make([]models.RosterEntry, 0, len(rows))
	for _, r := range rows {
		ev, err := r.intField("electoral_votes")
		if err != nil {
			return nil, err
		}
		roster = append(roster, models.RosterEntry{Name: r.str("name"), ElectoralVotes: ev})
	}
	return roster, nil
}

// ReadStateList reads one state name per line, skipping blank lines.
// A missing file is an empty list.
func ReadStateList(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return names, nil
}

// PollColumns is the header of a polls CSV.
var PollColumns = []string{"state_name", "support_a", "support_b", "weight", "moe"}

// ReadPolls reads a polls CSV. Weights are not range-checked here; that
// happens when the poll is added to its state.
func ReadPolls(path string) ([]models.PollRecord, error) {
	rows, err := readRows(path, PollColumns...)
	if err != nil {
		return nil, err
	}
	polls := make([]models.PollRecord, 0, len(rows))
	for _, r := range rows {
		rec := models.PollRecord{StateName: r.str("state_name")}
		if rec.SupportA, err = r.floatField("support_a"); err != nil {
			return nil, err
		}
		if rec.SupportB, err = r.floatField("support_b"); err != nil {
			return nil, err
		}
		if rec.Weight, err = r.intField("weight"); err != nil {
			return nil, err
		}
		if rec.MarginOfError, err = r.floatField("moe"); err != nil {
			return nil, err
		}
		polls = append(polls, rec)
	}
	return polls, nil
}

// WritePolls writes polls in the format ReadPolls accepts, replacing path.
func WritePolls(path string, polls []models.PollRecord) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	_ = w.Write(PollColumns)
	for _, p := range polls {
		_ = w.Write([]string{
			p.StateName,
			strconv.FormatFloat(p.SupportA, 'f', -1, 64),
			strconv.FormatFloat(p.SupportB, 'f', -1, 64),
			strconv.Itoa(p.Weight),
			strconv.FormatFloat(p.MarginOfError, 'f', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write polls: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// ReadTurnout reads a CSV with columns state_name,margin_shift.
func ReadTurnout(path string) (map[string]float64, error) {
	rows, err := readRows(path, "state_name", "margin_shift")
	if err != nil {
		return nil, err
	}
	shifts := make(map[string]float64, len(rows))
	for _, r := range rows {
		v, err := r.floatField("margin_shift")
		if err != nil {
			return nil, err
		}
		shifts[r.str("state_name")] = v
	}
	return shifts, nil
}

// ReadHistorical reads a CSV with columns state_name,winner.
func ReadHistorical(path string) (map[string]string, error) {
	rows, err := readRows(path, "state_name", "winner")
	if err != nil {
		return nil, err
	}
	results := make(map[string]string, len(rows))
	for _, r := range rows {
		results[r.str("state_name")] = r.str("winner")
	}
	return results, nil
}
