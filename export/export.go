// Package export converts extraction history and player lists to and from
// XLSX workbooks.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"github.com/zombar/matchscheduler/models"
)

const (
	HistorySheet = "History"
	PlayersSheet = "Players"

	headerRow = 1 // Excel rows are 1-based
)

// ErrMissingNameColumn is returned when a player sheet has no name header
var ErrMissingNameColumn = errors.New("player sheet has no name column")

var historyHeaders = []any{
	"operation_id", "player_name", "status", "matches_extracted", "total_available",
	"start_time", "end_time", "duration_seconds", "success", "error_message",
	"queue_types", "max_matches",
}

// PlayerHeaders are the recognised columns of a player sheet. Only name is
// required.
var PlayerHeaders = []string{
	"name", "summoner_name", "tag_line", "region", "primary_role", "secondary_role", "tier",
}

// ImportError reports a rejected row
type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// WriteHistoryXLSX writes one row per entry to w
func WriteHistoryXLSX(w io.Writer, entries []models.ExtractionHistory) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", HistorySheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(HistorySheet, "A1", &historyHeaders); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, headerRow+1+i)
		if err != nil {
			return err
		}
		row := historyRow(e)
		if err := f.SetSheetRow(HistorySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", e.OperationID, err)
		}
	}

	if err := f.SetPanes(HistorySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func historyRow(e models.ExtractionHistory) []any {
	var total any = ""
	if e.Progress.TotalAvailable != nil {
		total = *e.Progress.TotalAvailable
	}
	var end any = ""
	if e.Progress.EndTime != nil {
		end = e.Progress.EndTime.UTC().Format(time.RFC3339)
	}
	return []any{
		e.OperationID,
		e.PlayerName,
		string(e.Progress.Status),
		e.Progress.MatchesExtracted,
		total,
		e.Progress.StartTime.UTC().Format(time.RFC3339),
		end,
		e.DurationSeconds,
		e.Success,
		e.Progress.ErrorMessage,
		strings.Join(e.Config.QueueTypes, ","),
		e.Config.MaxMatches,
	}
}

// ReadPlayersXLSX reads players from the first sheet of the workbook in r.
// Columns are matched by header name. Invalid rows are skipped and reported
// with their row number.
func ReadPlayersXLSX(r io.Reader) ([]*models.Player, []ImportError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, ErrMissingNameColumn
	}

	columns := make(map[string]int)
	for i, h := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := columns["name"]; !ok {
		return nil, nil, ErrMissingNameColumn
	}

	cell := func(row []string, header string) string {
		i, ok := columns[header]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var players []*models.Player
	var rejected []ImportError
	seen := make(map[string]int)

	for i, row := range rows[1:] {
		rowNum := headerRow + 1 + i
		if isBlank(row) {
			continue
		}

		p := &models.Player{
			Name:          cell(row, "name"),
			SummonerName:  cell(row, "summoner_name"),
			TagLine:       cell(row, "tag_line"),
			Region:        strings.ToLower(cell(row, "region")),
			PrimaryRole:   strings.ToLower(cell(row, "primary_role")),
			SecondaryRole: strings.ToLower(cell(row, "secondary_role")),
			Tier:          strings.ToUpper(cell(row, "tier")),
		}

		if msg := ValidatePlayer(p); msg != "" {
			rejected = append(rejected, ImportError{Row: rowNum, Error: msg})
			continue
		}
		if first, dup := seen[p.Name]; dup {
			rejected = append(rejected, ImportError{Row: rowNum, Error: fmt.Sprintf("duplicate of row %d", first)})
			continue
		}
		seen[p.Name] = rowNum
		players = append(players, p)
	}

	return players, rejected, nil
}

// ValidatePlayer returns an error message or empty string
func ValidatePlayer(p *models.Player) string {
	if p.Name == "" {
		return "name is required"
	}
	if strings.ContainsAny(p.Name, "/?#") {
		return "name must not contain '/', '?' or '#'"
	}
	if p.PrimaryRole != "" && p.PrimaryRole == p.SecondaryRole {
		return "secondary_role must differ from primary_role"
	}
	return ""
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
