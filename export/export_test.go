package export

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"github.com/zombar/matchscheduler/models"
)

func TestWriteHistoryXLSX(t *testing.T) {
	start := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	total := 120

	entries := []models.ExtractionHistory{
		{
			OperationID: "op-1",
			PlayerName:  "Ada",
			Config:      models.ExtractionConfig{QueueTypes: []string{"ranked_solo", "ranked_flex"}, MaxMatches: 50},
			Progress: models.ExtractionProgress{
				Status:           models.StatusCompleted,
				MatchesExtracted: 37,
				TotalAvailable:   &total,
				StartTime:        start,
				EndTime:          &end,
			},
			DurationSeconds: 90,
			Success:         true,
		},
		{
			OperationID: "op-2",
			PlayerName:  "Lux",
			Progress: models.ExtractionProgress{
				Status:       models.StatusFailed,
				StartTime:    start,
				ErrorMessage: "rate limited",
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteHistoryXLSX(&buf, entries))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "operation_id", rows[0][0])
	assert.Equal(t, []string{"op-1", "Ada", "completed", "37", "120"}, rows[1][:5])
	assert.Equal(t, "2026-10-15T09:01:30Z", rows[1][6])
	assert.Equal(t, "ranked_solo,ranked_flex", rows[1][10])

	assert.Equal(t, "failed", rows[2][2])
	assert.Equal(t, "rate limited", rows[2][9])
}

func TestWriteHistoryXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHistoryXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func playerWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", PlayersSheet))

	for i, row := range rows {
		r := row
		require.NoError(t, f.SetSheetRow(PlayersSheet, "A"+strconv.Itoa(i+1), &r))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestReadPlayersXLSX(t *testing.T) {
	buf := playerWorkbook(t, [][]any{
		{"Tier", "Name", "Region", "Primary_Role", "Secondary_Role"},
		{"gold", "Ada", "EUW1", "Mid", "top"},
		{"silver", "", "na1", "", ""},
		{"", "", "", "", ""},
		{"platinum", "Lux", "kr", "support", "support"},
		{"bronze", "Zed", "euw1", "", ""},
		{"bronze", "Ada", "euw1", "", ""},
	})

	players, rejected, err := ReadPlayersXLSX(buf)
	require.NoError(t, err)

	require.Len(t, players, 2)
	assert.Equal(t, "Ada", players[0].Name)
	assert.Equal(t, "GOLD", players[0].Tier)
	assert.Equal(t, "euw1", players[0].Region)
	assert.Equal(t, "mid", players[0].PrimaryRole)
	assert.Equal(t, "Zed", players[1].Name)

	assert.Equal(t, []ImportError{
		{Row: 3, Error: "name is required"},
		{Row: 5, Error: "secondary_role must differ from primary_role"},
		{Row: 7, Error: "duplicate of row 2"},
	}, rejected)
}

func TestReadPlayersXLSXMissingNameColumn(t *testing.T) {
	buf := playerWorkbook(t, [][]any{
		{"summoner_name", "region"},
		{"AdaLovelace", "euw1"},
	})

	_, _, err := ReadPlayersXLSX(buf)
	assert.ErrorIs(t, err, ErrMissingNameColumn)
}

func TestReadPlayersXLSXNotAWorkbook(t *testing.T) {
	_, _, err := ReadPlayersXLSX(bytes.NewBufferString("name\nAda\n"))
	assert.Error(t, err)
}

func TestValidatePlayer(t *testing.T) {
	assert.Equal(t, "", ValidatePlayer(&models.Player{Name: "Ada"}))
	assert.Equal(t, "name is required", ValidatePlayer(&models.Player{}))
	assert.NotEmpty(t, ValidatePlayer(&models.Player{Name: "a/b"}))
}
