package synth

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vcsv "github.com/hed1ad/vlogguard/pkg/io/csv"
)

func TestGenerateNormal(t *testing.T) {
	recs, err := Generate(Config{Rows: 2000, Seed: 3})
	require.NoError(t, err)
	require.Len(t, recs, 2000)

	for i, r := range recs {
		assert.Equal(t, CodeNone, r.ErrorCode)
		assert.True(t, r.EngineTemp >= 80 && r.EngineTemp <= 100, "row %d temp %v", i, r.EngineTemp)
		assert.True(t, r.BatteryVoltage > 13 && r.BatteryVoltage < 14.5, "row %d voltage %v", i, r.BatteryVoltage)
		assert.True(t, r.BrakePressure >= 0 && r.BrakePressure <= 20, "row %d brake %v", i, r.BrakePressure)
		assert.True(t, r.VehicleSpeed >= 0, "row %d speed %v", i, r.VehicleSpeed)
	}
	assert.Equal(t, time.Second, recs[1].Timestamp.Sub(recs[0].Timestamp))
}

func TestGenerateDeterministic(t *testing.T) {
	a, err := Generate(Config{Rows: 300, Seed: 9, Inject: true})
	require.NoError(t, err)
	b, err := Generate(Config{Rows: 300, Seed: 9, Inject: true})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Generate(Config{Rows: 300, Seed: 10, Inject: true})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestGenerateInject(t *testing.T) {
	recs, err := Generate(Config{Rows: 5000, Seed: 1, Inject: true})
	require.NoError(t, err)

	codes := map[int]int{}
	for _, r := range recs {
		codes[r.ErrorCode]++
		switch r.ErrorCode {
		case CodeStuckThermo:
			assert.GreaterOrEqual(t, r.EngineTemp, 105.0)
		case CodeAlternator:
			assert.Less(t, r.BatteryVoltage, 11.8)
		case CodeBrakeDragging:
			assert.GreaterOrEqual(t, r.BrakePressure, 50.0)
		}
	}
	assert.Positive(t, codes[CodeStuckThermo])
	assert.Positive(t, codes[CodeAlternator])
	assert.Positive(t, codes[CodeBrakeDragging])
	assert.Greater(t, codes[CodeNone], len(recs)*8/10)
}

func TestGenerateNoRows(t *testing.T) {
	_, err := Generate(Config{})
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestWriteCSV(t *testing.T) {
	recs, err := Generate(Config{Rows: 5, Seed: 2})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, recs))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, strings.Join(Header, ","), lines[0])

	table, err := vcsv.NewReader(&buf).Read()
	require.NoError(t, err)
	assert.Equal(t, 5, table.Len())
	assert.Equal(t, "2024-01-01T08:00:00Z", table.Cell(0, table.Column("timestamp")))
}
