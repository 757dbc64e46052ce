package benchmark

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-intel/internal/model"
)

func TestDefaultDataset(t *testing.T) {
	t.Parallel()

	ds, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, ds.Version)

	// Every non-terminal progression stage has an all-segments row.
	for _, s := range model.ProgressionStages() {
		if s.Terminal() {
			continue
		}
		_, err := ds.Rate(s, "")
		assert.NoError(t, err, s)
	}
}

func TestRate(t *testing.T) {
	t.Parallel()

	ds, err := Default()
	require.NoError(t, err)

	tests := []struct {
		name    string
		stage   model.Stage
		segment string
		want    float64
	}{
		{"all segments", model.StagePreApplication, "", 0.55},
		{"home has no shift", model.StagePreApplication, model.FeeStatusHome, 0.55},
		{"international shift", model.StagePreApplication, model.FeeStatusInternational, 0.50},
		{"segment row wins over shift", model.StageDepositPaid, model.FeeStatusInternational, 0.80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ds.Rate(tt.stage, tt.segment)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRateNotFound(t *testing.T) {
	t.Parallel()

	ds, err := Default()
	require.NoError(t, err)

	_, err = ds.Rate(model.StageEnrolled, "")
	assert.True(t, model.IsNotFound(err))

	_, err = ds.Rate("mystery", "")
	assert.True(t, model.IsNotFound(err))
}

func TestParseRejectsBadRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"no version", "rows: []"},
		{"unknown stage", "version: v1\nrows:\n  - {stage: nope, segment: all, expected_rate: 0.5}"},
		{"rate out of range", "version: v1\nrows:\n  - {stage: enquiry, segment: all, expected_rate: 1.5}"},
		{"duplicate", "version: v1\nrows:\n  - {stage: enquiry, expected_rate: 0.5}\n  - {stage: enquiry, segment: all, expected_rate: 0.4}"},
		{"not yaml", "version: [v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: custom-1
shifts:
  international: 0.10
rows:
  - {stage: enquiry, segment: all, expected_rate: 0.95}
`), 0o644))

	ds, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-1", ds.Version)

	r, err := ds.Rate(model.StageEnquiry, model.FeeStatusInternational)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-9, "shifted rates stay within [0,1]")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	def, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "2025.2", def.Version)
}

func TestEntriesOrdered(t *testing.T) {
	t.Parallel()

	ds, err := Default()
	require.NoError(t, err)

	entries := ds.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, model.StageEnquiry, entries[0].Stage)
	assert.Equal(t, model.StagePreEnrolment, entries[len(entries)-1].Stage)
}
