package sink

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Sternrassler/names-scraper/pkg/config"
	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	format  string
	fail    error
	records []model.Record
	active  int
	overlap bool
	closed  bool
}

func (m *memorySink) Format() string { return m.format }

func (m *memorySink) Append(_ context.Context, records []model.Record) error {
	m.active++
	defer func() { m.active-- }()
	if m.active > 1 {
		m.overlap = true
	}
	if m.fail != nil {
		return &SinkError{Format: m.format, Op: "append", Err: m.fail}
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func TestMultiSink_IsolatesFailures(t *testing.T) {
	good := &memorySink{format: "csv"}
	bad := &memorySink{format: "sqlite", fail: errors.New("disk I/O error")}
	m := NewMultiSink(zerolog.Nop(), good, bad)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, testRecords(model.Male, 1, 3)))
	require.NoError(t, m.Append(ctx, testRecords(model.Male, 2, 2)))

	assert.Len(t, good.records, 5)
	assert.Equal(t, 1, m.Healthy())

	reports := m.Report()
	require.Len(t, reports, 2)
	assert.Equal(t, 5, reports[0].Records)
	assert.Equal(t, 2, reports[0].Batches)
	assert.False(t, reports[0].Failed)
	assert.True(t, reports[1].Failed)
	assert.Contains(t, reports[1].Error, "disk I/O error")

	require.NoError(t, m.Close())
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}

func TestMultiSink_AllFailed(t *testing.T) {
	a := &memorySink{format: "csv", fail: errors.New("read-only file system")}
	b := &memorySink{format: "json", fail: errors.New("no space left on device")}
	m := NewMultiSink(zerolog.Nop(), a, b)

	err := m.Append(context.Background(), testRecords(model.Female, 1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllSinksFailed)
	assert.ErrorIs(t, err, ErrWriteFailed)

	err = m.Append(context.Background(), testRecords(model.Female, 2, 1))
	assert.ErrorIs(t, err, ErrAllSinksFailed, "disabled sinks stay disabled")
}

func TestMultiSink_DropsInvalidRecords(t *testing.T) {
	s := &memorySink{format: "csv"}
	m := NewMultiSink(zerolog.Nop(), s)

	records := []model.Record{
		{DisplayName: "Aisha", Category: model.Female},
		{DisplayName: "", Category: model.Female},
		{DisplayName: "Omar", Category: "other"},
	}
	require.NoError(t, m.Append(context.Background(), records))
	require.Len(t, s.records, 1)
	assert.Equal(t, "Aisha", s.records[0].DisplayName)
}

func TestMultiSink_SerializesEachSink(t *testing.T) {
	s := &memorySink{format: "csv"}
	m := NewMultiSink(zerolog.Nop(), s)

	var wg sync.WaitGroup
	for p := 1; p <= 50; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Append(context.Background(), testRecords(model.Male, p, 4)))
		}()
	}
	wg.Wait()

	assert.False(t, s.overlap)
	assert.Len(t, s.records, 200)
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Formats = []string{config.FormatCSV, config.FormatJSON, config.FormatSQLite, config.FormatXLSX}

	m, err := Open(context.Background(), cfg, Truncate, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, m.Append(context.Background(), testRecords(model.Male, 1, 2)))
	require.NoError(t, m.Close())

	artifacts := m.Artifacts()
	assert.Equal(t, filepath.Join(cfg.Output.Dir, cfg.Output.CSVFile), artifacts["csv"])
	assert.Equal(t, filepath.Join(cfg.Output.Dir, cfg.Output.JSONFile), artifacts["json"])
	assert.Equal(t, filepath.Join(cfg.Output.Dir, cfg.Output.SQLiteFile), artifacts["sqlite"])
	assert.Equal(t, filepath.Join(cfg.Output.Dir, cfg.Output.XLSXFile), artifacts["xlsx"])
	for _, r := range m.Report() {
		assert.Equal(t, 2, r.Records, r.Format)
	}
}

func TestOpen_SkipsFormatsThatFail(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Formats = []string{"parquet", config.FormatCSV}

	m, err := Open(context.Background(), cfg, Truncate, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()
	assert.Len(t, m.Report(), 1)
}

func TestOpen_NoSinks(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Formats = []string{"parquet"}

	_, err := Open(context.Background(), cfg, Truncate, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoSinks)
}
