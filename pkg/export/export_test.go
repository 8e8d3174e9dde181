package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/detect"
	"github.com/autonlab/auviewer/pkg/series"
	"github.com/autonlab/auviewer/pkg/storage"
	"github.com/autonlab/auviewer/pkg/storage/memory"
)

const vitalsCSV = `time,hr,note,spo2
3,70,c,
1,60,a,97
2,65,b,98
`

func readColumn(t *testing.T, store storage.Storage, path string) []float64 {
	t.Helper()
	arr, err := store.ReadArray(context.Background(), path)
	require.NoError(t, err)
	return arr.Data
}

func TestImportCSV_SortsAndSkipsNonNumeric(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	im := NewImporter(store, nil)

	result, err := im.ImportCSV(ctx, "vitals", strings.NewReader(vitalsCSV))
	require.NoError(t, err)
	assert.Equal(t, []string{"vitals"}, result.Groups)
	assert.Equal(t, 3, result.RowsImported)
	assert.Equal(t, 2, result.SeriesImported)
	assert.Equal(t, []string{"vitals/note"}, result.Skipped)

	assert.Equal(t, []float64{1, 2, 3}, readColumn(t, store, "vitals/time"))
	assert.Equal(t, []float64{60, 65, 70}, readColumn(t, store, "vitals/hr"))

	spo2 := readColumn(t, store, "vitals/spo2")
	require.Len(t, spo2, 3)
	assert.Equal(t, []float64{97, 98}, spo2[:2])
	assert.True(t, math.IsNaN(spo2[2]))

	_, err = store.ReadArray(ctx, "vitals/note")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, im.Finish(ctx))
	schema, err := container.ReadSchema(ctx, store)
	require.NoError(t, err)
	require.Len(t, schema.Series, 2)
	assert.Equal(t, "vitals/hr", schema.Series[0].ID)
	assert.Equal(t, "vitals/time", schema.Series[0].TimePath)
}

func TestImportCSV_InfiniteCellsAreMissing(t *testing.T) {
	store := memory.New()
	im := NewImporter(store, nil)

	csvData := "time,hr\n1,inf\n2,61\n3,-Infinity\n4,+Inf\n"
	result, err := im.ImportCSV(context.Background(), "vitals", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 1, result.SeriesImported)

	hr := readColumn(t, store, "vitals/hr")
	require.Len(t, hr, 4)
	assert.True(t, math.IsNaN(hr[0]))
	assert.Equal(t, 61.0, hr[1])
	assert.True(t, math.IsNaN(hr[2]))
	assert.True(t, math.IsNaN(hr[3]))
}

func TestImportCSV_NamedTimeColumnAndTimestamps(t *testing.T) {
	store := memory.New()
	im := NewImporter(store, nil)

	csvData := "hr,Time\n60,1970-01-01T00:00:10Z\n61,1970-01-01T00:00:10.5Z\n"
	result, err := im.ImportCSV(context.Background(), "g", strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 1, result.SeriesImported)
	assert.Equal(t, []float64{10, 10.5}, readColumn(t, store, "g/time"))
	assert.Equal(t, []float64{60, 61}, readColumn(t, store, "g/hr"))
}

func TestImportCSV_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"duplicate time", "time,hr\n1,60\n1,61\n"},
		{"duplicate time unsorted", "time,hr\n2,60\n1,61\n2,62\n"},
		{"bad time", "time,hr\nsoon,60\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := NewImporter(memory.New(), nil)
			_, err := im.ImportCSV(context.Background(), "g", strings.NewReader(tt.data))
			assert.Error(t, err)
		})
	}

	im := NewImporter(memory.New(), nil)
	_, err := im.ImportCSV(context.Background(), "g", strings.NewReader("time,hr\n1,60\n1,61\n"))
	assert.True(t, errors.Is(err, ErrDuplicateTime))
}

func TestImportFiles_CreatesContainer(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	vitals := filepath.Join(dir, "vitals.csv")
	labs := filepath.Join(dir, "labs.csv")
	require.NoError(t, os.WriteFile(vitals, []byte(vitalsCSV), 0o644))
	require.NoError(t, os.WriteFile(labs, []byte("time,lactate\n0,1.1\n3600,2.4\n"), 0o644))

	dst := filepath.Join(dir, "sources", "patient-1")
	result, err := ImportFiles(ctx, dst, []string{vitals, labs}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"vitals", "labs"}, result.Groups)
	assert.Equal(t, 3, result.SeriesImported)

	_, err = os.Stat(dst + ".partial")
	assert.True(t, os.IsNotExist(err))

	f, err := container.Open(ctx, "patient-1", dst, filepath.Join(dir, "patient-1.auv"), container.Options{})
	require.NoError(t, err)
	defer f.Close()

	ids := make([]string, 0, 3)
	for _, s := range f.Series() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"labs/lactate", "vitals/hr", "vitals/spo2"}, ids)

	_, err = ImportFiles(ctx, dst, []string{vitals}, nil)
	assert.True(t, errors.Is(err, ErrExists))
}

func TestImportFiles_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("time,hr\n1,60\n1,61\n"), 0o644))

	dst := filepath.Join(dir, "patient-2")
	_, err := ImportFiles(context.Background(), dst, []string{bad}, nil)
	require.Error(t, err)

	for _, p := range []string{dst, dst + ".partial"} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
}

func testOutput() *series.Output {
	return &series.Output{
		SourceType: series.SourceDownsample,
		Points: []series.Point{
			{Time: 0.5, Min: 1, Max: 2},
			{Time: 1.5, Min: -1, Max: 3.25},
		},
	}
}

func TestExportOutput_CSV(t *testing.T) {
	var buf bytes.Buffer
	result, err := ExportOutput(&buf, "vitals/hr", testOutput(), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsExported)
	assert.Equal(t, series.SourceDownsample, result.SourceType)
	assert.Equal(t, "time,min,max,value\n0.5,1,2,\n1.5,-1,3.25,\n", buf.String())

	buf.Reset()
	rawOut := &series.Output{SourceType: series.SourceRaw, Points: []series.Point{{Time: 7, Value: 42, Raw: true}}}
	_, err = ExportOutput(&buf, "vitals/hr", rawOut, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "time,min,max,value\n7,,,42\n", buf.String())
}

func TestExportOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	_, err := ExportOutput(&buf, "vitals/hr", testOutput(), FormatJSON)
	require.NoError(t, err)

	var decoded struct {
		Metadata struct {
			SeriesID string `json:"series_id"`
			Rows     int    `json:"rows"`
		} `json:"metadata"`
		Points     [][]*float64 `json:"points"`
		SourceType string       `json:"sourceType"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "vitals/hr", decoded.Metadata.SeriesID)
	assert.Equal(t, 2, decoded.Metadata.Rows)
	assert.Equal(t, series.SourceDownsample, decoded.SourceType)
	require.Len(t, decoded.Points, 2)
	assert.Equal(t, 3.25, *decoded.Points[1][2])
	assert.Nil(t, decoded.Points[1][3])
}

func TestExportOutput_UnsupportedFormat(t *testing.T) {
	_, err := ExportOutput(&bytes.Buffer{}, "x", testOutput(), "parquet")
	assert.Error(t, err)
}

func TestExportEpisodes(t *testing.T) {
	var buf bytes.Buffer
	result, err := ExportEpisodes(&buf, []detect.Episode{{Start: 1, End: 2.5}, {Start: 10, End: 12}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowsExported)
	assert.Equal(t, "start,end\n1,2.5\n10,12\n", buf.String())
}

type fakeFiles struct {
	dir   string
	files map[string]*container.File
}

func (f *fakeFiles) SourcePath(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *fakeFiles) Get(ctx context.Context, name string) (*container.File, error) {
	if file, ok := f.files[name]; ok {
		return file, nil
	}
	return nil, fmt.Errorf("file %s: %w", name, storage.ErrNotFound)
}

func newTestRouter(t *testing.T) (*mux.Router, *fakeFiles) {
	t.Helper()
	ctx := context.Background()

	source := memory.New()
	im := NewImporter(source, nil)
	_, err := im.ImportCSV(ctx, "vitals", strings.NewReader(vitalsCSV))
	require.NoError(t, err)
	require.NoError(t, im.Finish(ctx))

	f, err := container.New(ctx, "p1", source, nil, container.Options{})
	require.NoError(t, err)

	files := &fakeFiles{dir: t.TempDir(), files: map[string]*container.File{"p1": f}}
	r := mux.NewRouter()
	NewHandler(files, nil).Register(r)
	return r, files
}

func TestHandleExport(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   string
	}{
		{"full csv", "/api/v1/files/p1/series/vitals/hr/export", http.StatusOK, "time,min,max,value\n1,,,60\n2,,,65\n3,,,70\n"},
		{"ranged csv", "/api/v1/files/p1/series/vitals/hr/export?start=2&stop=3", http.StatusOK, "time,min,max,value\n2,,,65\n3,,,70\n"},
		{"bad format", "/api/v1/files/p1/series/vitals/hr/export?format=xml", http.StatusBadRequest, ""},
		{"bad window", "/api/v1/files/p1/series/vitals/hr/export?start=3&stop=1", http.StatusBadRequest, ""},
		{"unknown series", "/api/v1/files/p1/series/vitals/rr/export", http.StatusNotFound, ""},
		{"unknown file", "/api/v1/files/p9/series/vitals/hr/export", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
				assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
				assert.Contains(t, rec.Header().Get("Content-Disposition"), "p1-vitals_hr.csv")
			}
		})
	}
}

func TestHandleExport_JSON(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/p1/series/vitals/spo2/export?format=json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, series.SourceRaw, decoded["sourceType"])
	// the NaN row is dropped on read
	assert.Len(t, decoded["points"], 2)
}

func TestHandleImport(t *testing.T) {
	r, files := newTestRouter(t)

	post := func(contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/files/p2/import?group=vitals", strings.NewReader(vitalsCSV))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post("application/json")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = post("text/csv")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.SeriesImported)

	_, err := os.Stat(files.SourcePath("p2"))
	assert.NoError(t, err)

	rec = post("text/csv")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
