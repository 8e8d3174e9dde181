package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autonlab/auviewer/pkg/container"
	"github.com/autonlab/auviewer/pkg/downsample"
	"github.com/autonlab/auviewer/pkg/raw"
	"github.com/autonlab/auviewer/pkg/storage"
	"github.com/autonlab/auviewer/pkg/storage/memory"
)

type fakeFiles struct {
	files   map[string]*container.File
	pending []string
}

func (f *fakeFiles) Names() ([]string, error) {
	return []string{"p1", "p2"}, nil
}

func (f *fakeFiles) Pending() ([]string, error) {
	return f.pending, nil
}

func (f *fakeFiles) Get(ctx context.Context, name string) (*container.File, error) {
	if file, ok := f.files[name]; ok {
		return file, nil
	}
	return nil, fmt.Errorf("file %s: %w", name, storage.ErrNotFound)
}

// newRouter serves one file whose vitals/hr series is processed and whose
// vitals/spo2 series is not.
func newRouter(t *testing.T) *mux.Router {
	t.Helper()
	ctx := context.Background()

	const n = 1001
	times := make([]float64, n)
	hr := make([]float64, n)
	spo2 := make([]float64, n)
	for i := range times {
		times[i] = float64(i)
		hr[i] = 60 + float64(i%20)
		spo2[i] = 97
	}
	source := memory.New()
	require.NoError(t, source.WriteArray(ctx, "vitals/time", storage.NewArray(times)))
	require.NoError(t, source.WriteArray(ctx, "vitals/hr", storage.NewArray(hr)))
	require.NoError(t, source.WriteArray(ctx, "vitals/spo2", storage.NewArray(spo2)))
	require.NoError(t, container.WriteSchema(ctx, source, &container.Schema{Series: []raw.Series{
		{ID: "vitals/hr", TimePath: "vitals/time", ValuePath: "vitals/hr", Unit: "bpm"},
		{ID: "vitals/spo2", TimePath: "vitals/time", ValuePath: "vitals/spo2", Unit: "%"},
	}}))

	opts := container.Options{Hierarchy: downsample.Options{IntervalCount: 10, StepMultiplier: 4}}
	f, err := container.New(ctx, "p1", source, memory.New(), opts)
	require.NoError(t, err)

	coord, err := f.Coordinator("vitals/hr")
	require.NoError(t, err)
	_, err = coord.ProcessAndStore(ctx)
	require.NoError(t, err)

	r := mux.NewRouter()
	NewHandler(&fakeFiles{files: map[string]*container.File{"p1": f}, pending: []string{"p2"}}, nil).Register(r)
	return r
}

func serve(r http.Handler, method, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

type outputBody struct {
	Points     [][]*float64 `json:"points"`
	SourceType string       `json:"sourceType"`
}

func TestHandleListFiles(t *testing.T) {
	rr := serve(newRouter(t), http.MethodGet, "/api/v1/files", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Files []FileEntry `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []FileEntry{{Name: "p1", Processed: true}, {Name: "p2", Processed: false}}, resp.Files)
}

func TestHandleListSeries(t *testing.T) {
	r := newRouter(t)

	rr := serve(r, http.MethodGet, "/api/v1/files/p1/series", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		File   string                 `json:"file"`
		Series []container.SeriesInfo `json:"series"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.File)
	require.Len(t, resp.Series, 2)
	assert.Equal(t, "vitals/hr", resp.Series[0].ID)
	assert.Equal(t, 1001, resp.Series[0].Points)
	assert.Equal(t, 3, resp.Series[0].Levels)
	assert.Equal(t, 0, resp.Series[1].Levels)

	rr = serve(r, http.MethodGet, "/api/v1/files/missing/series", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleFullOutput(t *testing.T) {
	r := newRouter(t)

	rr := serve(r, http.MethodGet, "/api/v1/files/p1/series/vitals/hr/full", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out outputBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "downsample", out.SourceType)
	assert.Len(t, out.Points, 10)
	assert.Nil(t, out.Points[0][3])

	rr = serve(r, http.MethodGet, "/api/v1/files/p1/series/vitals/spo2/full", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "raw", out.SourceType)
	assert.Len(t, out.Points, 1001)
}

func TestHandleRangedOutput(t *testing.T) {
	r := newRouter(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantSource string
	}{
		{"whole span", "?start=0&stop=1000", http.StatusOK, "downsample"},
		{"narrow window", "?start=100&stop=110", http.StatusOK, "raw"},
		{"missing stop", "?start=0", http.StatusBadRequest, ""},
		{"not a number", "?start=a&stop=1", http.StatusBadRequest, ""},
		{"inverted", "?start=10&stop=1", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(r, http.MethodGet, "/api/v1/files/p1/series/vitals/hr/output"+tt.query, "")
			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantSource == "" {
				return
			}
			var out outputBody
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
			assert.Equal(t, tt.wantSource, out.SourceType)
			assert.NotEmpty(t, out.Points)
		})
	}

	rr := serve(r, http.MethodGet, "/api/v1/files/p1/series/vitals/rr/output?start=0&stop=1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleEpisodes(t *testing.T) {
	r := newRouter(t)

	body := `{"threshold_high": 75, "duration": 2, "persistence": 1, "max_gap": 5}`
	rr := serve(r, http.MethodPost, "/api/v1/files/p1/series/vitals/hr/episodes", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Episodes [][2]float64 `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Episodes, 50)
	assert.Equal(t, [2]float64{16, 19}, resp.Episodes[0])
	assert.Equal(t, [2]float64{996, 999}, resp.Episodes[49])
}

func TestHandleEpisodes_BadRequests(t *testing.T) {
	r := newRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"threshold_high": `},
		{"no thresholds", `{"duration": 2, "persistence": 1, "max_gap": 5}`},
		{"zero persistence", `{"threshold_high": 75, "duration": 2, "persistence": 0, "max_gap": 5}`},
		{"inverted drop band", `{"threshold_high": 75, "duration": 2, "persistence": 1, "max_gap": 5, "drop_between": [5, 1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(r, http.MethodPost, "/api/v1/files/p1/series/vitals/hr/episodes", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}
