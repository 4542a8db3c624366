package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"

	"github.com/Berto-e/spiderfy/internal/config"
	"github.com/Berto-e/spiderfy/internal/geo"
	"github.com/Berto-e/spiderfy/internal/geojson"
	"github.com/Berto-e/spiderfy/internal/health"
	"github.com/Berto-e/spiderfy/internal/layerstore"
	"github.com/Berto-e/spiderfy/internal/resolve"
)

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := layerstore.New(t.Context(), mr.Addr())
	if err != nil {
		t.Fatalf("layerstore.New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	svc, err := resolve.New(
		layerstore.NewPointStore(client),
		layerstore.NewLayoutCache(client, time.Minute),
	)
	if err != nil {
		t.Fatalf("resolve.New: %v", err)
	}

	cfg := config.Config{SynthMax: 1000, DefaultRadius: 30, DefaultKeyer: "exact"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api, err := NewAPI(cfg, svc, logger)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}

	rep := health.NewReporter("redis")
	rep.SetReady("redis", true)
	return Routes(logger, api, rep)
}

func doJSON(t *testing.T, r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodePoints(t *testing.T, rr *httptest.ResponseRecorder) []geo.Point {
	t.Helper()
	var pts []geo.Point
	if err := json.Unmarshal(rr.Body.Bytes(), &pts); err != nil {
		t.Fatalf("decode points: %v (body %q)", err, rr.Body.String())
	}
	return pts
}

func threePoints() []geo.Point {
	return []geo.Point{
		{SerialNumber: 1, Station: "meter-1", Coordinates: [2]float64{-1.2, 37.9}, Status: geo.StatusGreen},
		{SerialNumber: 2, Station: "meter-2", Coordinates: [2]float64{-1.2, 37.9}, Status: geo.StatusRed},
		{SerialNumber: 3, Station: "meter-3", Coordinates: [2]float64{-1.5, 38.0}, Status: geo.StatusYellow},
	}
}

func TestHealthAndReadiness(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: got %d %q", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, r, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: got %d", rr.Code)
	}
}

func TestReadiness_NotReadyIs503(t *testing.T) {
	rep := health.NewReporter("redis", "kafka")
	rep.SetReady("redis", true)

	rr := httptest.NewRecorder()
	health.Readiness(rep)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "kafka") {
		t.Fatalf("body should name the missing dependency: %q", rr.Body.String())
	}
}

func TestSynthesize(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPost, "/v1/points/synthesize?count=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	pts := decodePoints(t, rr)
	if len(pts) != 5 {
		t.Fatalf("got %d points, want 5", len(pts))
	}
	for i, p := range pts {
		if p.SerialNumber != i+1 {
			t.Fatalf("point %d: serial %d, want %d", i, p.SerialNumber, i+1)
		}
	}

	rr = doJSON(t, r, http.MethodPost, "/v1/points/synthesize?count=5&duplicates=true", nil)
	pts = decodePoints(t, rr)
	if len(pts) != 7 {
		t.Fatalf("with duplicates: got %d points, want 7", len(pts))
	}
	last, prev := pts[6], pts[5]
	if last.Coordinates != prev.Coordinates {
		t.Fatalf("forced pair should share coordinates: %v vs %v", prev.Coordinates, last.Coordinates)
	}
}

func TestSynthesize_BadCount(t *testing.T) {
	r := newTestRouter(t)

	for _, target := range []string{
		"/v1/points/synthesize",
		"/v1/points/synthesize?count=abc",
		"/v1/points/synthesize?count=-1",
		"/v1/points/synthesize?count=1001",
	} {
		rr := doJSON(t, r, http.MethodPost, target, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d, want 400", target, rr.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
			t.Fatalf("%s: error body malformed: %q", target, rr.Body.String())
		}
	}
}

func TestDuplicatesEndpoint(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPost, "/v1/points/duplicates", threePoints())
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	dups := decodePoints(t, rr)
	if len(dups) != 2 || dups[0].SerialNumber != 1 || dups[1].SerialNumber != 2 {
		t.Fatalf("got %+v, want serials 1 and 2", dups)
	}

	rr = doJSON(t, r, http.MethodPost, "/v1/points/duplicates?keyer=bogus", threePoints())
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bogus keyer: got %d, want 400", rr.Code)
	}
}

func TestSpiderfyEndpoint(t *testing.T) {
	r := newTestRouter(t)

	group := []geo.Point{
		{SerialNumber: 1, Coordinates: [2]float64{-1.2, 37.9}},
		{SerialNumber: 2, Coordinates: [2]float64{-1.2, 37.9}},
		{SerialNumber: 3, Coordinates: [2]float64{-1.2, 37.9}},
	}
	rr := doJSON(t, r, http.MethodPost, "/v1/points/spiderfy?radius=10", group)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	out := decodePoints(t, rr)
	if len(out) != 3 {
		t.Fatalf("got %d points, want 3", len(out))
	}
	seen := map[[2]float64]bool{}
	for _, p := range out {
		if seen[p.Coordinates] {
			t.Fatalf("coordinates still coincident after spiderfy: %v", p.Coordinates)
		}
		seen[p.Coordinates] = true
	}

	rr = doJSON(t, r, http.MethodPost, "/v1/points/spiderfy?radius=NaN", group)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("NaN radius: got %d, want 400", rr.Code)
	}
}

func TestJitterEndpoint(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPost, "/v1/points/jitter", threePoints())
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	out := decodePoints(t, rr)
	if len(out) != 3 {
		t.Fatalf("got %d points, want 3", len(out))
	}
	for i, p := range out {
		if p.SerialNumber != i+1 {
			t.Fatalf("jitter must preserve order and serials, got %+v", out)
		}
	}
}

func TestLayerLifecycle(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPut, "/v1/layers/demo", threePoints())
	if rr.Code != http.StatusOK {
		t.Fatalf("put: got %d: %s", rr.Code, rr.Body.String())
	}
	var put struct {
		Layer   string `json:"layer"`
		Version int64  `json:"version"`
		Count   int    `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &put); err != nil {
		t.Fatalf("decode put response: %v", err)
	}
	if put.Layer != "demo" || put.Version != 1 || put.Count != 3 {
		t.Fatalf("put response %+v", put)
	}

	rr = doJSON(t, r, http.MethodGet, "/v1/layers/demo", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Layer-Version"); got != "1" {
		t.Fatalf("X-Layer-Version = %q, want 1", got)
	}
	if pts := decodePoints(t, rr); len(pts) != 3 {
		t.Fatalf("get: %d points, want 3", len(pts))
	}

	rr = doJSON(t, r, http.MethodGet, "/v1/layers/demo/resolved?radius=10", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("resolved: got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Layout-Source"); got != resolve.SourceComputed {
		t.Fatalf("first resolve source = %q, want %q", got, resolve.SourceComputed)
	}
	if got := rr.Header().Get("X-Duplicates"); got != "2" {
		t.Fatalf("X-Duplicates = %q, want 2", got)
	}
	out := decodePoints(t, rr)
	if out[0].Coordinates == out[1].Coordinates {
		t.Fatal("coincident pair not separated")
	}
	if out[2].Coordinates != [2]float64{-1.5, 38.0} {
		t.Fatalf("unique point must not move, got %v", out[2].Coordinates)
	}

	rr = doJSON(t, r, http.MethodGet, "/v1/layers/demo/resolved?radius=10", nil)
	if got := rr.Header().Get("X-Layout-Source"); got != resolve.SourceMemo {
		t.Fatalf("second resolve source = %q, want %q", got, resolve.SourceMemo)
	}

	rr = doJSON(t, r, http.MethodDelete, "/v1/layers/demo", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d, want 204", rr.Code)
	}
	rr = doJSON(t, r, http.MethodGet, "/v1/layers/demo", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d, want 404", rr.Code)
	}
}

func TestPutLayer_GeoJSONRoundTrip(t *testing.T) {
	r := newTestRouter(t)

	fc := geojson.FromPoints(threePoints())
	b, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/v1/layers/demo", bytes.NewReader(b))
	req.Header.Set("Content-Type", geojson.ContentTypeGeoJSON)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("put geojson: got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/layers/demo", nil)
	req.Header.Set("Accept", geojson.ContentTypeGeoJSON)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if ct := rr.Header().Get("Content-Type"); ct != geojson.ContentTypeGeoJSON {
		t.Fatalf("Content-Type = %q, want %q", ct, geojson.ContentTypeGeoJSON)
	}
	var got geojson.FeatureCollection
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode collection: %v", err)
	}
	if len(got.Features) != 3 {
		t.Fatalf("got %d features, want 3", len(got.Features))
	}
}

func TestGetLayers_MergedInRequestOrder(t *testing.T) {
	r := newTestRouter(t)

	a := []geo.Point{
		{SerialNumber: 1, Station: "a-1", Coordinates: [2]float64{-1.1, 37.6}, Status: geo.StatusGreen},
		{SerialNumber: 2, Station: "a-2", Coordinates: [2]float64{-1.2, 37.7}, Status: geo.StatusGreen},
	}
	b := []geo.Point{
		{SerialNumber: 2, Station: "b-2", Coordinates: [2]float64{-1.3, 37.8}, Status: geo.StatusRed},
		{SerialNumber: 3, Station: "b-3", Coordinates: [2]float64{-1.4, 37.9}, Status: geo.StatusRed},
	}
	if rr := doJSON(t, r, http.MethodPut, "/v1/layers/a", a); rr.Code != http.StatusOK {
		t.Fatalf("put a: got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := doJSON(t, r, http.MethodPut, "/v1/layers/b", b); rr.Code != http.StatusOK {
		t.Fatalf("put b: got %d: %s", rr.Code, rr.Body.String())
	}

	rr := doJSON(t, r, http.MethodGet, "/v1/layers?names=a,b,missing", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	got := decodePoints(t, rr)
	if len(got) != 3 {
		t.Fatalf("got %d points, want 3", len(got))
	}
	if got[1].Station != "a-2" {
		t.Fatalf("serial 2 should come from layer a, got station %q", got[1].Station)
	}

	rr = doJSON(t, r, http.MethodGet, "/v1/layers", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing names: got %d, want 400", rr.Code)
	}
}

func TestLayerNameValidation(t *testing.T) {
	r := newTestRouter(t)

	for _, name := range []string{"bad%20name", "demo!", strings.Repeat("x", 65)} {
		rr := doJSON(t, r, http.MethodPut, "/v1/layers/"+name, threePoints())
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("layer %q: got %d, want 400", name, rr.Code)
		}
	}
}

func TestResolve_MissingLayerIs404(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodGet, "/v1/layers/nope/resolved", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("error body malformed: %q", rr.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/layers/demo", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", rr.Code)
	}
	if methods := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "DELETE") {
		t.Fatalf("Allow-Methods = %q, want DELETE included", methods)
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := newTestRouter(t)

	doJSON(t, r, http.MethodPut, "/v1/layers/demo", threePoints())
	doJSON(t, r, http.MethodGet, "/v1/layers/demo", nil)

	rr := doJSON(t, r, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `route="/v1/layers/{layer}"`) {
		t.Fatal("expected the chi route pattern as label, not the raw path")
	}
	if strings.Contains(body, `route="/v1/layers/demo"`) {
		t.Fatal("raw path leaked into the route label")
	}
}

func TestRequestIDAssigned(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID should be assigned when absent")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "" {
		t.Fatalf("existing request id must not be reissued, got %q", got)
	}
}

func TestReadPoints_SniffsBareArrayWithoutContentType(t *testing.T) {
	r := newTestRouter(t)

	b, _ := json.Marshal(threePoints())
	req := httptest.NewRequest(http.MethodPost, "/v1/points/duplicates", bytes.NewReader(b))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}

	fc := geojson.FromPoints(threePoints())
	b, _ = json.Marshal(fc)
	req = httptest.NewRequest(http.MethodPost, "/v1/points/duplicates", bytes.NewReader(b))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("sniffed collection: got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodePoints(t, rr); len(got) != 2 {
		t.Fatalf("got %d duplicates, want 2", len(got))
	}
}

func TestFormatParamBeatsAccept(t *testing.T) {
	r := newTestRouter(t)
	doJSON(t, r, http.MethodPut, "/v1/layers/demo", threePoints())

	req := httptest.NewRequest(http.MethodGet, "/v1/layers/demo?format=geojson", nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if ct := rr.Header().Get("Content-Type"); ct != geojson.ContentTypeGeoJSON {
		t.Fatalf("Content-Type = %q, want %q", ct, geojson.ContentTypeGeoJSON)
	}
}

func TestSynthesizeCapIsConfigured(t *testing.T) {
	r := newTestRouter(t)

	rr := doJSON(t, r, http.MethodPost, fmt.Sprintf("/v1/points/synthesize?count=%d", 1000), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("at cap: got %d", rr.Code)
	}
	if got := decodePoints(t, rr); len(got) != 1000 {
		t.Fatalf("got %d points, want 1000", len(got))
	}
}
