// Package server exposes the point operations and the layer pipeline over
// HTTP. Point-set responses are negotiated between a bare JSON array and a
// GeoJSON FeatureCollection; request bodies accept either encoding.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Berto-e/spiderfy/internal/config"
	"github.com/Berto-e/spiderfy/internal/geo"
	"github.com/Berto-e/spiderfy/internal/geojson"
	"github.com/Berto-e/spiderfy/internal/layerstore"
	mylog "github.com/Berto-e/spiderfy/internal/logger"
	"github.com/Berto-e/spiderfy/internal/overlap"
	"github.com/Berto-e/spiderfy/internal/pointgen"
	"github.com/Berto-e/spiderfy/internal/resolve"
)

const maxBodyBytes = 32 << 20

// Layer names travel into Redis keys and Kafka message keys, so the
// accepted alphabet is pinned down at the HTTP boundary.
var layerNameRe = regexp.MustCompile(`^[a-zA-Z0-9_:-]{1,64}$`)

// globalRand adapts the package-level math/rand functions, which are safe
// for concurrent use. A bare *rand.Rand is not, and the generator is shared
// across requests.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) Intn(n int) int   { return rand.Intn(n) }

type API struct {
	cfg config.Config
	svc *resolve.Service
	gen *pointgen.Generator
	log *slog.Logger
}

func NewAPI(cfg config.Config, svc *resolve.Service, log *slog.Logger) (*API, error) {
	if svc == nil {
		return nil, errors.New("server: resolve service is required")
	}
	gen, err := pointgen.New(pointgen.WithSource(globalRand{}))
	if err != nil {
		return nil, err
	}
	return &API{cfg: cfg, svc: svc, gen: gen, log: log}, nil
}

// Synthesize handles POST /v1/points/synthesize?count=N&duplicates=true.
func (a *API) Synthesize(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("count"))
	if raw == "" {
		writeError(w, fmt.Errorf("%w: count is required", geo.ErrInvalidArgument))
		return
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, fmt.Errorf("%w: count must be an integer, got %q", geo.ErrInvalidArgument, raw))
		return
	}
	if count > a.cfg.SynthMax {
		writeError(w, fmt.Errorf("%w: count %d exceeds limit %d", geo.ErrInvalidArgument, count, a.cfg.SynthMax))
		return
	}

	var pts []geo.Point
	if queryBool(r, "duplicates") {
		pts, err = a.gen.GenerateWithDuplicates(count)
	} else {
		pts, err = a.gen.Generate(count)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writePoints(w, r, http.StatusOK, pts)
}

// Duplicates handles POST /v1/points/duplicates?keyer=exact. The response
// is the subsequence of input points whose key collides with another
// point's, in input order.
func (a *API) Duplicates(w http.ResponseWriter, r *http.Request) {
	pts, err := readPoints(r)
	if err != nil {
		writeError(w, err)
		return
	}
	k, err := overlap.ParseKeyer(strings.TrimSpace(r.URL.Query().Get("keyer")))
	if err != nil {
		writeError(w, err)
		return
	}
	dups, err := overlap.DetectDuplicatesBy(pts, k)
	if err != nil {
		writeError(w, err)
		return
	}
	writePoints(w, r, http.StatusOK, dups)
}

// SpiderfyPoints handles POST /v1/points/spiderfy?radius=30. The whole
// body is treated as one coincident group and fanned out around its
// centroid.
func (a *API) SpiderfyPoints(w http.ResponseWriter, r *http.Request) {
	pts, err := readPoints(r)
	if err != nil {
		writeError(w, err)
		return
	}
	radius, err := queryFloat(r, "radius", a.cfg.DefaultRadius)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := overlap.Spiderfy(pts, radius)
	if err != nil {
		writeError(w, err)
		return
	}
	writePoints(w, r, http.StatusOK, out)
}

// JitterPoints handles POST /v1/points/jitter?factor=0.00001.
func (a *API) JitterPoints(w http.ResponseWriter, r *http.Request) {
	pts, err := readPoints(r)
	if err != nil {
		writeError(w, err)
		return
	}
	factor, err := queryFloat(r, "factor", overlap.DefaultJitterFactor)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := overlap.Jitter(pts, factor)
	if err != nil {
		writeError(w, err)
		return
	}
	writePoints(w, r, http.StatusOK, out)
}

// PutLayer handles PUT /v1/layers/{layer}.
func (a *API) PutLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := layerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pts, err := readPoints(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ver, err := a.svc.Put(r.Context(), layer, pts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Layer   string `json:"layer"`
		Version int64  `json:"version"`
		Count   int    `json:"count"`
	}{Layer: layer, Version: ver, Count: len(pts)})
}

// GetLayer handles GET /v1/layers/{layer}.
func (a *API) GetLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := layerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pts, ver, err := a.svc.Get(r.Context(), layer)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Layer-Version", strconv.FormatInt(ver, 10))
	writePoints(w, r, http.StatusOK, pts)
}

// DeleteLayer handles DELETE /v1/layers/{layer}. Deleting an absent layer
// succeeds; the operation is idempotent.
func (a *API) DeleteLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := layerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.svc.Delete(r.Context(), layer); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLayers handles GET /v1/layers?names=a,b, returning the named layers
// merged in request order. Unknown names are skipped rather than failing
// the whole read.
func (a *API) GetLayers(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("names"))
	if raw == "" {
		writeError(w, fmt.Errorf("%w: names is required", geo.ErrInvalidArgument))
		return
	}
	var names []string
	for _, n := range strings.Split(raw, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !layerNameRe.MatchString(n) {
			writeError(w, fmt.Errorf("%w: layer name %q must match %s", geo.ErrInvalidArgument, n, layerNameRe))
			return
		}
		names = append(names, n)
	}

	sets, err := a.svc.GetMany(r.Context(), names)
	if err != nil {
		writeError(w, err)
		return
	}
	ordered := make([][]geo.Point, 0, len(names))
	for _, n := range names {
		if pts, ok := sets[n]; ok {
			ordered = append(ordered, pts)
		}
	}
	if len(ordered) != len(names) {
		a.log.Warn("merged read skipped missing layers",
			"requested", len(names), "found", len(ordered))
	}
	writePoints(w, r, http.StatusOK, geojson.MergePoints(ordered...))
}

// ResolveLayer handles GET /v1/layers/{layer}/resolved?radius=30&keyer=exact,
// the full duplicate-detection plus spiderfy pipeline. Response headers
// carry the layer version and which tier served the layout.
func (a *API) ResolveLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := layerParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	radius, err := queryFloat(r, "radius", a.cfg.DefaultRadius)
	if err != nil {
		writeError(w, err)
		return
	}
	keyer := strings.TrimSpace(r.URL.Query().Get("keyer"))
	if keyer == "" {
		keyer = a.cfg.DefaultKeyer
	}

	ctx := mylog.WithLayer(r.Context(), layer)
	pts, meta, err := a.svc.Resolve(ctx, layer, resolve.Params{Radius: radius, Keyer: keyer})
	if err != nil {
		writeError(w, err)
		return
	}
	a.log.LogAttrs(ctx, slog.LevelDebug, "layer resolved",
		slog.String("source", meta.Source),
		slog.Int64("version", meta.Version),
		slog.Int("duplicates", meta.Duplicates))
	w.Header().Set("X-Layer-Version", strconv.FormatInt(meta.Version, 10))
	w.Header().Set("X-Layout-Source", meta.Source)
	w.Header().Set("X-Duplicates", strconv.Itoa(meta.Duplicates))
	writePoints(w, r, http.StatusOK, pts)
}

func layerParam(r *http.Request) (string, error) {
	layer := chi.URLParam(r, "layer")
	if !layerNameRe.MatchString(layer) {
		return "", fmt.Errorf("%w: layer name %q must match %s", geo.ErrInvalidArgument, layer, layerNameRe)
	}
	return layer, nil
}

// readPoints decodes the request body as a bare point array or a GeoJSON
// FeatureCollection. The declared Content-Type wins; otherwise the first
// JSON token decides.
func readPoints(r *http.Request) ([]geo.Point, error) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	asCollection := false
	if mt, _, mterr := mime.ParseMediaType(r.Header.Get("Content-Type")); mterr == nil && mt == geojson.ContentTypeGeoJSON {
		asCollection = true
	} else if tb := bytes.TrimLeft(body, " \t\r\n"); len(tb) > 0 && tb[0] == '{' {
		asCollection = true
	}

	if asCollection {
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(body, &fc); err != nil {
			return nil, fmt.Errorf("%w: feature collection: %v", geo.ErrInvalidArgument, err)
		}
		return geojson.ToPoints(fc)
	}
	var pts []geo.Point
	if err := json.Unmarshal(body, &pts); err != nil {
		return nil, fmt.Errorf("%w: points array: %v", geo.ErrInvalidArgument, err)
	}
	return pts, nil
}

func writePoints(w http.ResponseWriter, r *http.Request, status int, pts []geo.Point) {
	n := geojson.NegotiateFormat(geojson.NegotiationInput{
		AcceptHeader: r.Header.Get("Accept"),
		FormatParam:  r.URL.Query().Get("format"),
	})
	w.Header().Set("Content-Type", n.ContentType)
	w.WriteHeader(status)
	if n.Format == geojson.FormatGeoJSON {
		_ = json.NewEncoder(w).Encode(geojson.FromPoints(pts))
		return
	}
	if pts == nil {
		pts = []geo.Point{}
	}
	_ = json.NewEncoder(w).Encode(pts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, geo.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, layerstore.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", geo.ErrInvalidArgument, name, raw)
	}
	return f, nil
}

func queryBool(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))) {
	case "1", "t", "true", "y", "yes":
		return true
	}
	return false
}
