package geojson

import (
	"strconv"
	"strings"
)

type Format int

const (
	// FormatPoints is a bare JSON array of points, the default the
	// dashboard's data hooks expect.
	FormatPoints Format = iota
	FormatGeoJSON
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeGeoJSON = "application/geo+json"
)

type NegotiationInput struct {
	AcceptHeader  string
	FormatParam   string
	DefaultFormat Format
}

type Negotiation struct {
	Format      Format
	ContentType string
}

// NegotiateFormat picks the response encoding. An explicit format query
// parameter wins over the Accept header; Accept is scanned with q-values;
// otherwise the default applies.
func NegotiateFormat(in NegotiationInput) Negotiation {
	switch strings.ToLower(strings.TrimSpace(in.FormatParam)) {
	case "geojson", ContentTypeGeoJSON:
		return Negotiation{Format: FormatGeoJSON, ContentType: ContentTypeGeoJSON}
	case "json", ContentTypeJSON:
		return Negotiation{Format: FormatPoints, ContentType: ContentTypeJSON}
	}

	ah := strings.ToLower(in.AcceptHeader)
	bestQ := -1.0
	best := Negotiation{}
	for part := range strings.SplitSeq(ah, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		mt := token
		params := ""
		if i := strings.Index(token, ";"); i >= 0 {
			mt = strings.TrimSpace(token[:i])
			params = token[i+1:]
		}
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			p = strings.TrimSpace(p)
			if after, ok := strings.CutPrefix(p, "q="); ok {
				if v, err := strconv.ParseFloat(after, 64); err == nil {
					q = v
				}
			}
		}
		var cand *Negotiation
		switch {
		case mt == "*/*":
			tmp := defaultNegotiation(in.DefaultFormat)
			cand = &tmp
		case strings.Contains(mt, "geo+json"):
			tmp := Negotiation{Format: FormatGeoJSON, ContentType: ContentTypeGeoJSON}
			cand = &tmp
		case mt == ContentTypeJSON:
			tmp := Negotiation{Format: FormatPoints, ContentType: ContentTypeJSON}
			cand = &tmp
		}
		if cand != nil && q > bestQ {
			bestQ = q
			best = *cand
		}
	}
	if bestQ >= 0 {
		return best
	}
	return defaultNegotiation(in.DefaultFormat)
}

func defaultNegotiation(f Format) Negotiation {
	if f == FormatGeoJSON {
		return Negotiation{Format: FormatGeoJSON, ContentType: ContentTypeGeoJSON}
	}
	return Negotiation{Format: FormatPoints, ContentType: ContentTypeJSON}
}
