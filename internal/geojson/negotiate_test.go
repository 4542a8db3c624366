package geojson

import "testing"

func TestNegotiateFormat_ParamWinsOverAccept(t *testing.T) {
	neg := NegotiateFormat(NegotiationInput{
		FormatParam:   "geojson",
		AcceptHeader:  "application/json",
		DefaultFormat: FormatPoints,
	})
	if neg.Format != FormatGeoJSON {
		t.Fatalf("format param must win; got %v", neg.Format)
	}
	if neg.ContentType != ContentTypeGeoJSON {
		t.Fatalf("content type: %q", neg.ContentType)
	}
}

func TestNegotiateFormat_AcceptQValues(t *testing.T) {
	neg := NegotiateFormat(NegotiationInput{
		AcceptHeader:  "application/json;q=0.5,application/geo+json;q=0.9",
		DefaultFormat: FormatPoints,
	})
	if neg.Format != FormatGeoJSON {
		t.Fatalf("expected geo+json via q-values, got %v", neg.Format)
	}
}

func TestNegotiateFormat_WildcardUsesDefault(t *testing.T) {
	neg := NegotiateFormat(NegotiationInput{
		AcceptHeader:  "*/*",
		DefaultFormat: FormatPoints,
	})
	if neg.Format != FormatPoints || neg.ContentType != ContentTypeJSON {
		t.Fatalf("wildcard should fall back to default, got %+v", neg)
	}
}

func TestNegotiateFormat_NoSignalUsesDefault(t *testing.T) {
	neg := NegotiateFormat(NegotiationInput{DefaultFormat: FormatGeoJSON})
	if neg.Format != FormatGeoJSON {
		t.Fatalf("want default geojson, got %+v", neg)
	}
}
