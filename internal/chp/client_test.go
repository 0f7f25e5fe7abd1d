package chp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	nsAtom     = "http://www.w3.org/2005/Atom"
	nsRestAtom = "http://docs.oasis-open.org/ns/cmis/restatom/200908/"
	nsCore     = "http://docs.oasis-open.org/ns/cmis/core/200908/"
)

func cmisFeed(values ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<atom:feed xmlns:atom="` + nsAtom + `" xmlns:cmisra="` + nsRestAtom + `" xmlns:cmis="` + nsCore + `">`)
	for _, v := range values {
		b.WriteString(`<atom:entry><cmisra:object><cmis:properties>`)
		b.WriteString(`<cmis:propertyId propertyDefinitionId="cmis:objectId"><cmis:value>` + v + `</cmis:value></cmis:propertyId>`)
		b.WriteString(`</cmis:properties></cmisra:object></atom:entry>`)
	}
	b.WriteString(`</atom:feed>`)
	return b.String()
}

func TestNewClient_NormalizesEndpoint(t *testing.T) {
	c := NewClient("https://chp.example.com/cmis", "tok")
	if c.Endpoint() != "https://chp.example.com/cmis/" {
		t.Errorf("Endpoint() = %q", c.Endpoint())
	}
	if !c.Configured() {
		t.Error("Configured() = false, want true")
	}
	if NewClient("", "tok").Configured() {
		t.Error("empty endpoint should not be configured")
	}
}

func TestQueryAssetID_Success(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, cmisFeed("xyz1", "other"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/cmis/", "secret")
	res, err := c.QueryAssetID(context.Background(), ByXURN("PRI*69815710", Picture))
	if err != nil {
		t.Fatalf("QueryAssetID: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", res.Status)
	}
	if res.AssetID != "xyz1" {
		t.Errorf("AssetID = %q, want xyz1", res.AssetID)
	}
	if gotPath != "/cmis/query" {
		t.Errorf("path = %q, want /cmis/query", gotPath)
	}
	if !strings.Contains(gotQuery, "otex__DMG_INFO__XURN=%27PRI*69815710%27") || !strings.HasSuffix(gotQuery, "&includeRelationships=source") {
		t.Errorf("query = %q", gotQuery)
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("secret:"))
	if gotAuth != wantAuth {
		t.Errorf("Authorization = %q, want %q", gotAuth, wantAuth)
	}
}

func TestQueryAssetID_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, cmisFeed("ignored"))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "t").QueryAssetID(context.Background(), ByXURN("X", Picture))
	if err != nil {
		t.Fatalf("QueryAssetID: %v", err)
	}
	if res.Status != http.StatusNotFound || res.AssetID != "" {
		t.Errorf("result = %+v, want 404 without asset", res)
	}
}

func TestQueryAssetID_MalformedXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<feed><entry>")
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "t").QueryAssetID(context.Background(), ByXURN("X", Picture))
	if err != nil {
		t.Fatalf("QueryAssetID: %v", err)
	}
	if res.Status != http.StatusOK || res.AssetID != "" {
		t.Errorf("result = %+v, want 200 without asset", res)
	}
}

func TestQueryAssetID_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res, err := NewClient(url, "t").QueryAssetID(context.Background(), ByXURN("X", Picture))
	if err == nil {
		t.Fatal("expected transport error")
	}
	if res.Status != 0 {
		t.Errorf("Status = %d, want 0", res.Status)
	}
}

func TestParseAssetID(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{"first value", cmisFeed("A1", "B2"), "A1", true},
		{"no entries", cmisFeed(), "", false},
		{"empty value", cmisFeed(""), "", false},
		{"wrong namespace", `<feed xmlns="http://www.w3.org/2005/Atom"><entry><object><properties><propertyId><value>Z</value></propertyId></properties></object></entry></feed>`, "", false},
		{"not xml", "Service Unavailable", "", false},
		{
			"latin1 charset",
			`<?xml version="1.0" encoding="ISO-8859-1"?>` + strings.TrimPrefix(cmisFeed("L1"), `<?xml version="1.0" encoding="UTF-8"?>`),
			"L1", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseAssetID(strings.NewReader(tt.body))
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseAssetID = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPostUsage(t *testing.T) {
	var gotMethod, gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "<created/>")
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL+"/repo", "t").PostUsage(context.Background(), "<usage/>")
	if err != nil {
		t.Fatalf("PostUsage: %v", err)
	}
	if resp.Status != http.StatusCreated || resp.Body != "<created/>" {
		t.Errorf("response = %+v", resp)
	}
	if gotMethod != http.MethodPost || gotPath != "/repo/children" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotType != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", gotType)
	}
	if gotBody != "<usage/>" {
		t.Errorf("body = %q", gotBody)
	}
}
