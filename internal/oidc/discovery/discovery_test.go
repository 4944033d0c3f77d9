package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/dropDatabas3/gatehouse/internal/autherr"
	"github.com/dropDatabas3/gatehouse/internal/cache/memory"
)

func docFor(issuer string) map[string]any {
	return map[string]any{
		"issuer":                 issuer,
		"authorization_endpoint": issuer + "/auth",
		"token_endpoint":         issuer + "/token",
		"userinfo_endpoint":      issuer + "/userinfo",
	}
}

func newDiscoveryServer(t *testing.T, mutate func(doc map[string]any), hits *int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		doc := docFor(srv.URL)
		if mutate != nil {
			mutate(doc)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(memory.New(time.Minute), WithInsecureHTTP(true))
}

func TestResolve_AppliesDefaults(t *testing.T) {
	srv := newDiscoveryServer(t, nil, nil)
	r := newResolver(t)

	pc, err := r.Resolve(context.Background(), srv.URL+"/.well-known/openid-configuration")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pc.Issuer != srv.URL {
		t.Fatalf("issuer = %q, want %q", pc.Issuer, srv.URL)
	}
	if !reflect.DeepEqual(pc.ResponseTypesSupported, []string{"code"}) {
		t.Fatalf("response_types default = %v", pc.ResponseTypesSupported)
	}
	if !reflect.DeepEqual(pc.SubjectTypesSupported, []string{"public"}) {
		t.Fatalf("subject_types default = %v", pc.SubjectTypesSupported)
	}
	if !reflect.DeepEqual(pc.IDTokenSigningAlgValues, []string{"RS256"}) {
		t.Fatalf("signing alg default = %v", pc.IDTokenSigningAlgValues)
	}
	if !pc.SupportsAuthorizationCode() {
		t.Fatal("expected authorization code support after defaulting")
	}
}

func TestResolve_SecondCallHitsCache(t *testing.T) {
	hits := 0
	srv := newDiscoveryServer(t, nil, &hits)
	r := newResolver(t)

	url := srv.URL + "/.well-known/openid-configuration"
	first, err := r.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected exactly 1 network fetch, got %d", hits)
	}
	// Round-trip: the cached copy must be field-for-field identical.
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached config differs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestResolve_MissingRequiredFieldNotCached(t *testing.T) {
	for _, field := range []string{"issuer", "authorization_endpoint", "token_endpoint", "userinfo_endpoint"} {
		hits := 0
		srv := newDiscoveryServer(t, func(doc map[string]any) { delete(doc, field) }, &hits)
		r := newResolver(t)
		url := srv.URL + "/.well-known/openid-configuration"

		for i := 0; i < 2; i++ {
			_, err := r.Resolve(context.Background(), url)
			if !autherr.IsKind(err, autherr.KindDiscovery) {
				t.Fatalf("field %s: expected discovery error, got %v", field, err)
			}
		}
		// A failed resolution must not leave a cache entry behind.
		if hits != 2 {
			t.Fatalf("field %s: expected 2 fetches (nothing cached), got %d", field, hits)
		}
	}
}

func TestResolve_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newResolver(t)
	_, err := r.Resolve(context.Background(), srv.URL)
	if !autherr.IsKind(err, autherr.KindDiscovery) {
		t.Fatalf("expected discovery error, got %v", err)
	}
}

func TestResolve_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	r := newResolver(t)
	_, err := r.Resolve(context.Background(), srv.URL)
	if !autherr.IsKind(err, autherr.KindDiscovery) {
		t.Fatalf("expected discovery error, got %v", err)
	}
}

func TestResolve_RequiresHTTPSWithoutOverride(t *testing.T) {
	srv := newDiscoveryServer(t, nil, nil)
	r := NewResolver(memory.New(time.Minute)) // no insecure override

	_, err := r.Resolve(context.Background(), srv.URL)
	if !autherr.IsKind(err, autherr.KindDiscovery) {
		t.Fatalf("expected discovery error for plain-http endpoints, got %v", err)
	}
}

func TestResolve_RelativeEndpointRejected(t *testing.T) {
	srv := newDiscoveryServer(t, func(doc map[string]any) {
		doc["token_endpoint"] = "/token"
	}, nil)
	r := newResolver(t)

	_, err := r.Resolve(context.Background(), srv.URL)
	if !autherr.IsKind(err, autherr.KindDiscovery) {
		t.Fatalf("expected discovery error for relative URL, got %v", err)
	}
}

func TestClear(t *testing.T) {
	hits := 0
	srv := newDiscoveryServer(t, nil, &hits)
	r := newResolver(t)
	url := srv.URL + "/.well-known/openid-configuration"

	if _, err := r.Resolve(context.Background(), url); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.Clear(url)
	if _, err := r.Resolve(context.Background(), url); err != nil {
		t.Fatalf("resolve after clear: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected refetch after Clear, hits=%d", hits)
	}

	r.Clear("") // clear all
	if _, err := r.Resolve(context.Background(), url); err != nil {
		t.Fatalf("resolve after clear-all: %v", err)
	}
	if hits != 3 {
		t.Fatalf("expected refetch after clear-all, hits=%d", hits)
	}
}

func TestFromManualBase(t *testing.T) {
	pc, err := FromManualBase("https://idp.example/")
	if err != nil {
		t.Fatalf("manual base: %v", err)
	}
	if pc.TokenEndpoint != "https://idp.example/oauth2/token" {
		t.Fatalf("token endpoint = %q", pc.TokenEndpoint)
	}
	if pc.AuthorizationEndpoint != "https://idp.example/oauth2/authorize" {
		t.Fatalf("authorization endpoint = %q", pc.AuthorizationEndpoint)
	}
	if pc.UserinfoEndpoint != "https://idp.example/oauth2/userinfo" {
		t.Fatalf("userinfo endpoint = %q", pc.UserinfoEndpoint)
	}

	if _, err := FromManualBase("   "); err == nil {
		t.Fatal("expected error for empty base")
	}
}
