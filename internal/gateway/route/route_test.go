package route

import "testing"

func TestTable_Lookup_LongestPrefixWins(t *testing.T) {
	tbl := NewTable([]Route{
		{Name: "root", PathPrefix: "/", Target: Target{Host: "root-svc"}},
		{Name: "api", PathPrefix: "/api", Target: Target{Host: "api-svc"}},
		{Name: "api-v2", PathPrefix: "/api/v2", Target: Target{Host: "api-v2-svc"}},
	})

	res := tbl.Lookup("gateway.local", "/api/v2/jobs", "GET")
	if res.NotFound || res.MethodNotAllowed {
		t.Fatalf("unexpected non-match: %+v", res)
	}
	if res.Route.Name != "api-v2" {
		t.Errorf("matched route = %s, want api-v2", res.Route.Name)
	}
}

func TestTable_Lookup_HostMismatchIsNotFound(t *testing.T) {
	tbl := NewTable([]Route{
		{Name: "only", Host: "a.example.com", PathPrefix: "/", Target: Target{Host: "svc"}},
	})

	res := tbl.Lookup("b.example.com", "/x", "GET")
	if !res.NotFound {
		t.Fatalf("expected NotFound, got %+v", res)
	}
}

func TestTable_Lookup_MethodNotAllowed(t *testing.T) {
	tbl := NewTable([]Route{
		{
			Name:       "readonly",
			PathPrefix: "/jobs",
			Methods:    map[string]bool{"GET": true},
			Target:     Target{Host: "svc"},
		},
	})

	res := tbl.Lookup("gateway.local", "/jobs/1", "DELETE")
	if !res.MethodNotAllowed {
		t.Fatalf("expected MethodNotAllowed, got %+v", res)
	}
	if len(res.AllowedMethods) != 1 || res.AllowedMethods[0] != "GET" {
		t.Errorf("AllowedMethods = %v, want [GET]", res.AllowedMethods)
	}
}

func TestTable_Lookup_RESTBindingSelectsFirstMatch(t *testing.T) {
	tbl := NewTable([]Route{
		{
			Name:       "jobs",
			PathPrefix: "/api",
			Target:     Target{Host: "svc"},
			Bindings: []RESTBinding{
				{HTTPMethod: "GET", Matches: func(p string) bool { return p == "/api/jobs" }},
				{HTTPMethod: "GET", Matches: func(p string) bool { return p == "/api/jobs/status" }},
			},
		},
	})

	res := tbl.Lookup("gateway.local", "/api/jobs/status", "GET")
	if res.Binding == nil {
		t.Fatal("expected a binding match")
	}
	if res.Route.Name != "jobs" {
		t.Errorf("route = %s, want jobs", res.Route.Name)
	}
}

func TestTable_Lookup_NoPathMatchIsNotFound(t *testing.T) {
	tbl := NewTable([]Route{
		{Name: "api", PathPrefix: "/api", Target: Target{Host: "svc"}},
	})
	res := tbl.Lookup("gateway.local", "/other", "GET")
	if !res.NotFound {
		t.Fatalf("expected NotFound, got %+v", res)
	}
}

func TestIsDataAPIRoute(t *testing.T) {
	if !IsDataAPIRoute("/api/trac-data/v1/download", "trac-data") {
		t.Error("expected match for data API path")
	}
	if IsDataAPIRoute("/api/trac-meta/v1/jobs", "trac-data") {
		t.Error("unexpected match for non-data-API path")
	}
	if IsDataAPIRoute("/anything", "") {
		t.Error("empty dataAPIName must never match")
	}
}
