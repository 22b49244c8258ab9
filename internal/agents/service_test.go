package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/finchat-ai/finchat/internal/config"
	"github.com/finchat-ai/finchat/pkg/models"
)

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/agent-endpoints/fin-ep", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer cat-token" {
			t.Errorf("missing catalog token, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":         "fin-ep",
			"display_name": "Finance Assistant",
			"description":  "Answers finance questions",
			"instructions": "Be concise.",
			"status":       "ONLINE",
		})
	})
	mux.HandleFunc("/api/2.0/agent-endpoints/fin-ep/tools", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tools": []map[string]any{
				{
					"display_name": "Transaction lookup",
					"description":  "Queries transactions",
					"type":         "sql",
					"tables":       []string{"transactions"},
				},
			},
		})
	})
	return httptest.NewServer(mux)
}

func TestCatalogClientFetchDescriptor(t *testing.T) {
	srv := newCatalogServer(t)
	defer srv.Close()

	client := NewCatalogClient(srv.URL, "cat-token", 5*time.Second, nil)
	desc, err := client.FetchDescriptor(context.Background(), "fin-ep")
	if err != nil {
		t.Fatalf("FetchDescriptor failed: %v", err)
	}
	if desc.Name != "Finance Assistant" {
		t.Errorf("expected display name, got %q", desc.Name)
	}
	if desc.Instructions != "Be concise." {
		t.Errorf("expected instructions, got %q", desc.Instructions)
	}
	if desc.Status != models.StatusOnline {
		t.Errorf("expected ONLINE status, got %q", desc.Status)
	}
	if len(desc.Tools) != 1 || desc.Tools[0].DisplayName != "Transaction lookup" {
		t.Errorf("unexpected tools: %+v", desc.Tools)
	}
}

func TestCatalogClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, "", 5*time.Second, nil)
	if _, err := client.FetchDescriptor(context.Background(), "fin-ep"); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestServiceResolve(t *testing.T) {
	srv := newCatalogServer(t)
	defer srv.Close()

	catalog := NewCatalogClient(srv.URL, "cat-token", 5*time.Second, nil)
	cache := NewCache(CacheConfig{Fetch: catalog.FetchDescriptor})
	svc := NewService([]config.AgentConfig{
		{ID: "finance", Name: "Finance", EndpointName: "fin-ep"},
	}, cache)

	desc, err := svc.Resolve(context.Background(), "finance")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if desc.EndpointName != "fin-ep" {
		t.Errorf("unexpected descriptor: %+v", desc)
	}

	if _, err := svc.Resolve(context.Background(), "unknown"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}

	endpoint, ok := svc.Endpoint("finance")
	if !ok || endpoint != "fin-ep" {
		t.Errorf("unexpected endpoint: %q %v", endpoint, ok)
	}
	if _, ok := svc.Endpoint("unknown"); ok {
		t.Error("unknown agent must not resolve an endpoint")
	}

	if got := len(svc.List()); got != 1 {
		t.Errorf("expected 1 configured agent, got %d", got)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.EndpointStatus
	}{
		{"ONLINE", models.StatusOnline},
		{"OFFLINE", models.StatusOffline},
		{"PROVISIONING", models.StatusProvisioning},
		{"ERROR", models.StatusError},
		{"", models.StatusUnknown},
		{"whatever", models.StatusUnknown},
	}
	for _, tt := range tests {
		if got := parseStatus(tt.in); got != tt.want {
			t.Errorf("parseStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
