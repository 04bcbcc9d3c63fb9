package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"edicola/internal/api"
)

func runCommand(t *testing.T, handler http.Handler, args ...string) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--api-url", srv.URL))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestStatusCommandRendersHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.HealthView{Running: true, Total: 4, Uploaded: 2})
	})

	out := runCommand(t, mux, "status")
	if !strings.Contains(out, "running") {
		t.Fatalf("expected running state in output:\n%s", out)
	}
	if !strings.Contains(out, "delivered") {
		t.Fatalf("expected delivered row in output:\n%s", out)
	}
}

func TestIssuesRegisterCommand(t *testing.T) {
	var got map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/workflows", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.WorkflowView{
			PublicationName: got["publication_name"],
			IssueDate:       got["issue_date"],
			Stage:           "registered",
		})
	})

	out := runCommand(t, mux, "issues", "register", "gazzetta", "20260827")
	if got["publication_name"] != "gazzetta" || got["issue_date"] != "20260827" {
		t.Fatalf("unexpected payload %v", got)
	}
	if !strings.Contains(out, "gazzetta/20260827 is registered") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestFetchCommandWritesFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/workflows/gazzetta/20260827/document", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-content"))
	})

	target := filepath.Join(t.TempDir(), "issue.pdf")
	runCommand(t, mux, "fetch", "gazzetta", "20260827", "--output", target)

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read fetched file: %v", err)
	}
	if string(data) != "%PDF-content" {
		t.Fatalf("unexpected file contents %q", data)
	}
}

func TestCommandSurfacesAPIErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/publications/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "not found: publication missing"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"publications", "remove", "missing", "--api-url", srv.URL})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected api error to surface, got %v", err)
	}
}
