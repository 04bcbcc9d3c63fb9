package telegram_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"edicola/internal/telegram"
	"edicola/internal/testsupport"
)

func newTestClient(t *testing.T, handler http.Handler) *telegram.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithTelegram("bot-token", "-100123"))
	client, err := telegram.NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client.WithBaseURL(srv.URL)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := telegram.NewClient(cfg, nil); !errors.Is(err, telegram.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendDocumentReturnsIdentifiers(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "gazzetta_20260101.pdf")
	if err := os.WriteFile(doc, []byte("%PDF-fake"), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	thumb := filepath.Join(dir, "gazzetta_20260101.jpg")
	if err := os.WriteFile(thumb, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatalf("write thumbnail: %v", err)
	}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botbot-token/sendDocument" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "-100123" {
			t.Errorf("unexpected chat_id %q", got)
		}
		if got := r.FormValue("caption"); got != "Gazzetta — 1 gennaio 2026\n\n#Gazzetta" {
			t.Errorf("unexpected caption %q", got)
		}
		file, header, err := r.FormFile("document")
		if err != nil {
			t.Errorf("document part missing: %v", err)
		} else {
			defer file.Close()
			if header.Filename != "gazzetta_20260101.pdf" {
				t.Errorf("unexpected filename %q", header.Filename)
			}
			body, _ := io.ReadAll(file)
			if string(body) != "%PDF-fake" {
				t.Errorf("unexpected upload body %q", body)
			}
		}
		preview, _, err := r.FormFile("thumbnail")
		if err != nil {
			t.Errorf("thumbnail part missing: %v", err)
		} else {
			defer preview.Close()
			body, _ := io.ReadAll(preview)
			if string(body) != "jpeg-bytes" {
				t.Errorf("unexpected thumbnail body %q", body)
			}
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{
			"message_id":512,
			"chat":{"id":-100123},
			"document":{"file_id":"doc-file-id"}
		}}`))
	}))

	delivery, err := client.SendDocument(context.Background(), doc, thumb, "Gazzetta — 1 gennaio 2026\n\n#Gazzetta")
	if err != nil {
		t.Fatalf("send document: %v", err)
	}
	if delivery.ChatID != -100123 || delivery.MessageID != 512 || delivery.FileID != "doc-file-id" {
		t.Fatalf("unexpected delivery %+v", delivery)
	}
}

func TestSendDocumentSurfacesAPIError(t *testing.T) {
	doc := filepath.Join(t.TempDir(), "x.pdf")
	if err := os.WriteFile(doc, []byte("x"), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))

	if _, err := client.SendDocument(context.Background(), doc, "", ""); err == nil {
		t.Fatal("expected an error when the api reports failure")
	}
}

func TestFetchDocumentFollowsFilePath(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/botbot-token/getFile":
			if got := r.URL.Query().Get("file_id"); got != "doc-file-id" {
				t.Errorf("unexpected file_id %q", got)
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_path":"documents/file_42.pdf"}}`))
		case "/file/botbot-token/documents/file_42.pdf":
			_, _ = w.Write([]byte("document-bytes"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	body, err := client.FetchDocument(context.Background(), "doc-file-id")
	if err != nil {
		t.Fatalf("fetch document: %v", err)
	}
	if string(body) != "document-bytes" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFetchByMessageValidatesIdentifiers(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid identifiers")
	}))

	if _, err := client.FetchByMessage(context.Background(), 0, 5, "f"); err == nil {
		t.Fatal("expected error for missing chat id")
	}
	if _, err := client.FetchByMessage(context.Background(), 1, 5, ""); err == nil {
		t.Fatal("expected error for missing file id")
	}
}
