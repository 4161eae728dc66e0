package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPToolGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("header not forwarded")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	tool := NewHTTPTool()
	out, err := tool.Call(context.Background(), map[string]interface{}{
		"url":     server.URL,
		"headers": map[string]interface{}{"X-Test": "yes"},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["status_code"] != http.StatusOK {
		t.Errorf("status = %v", out["status_code"])
	}
	if !strings.Contains(out["body"].(string), `"ok"`) {
		t.Errorf("body = %v", out["body"])
	}
}

func TestHTTPToolPostBody(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		got = string(buf)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	tool := NewHTTPTool()
	out, err := tool.Call(context.Background(), map[string]interface{}{
		"url":    server.URL,
		"method": "post",
		"body":   `{"name": "test"}`,
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["status_code"] != http.StatusCreated || got != `{"name": "test"}` {
		t.Errorf("status = %v, server saw %q", out["status_code"], got)
	}
}

func TestHTTPToolRejectsBadInput(t *testing.T) {
	tool := NewHTTPTool()
	if _, err := tool.Call(context.Background(), map[string]interface{}{}); err == nil {
		t.Error("missing url accepted")
	}
	if _, err := tool.Call(context.Background(), map[string]interface{}{
		"url": "http://example.invalid", "method": "DELETE",
	}); err == nil {
		t.Error("unsupported method accepted")
	}
}

func TestHTTPToolDescribe(t *testing.T) {
	desc, schema := NewHTTPTool().Describe()
	if desc == "" || schema["type"] != "object" {
		t.Errorf("Describe() = %q, %v", desc, schema)
	}
}
