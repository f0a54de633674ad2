package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestExecute_SendsAuthorizedJSONRequest はコマンドがBearer認証付きの
// JSONボディでPOSTされることを検証する。
func TestExecute_SendsAuthorizedJSONRequest(t *testing.T) {
	var gotAuth, gotContentType, gotCommand string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		var body consoleRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		gotCommand = body.Command
		json.NewEncoder(w).Encode(consoleResponse{Success: true, Response: "Added Steve to the whitelist"})
	}))
	defer server.Close()

	client := NewConsoleClient(server.Client(), server.URL, "secret-key", testLogger())
	result, err := client.Execute(context.Background(), "whitelist add Steve")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q, want Bearer secret-key", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotCommand != "whitelist add Steve" {
		t.Errorf("command = %q", gotCommand)
	}
	if !result.Success || result.Response != "Added Steve to the whitelist" {
		t.Errorf("result = %+v", result)
	}
}

// TestExecute_ServerReportedFailure はサーバーが明示的に失敗を返した場合、
// errorではなくSuccess=falseの結果になることを検証する。
func TestExecute_ServerReportedFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(consoleResponse{Success: false, Response: "Player not found"})
	}))
	defer server.Close()

	client := NewConsoleClient(server.Client(), server.URL, "key", testLogger())
	result, err := client.Execute(context.Background(), "kick Steve bye")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Error("result should not be success")
	}
	if result.Response != "Player not found" {
		t.Errorf("response = %q", result.Response)
	}
}

// TestExecute_NonOKStatus はエラーステータスがトランスポート層の
// エラーとして返ることを検証する。
func TestExecute_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewConsoleClient(server.Client(), server.URL, "key", testLogger())
	_, err := client.Execute(context.Background(), "whitelist add Steve")
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

// TestExecute_ConnectionFailure は接続不可がerrorとして返ることを検証する。
func TestExecute_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // 即座に閉じて接続失敗させる

	client := NewConsoleClient(&http.Client{}, server.URL, "key", testLogger())
	_, err := client.Execute(context.Background(), "whitelist add Steve")
	if err == nil {
		t.Fatal("expected error for refused connection")
	}
}
