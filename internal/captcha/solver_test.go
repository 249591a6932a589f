package captcha

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOCRSolverSolveSuccess(t *testing.T) {
	t.Parallel()

	var gotContentType string
	var gotBodyLen int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotContentType = r.Header.Get("Content-Type")

		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBodyLen = n

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":" AB12 "}`))
	}))
	defer server.Close()

	solver := NewOCRSolver(server.URL, nil)

	got := solver.Solve(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47})
	if got != "AB12" {
		t.Fatalf("Solve() = %q, want %q", got, "AB12")
	}
	if gotContentType != "application/octet-stream" {
		t.Fatalf("Content-Type = %q, want application/octet-stream", gotContentType)
	}
	if gotBodyLen != 4 {
		t.Fatalf("body length = %d, want 4", gotBodyLen)
	}
}

func TestOCRSolverNeverFails(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		status  int
		body    string
		image   []byte
		wantURL bool
	}{
		{name: "empty image skips the call", status: 200, body: `{"text":"AB12"}`, image: nil},
		{name: "non-200 status", status: 503, body: `oops`, image: []byte{1}, wantURL: true},
		{name: "unparseable body", status: 200, body: `<html>`, image: []byte{1}, wantURL: true},
		{name: "implausible answer", status: 200, body: `{"text":"!!"}`, image: []byte{1}, wantURL: true},
		{name: "answer too long", status: 200, body: `{"text":"ABCDEFGHI"}`, image: []byte{1}, wantURL: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			called := false
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			solver := NewOCRSolver(server.URL, nil)

			if got := solver.Solve(context.Background(), tc.image); got != "" {
				t.Fatalf("Solve() = %q, want empty string", got)
			}
			if called != tc.wantURL {
				t.Fatalf("ocr endpoint called = %v, want %v", called, tc.wantURL)
			}
		})
	}
}

func TestOCRSolverUnreachableEndpoint(t *testing.T) {
	t.Parallel()

	solver := NewOCRSolver("http://127.0.0.1:1/ocr", nil)

	if got := solver.Solve(context.Background(), []byte{1, 2, 3}); got != "" {
		t.Fatalf("Solve() = %q, want empty string", got)
	}
}
