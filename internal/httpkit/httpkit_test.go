package httpkit

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{name: "default", want: 30 * time.Second},
		{name: "custom", opts: []ClientOption{WithTimeout(5 * time.Second)}, want: 5 * time.Second},
		{name: "streaming", opts: []ClientOption{WithTimeout(0)}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewClient(tt.opts...).Timeout; got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name string
		opts []ClientOption
		want string
	}{
		{name: "default", want: "coachd/"},
		{name: "override", opts: []ClientOption{WithUserAgent("tester/1.0")}, want: "tester/1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewClient(tt.opts...).Get(srv.URL)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if !strings.HasPrefix(string(body), tt.want) {
				t.Errorf("User-Agent = %q, want prefix %q", body, tt.want)
			}
		})
	}
}

func TestIsDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "refused", err: syscall.ECONNREFUSED, want: true},
		{name: "unreachable", err: &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, want: true},
		{name: "wrapped", err: fmt.Errorf("post: %w", &net.OpError{Op: "dial", Err: syscall.ENETUNREACH}), want: true},
		{name: "reset", err: syscall.ECONNRESET, want: false},
		{name: "plain", err: fmt.Errorf("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDialError(tt.err); got != tt.want {
				t.Errorf("IsDialError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type countingTransport struct {
	calls int
	fail  int
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls++
	if c.calls <= c.fail {
		return nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func TestDialRetryTransport(t *testing.T) {
	base := &countingTransport{fail: 2}
	rt := &dialRetryTransport{base: base, count: 3, delay: time.Millisecond}

	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()
	if base.calls != 3 {
		t.Errorf("calls = %d, want 3", base.calls)
	}
}

func TestDialRetryTransport_GivesUp(t *testing.T) {
	base := &countingTransport{fail: 10}
	rt := &dialRetryTransport{base: base, count: 2, delay: time.Millisecond}

	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if base.calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", base.calls)
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.Repeat("x", 100)))
	if got := ReadErrorBody(body, 10); got != strings.Repeat("x", 10) {
		t.Errorf("ReadErrorBody = %q, want 10 bytes", got)
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}
