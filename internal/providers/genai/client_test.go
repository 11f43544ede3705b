package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"lightwork/internal/domain"
	"lightwork/internal/imagegen"
	"lightwork/internal/ratelimit"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type recordingServer struct {
	*httptest.Server
	calls atomic.Int32
	paths chan string
}

func newServer(t *testing.T, status int, body string) *recordingServer {
	t.Helper()
	rs := &recordingServer{paths: make(chan string, 8)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.calls.Add(1)
		select {
		case rs.paths <- r.URL.Path:
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func newTestClient(t *testing.T, srv *recordingServer, limiter ratelimit.Limiter) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/",
		HTTPClient: srv.Client(),
		Limiter:    limiter,
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func validRequest() imagegen.Request {
	return imagegen.Request{Image: pngBytes, MIMEType: "image/png", Instruction: "Make the sky purple", Model: domain.ModelStandard}
}

func imageResponse(data []byte) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":"here you go"},{"inlineData":{"mimeType":"image/png","data":%q}}]},"finishReason":"STOP"}]}`,
		base64.StdEncoding.EncodeToString(data))
}

func TestTransformReturnsInlineImage(t *testing.T) {
	out := []byte("transformed-bytes")
	srv := newServer(t, http.StatusOK, imageResponse(out))
	c := newTestClient(t, srv, nil)

	req := validRequest()
	req.Model = domain.ModelPro
	res, err := c.Transform(context.Background(), req)
	if err != nil {
		t.Fatalf("Transform error: %v", err)
	}
	if string(res.Data) != string(out) || res.MIMEType != "image/png" {
		t.Fatalf("unexpected result %q %s", res.Data, res.MIMEType)
	}
	path := <-srv.paths
	if !strings.Contains(path, DefaultProModel) {
		t.Fatalf("pro tier called %s", path)
	}
}

func TestTransformClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   imagegen.Cause
	}{
		{"rate limited", 429, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`, imagegen.CauseRateLimited},
		{"overloaded", 503, `{"error":{"code":503,"message":"The model is overloaded","status":"UNAVAILABLE"}}`, imagegen.CauseOverloaded},
		{"forbidden", 403, `{"error":{"code":403,"message":"Permission denied","status":"PERMISSION_DENIED"}}`, imagegen.CauseAuth},
		{"bad key", 400, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`, imagegen.CauseAuth},
		{"bad input", 400, `{"error":{"code":400,"message":"Unable to process input image","status":"INVALID_ARGUMENT"}}`, imagegen.CauseInvalidInput},
		{"prompt blocked", 200, `{"promptFeedback":{"blockReason":"PROHIBITED_CONTENT"}}`, imagegen.CauseSafetyBlocked},
		{"image safety", 200, `{"candidates":[{"finishReason":"IMAGE_SAFETY"}]}`, imagegen.CauseSafetyBlocked},
		{"text only", 200, `{"candidates":[{"content":{"role":"model","parts":[{"text":"I cannot edit this"}]},"finishReason":"STOP"}]}`, imagegen.CauseUnknown},
		{"empty", 200, `{}`, imagegen.CauseUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, tc.status, tc.body)
			c := newTestClient(t, srv, nil)
			_, err := c.Transform(context.Background(), validRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := imagegen.CauseOf(err); got != tc.want {
				t.Fatalf("cause = %s, want %s (err: %v)", got, tc.want, err)
			}
		})
	}
}

func TestSafetyMessageNamesReason(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"promptFeedback":{"blockReason":"PROHIBITED_CONTENT"}}`)
	_, err := newTestClient(t, srv, nil).Transform(context.Background(), validRequest())
	if msg := imagegen.MessageOf(err); !strings.Contains(msg, "Prohibited Content") {
		t.Fatalf("message = %q", msg)
	}
}

func TestInvalidInputNeverCallsProvider(t *testing.T) {
	srv := newServer(t, http.StatusOK, imageResponse([]byte("x")))
	c := newTestClient(t, srv, nil)

	req := validRequest()
	req.MIMEType = "image/gif"
	_, err := c.Transform(context.Background(), req)
	if imagegen.CauseOf(err) != imagegen.CauseInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if n := srv.calls.Load(); n != 0 {
		t.Fatalf("provider called %d times", n)
	}
}

func TestMissingAPIKey(t *testing.T) {
	c, err := NewClient(context.Background(), Options{})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if !errors.Is(c.Ready(), ErrMissingAPIKey) {
		t.Fatalf("Ready() = %v", c.Ready())
	}
	_, err = c.Transform(context.Background(), validRequest())
	if imagegen.CauseOf(err) != imagegen.CauseAuth {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context) (bool, error) { return false, errors.New("redis down") }

func TestLimiter(t *testing.T) {
	srv := newServer(t, http.StatusOK, imageResponse([]byte("ok")))

	_, err := newTestClient(t, srv, denyLimiter{}).Transform(context.Background(), validRequest())
	if imagegen.CauseOf(err) != imagegen.CauseRateLimited || !errors.Is(err, ratelimit.ErrBudgetExhausted) {
		t.Fatalf("expected budget exhaustion, got %v", err)
	}
	if n := srv.calls.Load(); n != 0 {
		t.Fatalf("provider called %d times with exhausted budget", n)
	}

	if _, err := newTestClient(t, srv, brokenLimiter{}).Transform(context.Background(), validRequest()); err != nil {
		t.Fatalf("limiter outage should not block calls: %v", err)
	}
}

func TestClassifyStatusFallbacks(t *testing.T) {
	if got := classifyStatus(502, "", ""); got != imagegen.CauseOverloaded {
		t.Fatalf("502 = %s", got)
	}
	if got := classifyStatus(599, "", ""); got != imagegen.CauseOverloaded {
		t.Fatalf("599 = %s", got)
	}
	if got := classifyStatus(418, "", ""); got != imagegen.CauseUnknown {
		t.Fatalf("418 = %s", got)
	}
	if got := classifyError(context.DeadlineExceeded).Cause; got != imagegen.CauseUnknown {
		t.Fatalf("deadline = %s", got)
	}
}
