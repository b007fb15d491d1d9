package http

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/feedback-annotator/internal/annotation"
	"github.com/yungbote/feedback-annotator/internal/domain"
	httpH "github.com/yungbote/feedback-annotator/internal/http/handlers"
	"github.com/yungbote/feedback-annotator/internal/observability"
	"github.com/yungbote/feedback-annotator/internal/platform/ctxutil"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

type stubRuns struct {
	report domain.RunReport
	err    error
	limit  *int
	calls  int
	inv    *ctxutil.Invocation
}

func (s *stubRuns) RunAnnotation(ctx context.Context, limit *int) (domain.RunReport, error) {
	s.calls++
	s.limit = limit
	s.inv = ctxutil.InvocationFrom(ctx)
	return s.report, s.err
}

type stubSummary struct{ s annotation.Summary }

func (s stubSummary) Summary(context.Context) (annotation.Summary, error) { return s.s, nil }

func newTestRouter(runs *stubRuns, m *observability.Metrics) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterConfig{
		Log:           logger.Nop(),
		Metrics:       m,
		HealthHandler: httpH.NewHealthHandler("ollama"),
		RunHandler:    httpH.NewRunHandler(logger.Nop(), runs, nil, stubSummary{annotation.Summary{Total: 3, Annotated: 1, Pending: 2}}),
	})
}

func do(r *gin.Engine, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func decodeRun(t *testing.T, w *httptest.ResponseRecorder) httpH.RunResponse {
	t.Helper()
	var out httpH.RunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	w := do(newTestRouter(&stubRuns{}, nil), nethttp.MethodGet, "/healthz")
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	if w.Code != nethttp.StatusOK || body["status"] != "ok" || body["backend"] != "ollama" {
		t.Fatalf("healthz: want=200 ok/ollama got=%d %v", w.Code, body)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestTriggerRunCarriesRequestID(t *testing.T) {
	runs := &stubRuns{report: domain.RunReport{RunID: "r1", State: domain.RunDone}}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(nethttp.MethodPost, "/v1/runs", nil)
	req.Header.Set("X-Request-Id", "req-42")
	newTestRouter(runs, nil).ServeHTTP(w, req)

	if runs.inv == nil || runs.inv.Trigger != ctxutil.TriggerHTTP || runs.inv.RequestID != "req-42" {
		t.Fatalf("invocation: got=%+v", runs.inv)
	}
	if got := w.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("X-Request-Id: want=req-42 got=%q", got)
	}
}

func TestTriggerRunPassesLimit(t *testing.T) {
	runs := &stubRuns{report: domain.RunReport{RunID: "r1", State: domain.RunDone, Selected: 2, Persisted: 2}}
	w := do(newTestRouter(runs, nil), nethttp.MethodPost, "/v1/runs?limit=5")
	if w.Code != nethttp.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	if runs.limit == nil || *runs.limit != 5 {
		t.Fatalf("limit: want=5 got=%v", runs.limit)
	}
	out := decodeRun(t, w)
	if out.Report.RunID != "r1" || out.Error != nil {
		t.Fatalf("body: got=%+v", out)
	}
}

func TestTriggerRunWithoutLimitUsesDefault(t *testing.T) {
	runs := &stubRuns{report: domain.RunReport{State: domain.RunDone}}
	do(newTestRouter(runs, nil), nethttp.MethodPost, "/v1/runs")
	if runs.calls != 1 || runs.limit != nil {
		t.Fatalf("call: want one call with nil limit got calls=%d limit=%v", runs.calls, runs.limit)
	}
}

func TestTriggerRunRejectsBadLimit(t *testing.T) {
	runs := &stubRuns{}
	w := do(newTestRouter(runs, nil), nethttp.MethodPost, "/v1/runs?limit=ten")
	if w.Code != nethttp.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", w.Code)
	}
	if runs.calls != 0 {
		t.Fatalf("calls: want=0 got=%d", runs.calls)
	}
}

func TestTriggerRunStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"locked", domain.ErrRunInProgress, nethttp.StatusConflict, "run_in_progress"},
		{"canceled", domain.ErrRunCanceled, nethttp.StatusServiceUnavailable, "run_canceled"},
		{"fatal", &domain.QueryError{Operation: "select unprocessed", Cause: errors.New("boom")}, nethttp.StatusInternalServerError, "run_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runs := &stubRuns{report: domain.RunReport{RunID: "r", State: domain.RunFailed}, err: tc.err}
			w := do(newTestRouter(runs, nil), nethttp.MethodPost, "/v1/runs")
			if w.Code != tc.want {
				t.Fatalf("status: want=%d got=%d", tc.want, w.Code)
			}
			out := decodeRun(t, w)
			if out.Error == nil || out.Error.Code != tc.code {
				t.Fatalf("error: want code=%s got=%+v", tc.code, out.Error)
			}
			if out.Report.RunID != "r" {
				t.Fatalf("report must accompany the error: got=%+v", out.Report)
			}
		})
	}
}

func TestRunHistoryWithoutLedger(t *testing.T) {
	w := do(newTestRouter(&stubRuns{}, nil), nethttp.MethodGet, "/v1/runs")
	if w.Code != nethttp.StatusNotFound {
		t.Fatalf("status: want=404 got=%d", w.Code)
	}
}

func TestSummary(t *testing.T) {
	w := do(newTestRouter(&stubRuns{}, nil), nethttp.MethodGet, "/v1/summary")
	if w.Code != nethttp.StatusOK {
		t.Fatalf("status: want=200 got=%d", w.Code)
	}
	var s annotation.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Total != 3 || s.Pending != 2 {
		t.Fatalf("summary: got=%+v", s)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	m := observability.NewMetrics()
	r := newTestRouter(&stubRuns{report: domain.RunReport{State: domain.RunDone}}, m)
	do(r, nethttp.MethodPost, "/v1/runs")

	w := do(r, nethttp.MethodGet, "/metrics")
	if w.Code != nethttp.StatusOK {
		t.Fatalf("status: want=200 got=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `annotator_http_requests_total{method="POST",route="/v1/runs",status="200"} 1`) {
		t.Fatalf("metrics body missing request counter:\n%s", w.Body.String())
	}
}
