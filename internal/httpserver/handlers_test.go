package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"aims-coach/internal/core"
	"aims-coach/internal/llm"
	"aims-coach/internal/rubric"
	"aims-coach/internal/store"
	"aims-coach/pkg"
)

const validEnvelopeJSON = `{
	"patient_reply": "Okay... I did read some worrying things online though.",
	"classification": {"step": "Announce", "confidence": 0.85},
	"scoring": {"score": 3, "reasons": ["met: clear recommendation"]}
}`

type stubClient struct {
	out string
	err error
}

func (c *stubClient) Generate(context.Context, llm.Request) (string, error) {
	return c.out, c.err
}

func newTestServer(t *testing.T, client llm.Client) (*Server, *store.Memory) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := rubric.Load()
	require.NoError(t, err)
	sg, err := core.NewSafetyGate(log)
	require.NoError(t, err)

	st := store.NewMemory(time.Hour)
	gw := core.NewGateway(client, r, 5*time.Second, log)
	o := core.NewOrchestrator(st, gw, sg, r, 50, log)
	a := core.NewAggregator(st, r)
	return NewServer(o, a, st, time.Hour, log), st
}

func postChat(t *testing.T, srv *Server, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubClient{out: validEnvelopeJSON})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestChatHappyPathSetsCookie(t *testing.T) {
	srv, _ := newTestServer(t, &stubClient{out: validEnvelopeJSON})

	rec := postChat(t, srv, `{"message": "It's time for the MMR today.", "coach": true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pkg.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Reply)
	require.NotEmpty(t, resp.SessionID)
	require.NotNil(t, resp.Coaching)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, sessionCookie, cookies[0].Name)
	require.Equal(t, resp.SessionID, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}

func TestChatCookieCarriesSession(t *testing.T) {
	srv, st := newTestServer(t, &stubClient{out: validEnvelopeJSON})

	rec := postChat(t, srv, `{"message": "hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := rec.Result().Cookies()[0]

	rec = postChat(t, srv, `{"message": "It's time for the MMR today."}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	s, ok, err := st.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, s.Turns, 2)
}

func TestChatBodySessionIDBeatsCookie(t *testing.T) {
	srv, st := newTestServer(t, &stubClient{out: validEnvelopeJSON})

	rec := postChat(t, srv, `{"message": "hello", "sessionId": "from-body"}`,
		&http.Cookie{Name: sessionCookie, Value: "from-cookie"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pkg.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "from-body", resp.SessionID)
	require.Equal(t, "from-body", rec.Result().Cookies()[0].Value)

	_, ok, err := st.Get(context.Background(), "from-body")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = st.Get(context.Background(), "from-cookie")
	require.NoError(t, err)
	require.False(t, ok, "cookie session untouched when the body names one")
}

func TestChatValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubClient{out: validEnvelopeJSON})

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"message": `},
		{"missing message", `{}`},
		{"empty message", `{"message": ""}`},
		{"message too long", `{"message": "` + strings.Repeat("a", maxMessageBytes+1) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postChat(t, srv, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestChatTransportErrorIsBadGateway(t *testing.T) {
	srv, _ := newTestServer(t, &stubClient{
		err: &llm.TransportError{Op: "api status 429", Err: errors.New("rate limited")},
	})

	rec := postChat(t, srv, `{"message": "It's time for the MMR today."}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["error"])
}

func TestSummaryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubClient{out: validEnvelopeJSON})

	rec := postChat(t, srv, `{"message": "It's time for the MMR today."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/summary", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sum pkg.SessionSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	require.Equal(t, 1, sum.TotalTurns)
	require.Equal(t, 1, sum.StepCoverage[pkg.StepAnnounce])
}

func TestSummaryRequiresSessionID(t *testing.T) {
	srv, _ := newTestServer(t, &stubClient{out: validEnvelopeJSON})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetEvictsSession(t *testing.T) {
	srv, st := newTestServer(t, &stubClient{out: validEnvelopeJSON})

	rec := postChat(t, srv, `{"message": "hello"}`)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodDelete, "/session", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok, err := st.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.False(t, ok)

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	require.Equal(t, -1, cleared[0].MaxAge)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv, _ := newTestServer(t, &stubClient{out: validEnvelopeJSON})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
