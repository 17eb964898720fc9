package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/day-claim-calendar/internal/config"
	"github.com/iliyamo/day-claim-calendar/internal/session"
)

type nopWriter struct{}

func (nopWriter) Create(ctx context.Context, name, date string) error { return nil }
func (nopWriter) DeleteByID(ctx context.Context, id string) error     { return nil }

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func serve(e *echo.Echo, method, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSessionsIssueAndReuseCookie(t *testing.T) {
	m := session.NewManager(nopWriter{})
	signer := session.NewSigner("secret", time.Hour)
	e := echo.New()
	e.Use(Sessions(m, signer, false))
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, CurrentSession(c).ID) })

	first := serve(e, http.MethodGet, "/")
	cookies := first.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || !cookies[0].HttpOnly {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}
	id := first.Body.String()

	second := serve(e, http.MethodGet, "/", cookies[0])
	if second.Body.String() != id {
		t.Fatalf("session not reused: %q vs %q", second.Body.String(), id)
	}
	if len(second.Result().Cookies()) != 0 {
		t.Fatal("valid cookie should not be re-issued")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Len())
	}

	forged := &http.Cookie{Name: SessionCookie, Value: "garbage"}
	third := serve(e, http.MethodGet, "/", forged)
	if third.Body.String() == id || len(third.Result().Cookies()) != 1 {
		t.Fatal("invalid cookie should start a fresh session")
	}
}

func TestTokenBucketBlocksAfterCapacity(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: 2 * time.Hour, KeyStrategy: "ip_route", Prefix: "rl",
	}
	e := echo.New()
	e.POST("/bookings", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, newRedis(t)))

	for i := 0; i < 2; i++ {
		if rec := serve(e, http.MethodPost, "/bookings"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := serve(e, http.MethodPost, "/bookings")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestWriteLimitSharedAcrossCreateAndDelete(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 100, RefillTokens: 1, RefillInterval: time.Second,
		TTL: time.Hour, Prefix: "rl", WriteCapacity: 2, WriteRefillInterval: time.Hour,
	}
	m := session.NewManager(nopWriter{})
	signer := session.NewSigner("secret", time.Hour)
	writes := NewWriteLimit(cfg, newRedis(t))
	e := echo.New()
	e.Use(Sessions(m, signer, false))
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }
	e.POST("/bookings", ok, writes)
	e.POST("/bookings/:id/delete", ok, writes)

	first := serve(e, http.MethodPost, "/bookings")
	if first.Code != http.StatusNoContent {
		t.Fatalf("create: status %d", first.Code)
	}
	ck := first.Result().Cookies()[0]
	if rec := serve(e, http.MethodPost, "/bookings/a/delete", ck); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}

	rec := serve(e, http.MethodPost, "/bookings", ck)
	if rec.Code != http.StatusSeeOther || rec.Header().Get(echo.HeaderLocation) != "/" {
		t.Fatalf("over budget: status %d location %q", rec.Code, rec.Header().Get(echo.HeaderLocation))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	s, found := m.Get(sessionIDFrom(t, signer, ck))
	if !found {
		t.Fatal("session lost")
	}
	notes := s.Notes.List()
	if len(notes) != 1 || notes[0].Message != WriteLimitMessage {
		t.Fatalf("expected a rate-limit toast, got %+v", notes)
	}

	// Another visitor has a budget of their own.
	if rec := serve(e, http.MethodPost, "/bookings"); rec.Code != http.StatusNoContent {
		t.Fatalf("fresh session: status %d", rec.Code)
	}
}

func TestWriteLimitWithoutSessionAnswers429(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Prefix: "rl", WriteCapacity: 1, WriteRefillInterval: time.Hour, TTL: time.Hour}
	e := echo.New()
	e.POST("/bookings", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewWriteLimit(cfg, newRedis(t)))
	serve(e, http.MethodPost, "/bookings")
	if rec := serve(e, http.MethodPost, "/bookings"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func sessionIDFrom(t *testing.T, signer *session.Signer, ck *http.Cookie) string {
	t.Helper()
	id, err := signer.Verify(ck.Value)
	if err != nil {
		t.Fatalf("verify cookie: %v", err)
	}
	return id
}

func TestTokenBucketWithoutRedisPassesThrough(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1}
	e := echo.New()
	e.POST("/x", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, NewTokenBucket(cfg, nil))
	for i := 0; i < 3; i++ {
		if rec := serve(e, http.MethodPost, "/x"); rec.Code != http.StatusNoContent {
			t.Fatalf("status %d", rec.Code)
		}
	}
}

func TestBuildRateKeyStrategies(t *testing.T) {
	m := session.NewManager(nopWriter{})
	s := m.New()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/bookings", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/bookings")
	c.Set(sessionKey, s)

	got := buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_session_route"}, c)
	want := "rl:ip:10.0.0.1:session:" + s.ID + ":route:POST /bookings"
	if got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
	if got := buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "session"}, c); got != "rl:session:"+s.ID {
		t.Fatalf("session key = %q", got)
	}
}

func TestRedisCacheKeyedByFingerprint(t *testing.T) {
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", Methods: map[string]bool{"GET": true}}
	fp := "one"
	var calls atomic.Int32
	e := echo.New()
	e.GET("/api/bookings", func(c echo.Context) error {
		calls.Add(1)
		return c.JSON(http.StatusOK, echo.Map{"fp": fp})
	}, NewRedisCache(cfg, newRedis(t), func() string { return fp }))

	first := serve(e, http.MethodGet, "/api/bookings?month=2024-03")
	second := serve(e, http.MethodGet, "/api/bookings?month=2024-03")
	if first.Header().Get("X-Cache") != "MISS" || second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("X-Cache = %q, %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("cached body differs: %q vs %q", second.Body.String(), first.Body.String())
	}
	if calls.Load() != 1 {
		t.Fatalf("handler called %d times", calls.Load())
	}

	fp = "two"
	third := serve(e, http.MethodGet, "/api/bookings?month=2024-03")
	if third.Header().Get("X-Cache") != "MISS" || calls.Load() != 2 {
		t.Fatalf("content change should miss: %q calls=%d", third.Header().Get("X-Cache"), calls.Load())
	}
}

// Two instances share one Redis.  An instance that has seen a newer snapshot
// must not read what a lagging instance stored, even when both have received
// the same number of snapshots.
func TestRedisCacheSharedAcrossInstances(t *testing.T) {
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", Methods: map[string]bool{"GET": true}}
	rdb := newRedis(t)
	instance := func(fp, body string) *echo.Echo {
		e := echo.New()
		e.GET("/api/bookings", func(c echo.Context) error {
			return c.String(http.StatusOK, body)
		}, NewRedisCache(cfg, rdb, func() string { return fp }))
		return e
	}
	stale := instance("before", "[]")
	fresh := instance("after", `[{"id":"a"}]`)

	if rec := serve(stale, http.MethodGet, "/api/bookings"); rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("stale first = %q", rec.Header().Get("X-Cache"))
	}
	rec := serve(fresh, http.MethodGet, "/api/bookings")
	if rec.Header().Get("X-Cache") != "MISS" || rec.Body.String() != `[{"id":"a"}]` {
		t.Fatalf("fresh served %q (%s)", rec.Body.String(), rec.Header().Get("X-Cache"))
	}

	// Once both agree on the content they share entries.
	caught := instance("after", "unused")
	if rec := serve(caught, http.MethodGet, "/api/bookings"); rec.Header().Get("X-Cache") != "HIT" || rec.Body.String() != `[{"id":"a"}]` {
		t.Fatalf("caught-up instance served %q (%s)", rec.Body.String(), rec.Header().Get("X-Cache"))
	}
}

func TestRedisCacheSkipsOversizedBodies(t *testing.T) {
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 64, Methods: map[string]bool{"GET": true}}
	big := strings.Repeat("x", 200)
	var calls atomic.Int32
	e := echo.New()
	e.GET("/api/bookings", func(c echo.Context) error {
		calls.Add(1)
		return c.String(http.StatusOK, big)
	}, NewRedisCache(cfg, newRedis(t), func() string { return "fp" }))

	for i := 0; i < 2; i++ {
		rec := serve(e, http.MethodGet, "/api/bookings")
		if rec.Header().Get("X-Cache") != "MISS" {
			t.Fatalf("request %d: X-Cache = %q", i, rec.Header().Get("X-Cache"))
		}
		if rec.Body.Len() != len(big) {
			t.Fatalf("request %d: body truncated to %d bytes", i, rec.Body.Len())
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("handler called %d times, want 2", calls.Load())
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	h := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, h, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	status, hdr, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || hdr.Get("Content-Type") != "application/json" || string(body) != `{"a":1}` {
		t.Fatalf("decode = %d %v %q %v", status, hdr, body, ok)
	}
	if _, _, _, ok := decodePayload([]byte{1, 2}); ok {
		t.Fatal("short payload should not decode")
	}
}
