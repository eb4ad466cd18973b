package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/overlay-bot/catalog"
	"github.com/onnwee/overlay-bot/cooldown"
	"github.com/onnwee/overlay-bot/overlay"
	"github.com/onnwee/overlay-bot/playback"
	"github.com/onnwee/overlay-bot/queue"
	"github.com/onnwee/overlay-bot/user"
)

type testServer struct {
	srv   *httptest.Server
	coord *playback.Coordinator
	hub   *overlay.Hub
}

func clearServerEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_TOKEN", "RATE_LIMIT_ENABLED", "RATE_LIMIT_REQUESTS_PER_IP", "RATE_LIMIT_WINDOW_SECONDS", "ENV", "CORS_PERMISSIVE", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}
}

func newTestServer(t *testing.T, reload func(context.Context) error) *testServer {
	t.Helper()
	sounds := catalog.NewSounds("")
	if err := sounds.Register("airhorn", catalog.Sound{URI: "sfx/airhorn.mp3"}); err != nil {
		t.Fatal(err)
	}
	if err := sounds.Register("boop", catalog.Sound{URI: "sfx/boop.ogg"}); err != nil {
		t.Fatal(err)
	}
	videos := catalog.NewVideos("")
	if err := videos.Register("intro", catalog.Video{URI: "v/intro.webm"}); err != nil {
		t.Fatal(err)
	}
	hub := overlay.NewHub()
	coord := playback.New(playback.Config{TTSURI: "https://tts.example/speak?text={text}"}, playback.Deps{
		Queue:     queue.New(),
		Cooldowns: cooldown.New(),
		Sounds:    sounds,
		Videos:    videos,
		Hub:       hub,
	})
	t.Cleanup(coord.Close)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewMux(ctx, Options{
		Playback:  coord,
		Hub:       hub,
		Reload:    reload,
		Keepalive: 50 * time.Millisecond,
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return &testServer{srv: srv, coord: coord, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, body string, hdr map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (ts *testServer) play(t *testing.T, name string) playback.Ticket {
	t.Helper()
	tk, err := ts.coord.Play(context.Background(), playback.Request{
		Kind: playback.KindSound,
		Name: name,
		User: user.User{Login: "alice"},
	})
	if err != nil {
		t.Fatalf("play %s: %v", name, err)
	}
	return tk
}

func TestHealthz(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "ok" {
		t.Errorf("body = %q", b)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("expected generated X-Correlation-ID")
	}

	resp = ts.do(t, http.MethodGet, "/healthz", "", map[string]string{"X-Correlation-ID": "corr-123"})
	if got := resp.Header.Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q, want corr-123", got)
	}
}

func TestReadyz(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/readyz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["status"] != "ready" {
		t.Errorf("body = %v", body)
	}

	ts.coord.Close()
	resp = ts.do(t, http.MethodGet, "/readyz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status after close = %d", resp.StatusCode)
	}
	if body := decode[map[string]string](t, resp); body["failed_check"] != "playback" {
		t.Errorf("failed_check = %q", body["failed_check"])
	}
}

func TestStatus(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)
	ts.play(t, "airhorn")
	ts.play(t, "boop")

	resp := ts.do(t, http.MethodGet, "/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Queue []struct {
			ID    string `json:"id"`
			Class string `json:"class"`
			State string `json:"state"`
		} `json:"queue"`
		Active []struct {
			Name  string `json:"name"`
			Token string `json:"token"`
		} `json:"active"`
		NextID             string `json:"next_id"`
		Paused             bool   `json:"paused"`
		OverlaySubscribers int    `json:"overlay_subscribers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Queue) != 2 {
		t.Fatalf("queue len = %d, want 2", len(body.Queue))
	}
	if body.Queue[0].State != "active" || body.Queue[1].State != "idle" {
		t.Errorf("states = %s,%s", body.Queue[0].State, body.Queue[1].State)
	}
	if body.Queue[0].Class != "audio" {
		t.Errorf("class = %q", body.Queue[0].Class)
	}
	if len(body.Active) != 1 || body.Active[0].Name != "airhorn" {
		t.Errorf("active = %+v", body.Active)
	}
	if body.NextID != "3" {
		t.Errorf("next_id = %q, want 3", body.NextID)
	}
	if body.Paused {
		t.Error("paused = true")
	}
}

func TestHistory(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)
	ts.play(t, "airhorn")

	resp := ts.do(t, http.MethodGet, "/history?limit=10", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Items []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
			User string `json:"user"`
		} `json:"items"`
	}](t, resp)
	if len(body.Items) != 1 || body.Items[0].Name != "airhorn" || body.Items[0].User != "alice" {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestPlaybackEnded(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)
	tk := ts.play(t, "airhorn")

	resp := ts.do(t, http.MethodPost, "/overlay/playback/"+tk.Token+"/ended", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ts.coord.Wait(ctx, tk.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n := ts.coord.Queue().Len(); n != 0 {
		t.Errorf("queue len = %d, want 0", n)
	}

	resp = ts.do(t, http.MethodPost, "/overlay/playback/"+tk.Token+"/ended", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second ended status = %d, want 404", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/overlay/playback/"+tk.Token+"/ended", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}
}

func readSSE(t *testing.T, rd *bufio.Reader) overlay.Event {
	t.Helper()
	type result struct {
		ev  overlay.Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
			if !ok {
				continue
			}
			var ev overlay.Event
			ch <- result{ev: ev, err: json.Unmarshal([]byte(data), &ev)}
			return
		}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("read sse: %v", r.err)
		}
		return r.ev
	case <-time.After(3 * time.Second):
		t.Fatal("no SSE event")
	}
	return overlay.Event{}
}

func openStream(t *testing.T, ts *testServer) *bufio.Reader {
	t.Helper()
	resp, err := ts.srv.Client().Get(ts.srv.URL + "/overlay/events")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	if err != nil || line != "retry: 2000\n" {
		t.Fatalf("first line = %q, %v", line, err)
	}
	return rd
}

func TestOverlayEventsStream(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)
	rd := openStream(t, ts)

	if n := ts.hub.Subscribers(); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	tk := ts.play(t, "airhorn")

	ev := readSSE(t, rd)
	if ev.Type != overlay.EventPlay || ev.Token != tk.Token || ev.Name != "airhorn" || ev.URI != "sfx/airhorn.mp3" {
		t.Errorf("event = %+v", ev)
	}

	if n := ts.coord.Skip(nil); n != 1 {
		t.Fatalf("skip = %d", n)
	}
	if ev := readSSE(t, rd); ev.Type != overlay.EventCancel || ev.Token != tk.Token {
		t.Errorf("cancel event = %+v", ev)
	}
}

func TestOverlayEventsLateJoinWhilePaused(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)
	ts.coord.Pause()

	rd := openStream(t, ts)
	if ev := readSSE(t, rd); ev.Type != overlay.EventPause {
		t.Errorf("first event = %+v, want pause", ev)
	}
}

func TestOverlayEventsKeepalive(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)
	rd := openStream(t, ts)

	done := make(chan string, 1)
	go func() {
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				done <- ""
				return
			}
			if strings.HasPrefix(line, ":") {
				done <- line
				return
			}
		}
	}()
	select {
	case line := <-done:
		if line != ": ping\n" {
			t.Errorf("keepalive = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive")
	}
}

func TestAdminPlay(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/admin/play", `{"kind":"sound","name":"airhorn"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	tk := decode[struct {
		ID    string `json:"id"`
		Token string `json:"token"`
		Name  string `json:"name"`
		Class string `json:"class"`
	}](t, resp)
	if tk.ID != "1" || tk.Token == "" || tk.Name != "airhorn" || tk.Class != "audio" {
		t.Errorf("ticket = %+v", tk)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown sound", `{"kind":"sound","name":"nope"}`, http.StatusNotFound},
		{"unknown kind", `{"kind":"gif","name":"airhorn"}`, http.StatusBadRequest},
		{"bad mode", `{"kind":"sound","name":"boop","mode":"sideways"}`, http.StatusBadRequest},
		{"empty tts", `{"kind":"tts","text":"  "}`, http.StatusBadRequest},
		{"reject while audio busy", `{"kind":"sound","name":"boop","mode":"reject"}`, http.StatusConflict},
		{"unknown field", `{"kind":"sound","name":"boop","volume":2}`, http.StatusBadRequest},
		{"malformed", `{"kind":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/admin/play", tt.body, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %q", ct)
			}
		})
	}

	if n := ts.coord.Queue().Len(); n != 1 {
		t.Errorf("queue len = %d, want 1", n)
	}
}

func TestAdminPlayWait(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"queued", `{"kind":"tts","text":"hi chat","wait":true}`},
		{"bypass", `{"kind":"tts","text":"hi chat","mode":"bypass","wait":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearServerEnv(t)
			ts := newTestServer(t, nil)
			_, events, unsub := ts.hub.Subscribe()
			defer unsub()

			type result struct {
				code int
				err  error
			}
			done := make(chan result, 1)
			go func() {
				req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/admin/play", strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
				resp, err := ts.srv.Client().Do(req)
				if err != nil {
					done <- result{err: err}
					return
				}
				_ = resp.Body.Close()
				done <- result{code: resp.StatusCode}
			}()

			var ev overlay.Event
			select {
			case ev = <-events:
			case <-time.After(2 * time.Second):
				t.Fatal("no play event")
			}
			if ev.Type != overlay.EventPlay || ev.Kind != "tts" || ev.Text != "hi chat" {
				t.Fatalf("event = %+v", ev)
			}
			select {
			case r := <-done:
				t.Fatalf("request returned before playback ended: %+v", r)
			case <-time.After(50 * time.Millisecond):
			}

			if err := ts.coord.Ended(ev.Token); err != nil {
				t.Fatal(err)
			}
			select {
			case r := <-done:
				if r.err != nil || r.code != http.StatusOK {
					t.Errorf("result = %+v, want 200", r)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("request did not return")
			}
		})
	}
}

func TestAdminSkip(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)
	tk := ts.play(t, "airhorn")

	resp := ts.do(t, http.MethodPost, "/admin/skip", `{"token":"not-a-token"}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/admin/skip", `{"token":"`+tk.Token+`"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decode[map[string]int](t, resp); body["skipped"] != 1 {
		t.Errorf("skipped = %d, want 1", body["skipped"])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ts.coord.Wait(ctx, tk.ID); err != nil {
		t.Fatal(err)
	}

	resp = ts.do(t, http.MethodPost, "/admin/skip", "", nil)
	if body := decode[map[string]int](t, resp); body["skipped"] != 0 {
		t.Errorf("skip all on idle queue = %d", body["skipped"])
	}
}

func TestAdminSkipByID(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)
	tk := ts.play(t, "boop")

	resp := ts.do(t, http.MethodPost, "/admin/skip", `{"id":"zz"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", resp.StatusCode)
	}
	resp = ts.do(t, http.MethodPost, "/admin/skip", `{"id":"ff"}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("idle id status = %d, want 404", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/admin/skip", `{"id":"`+tk.ID.String()+`"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decode[map[string]int](t, resp); body["skipped"] != 1 {
		t.Errorf("skipped = %d, want 1", body["skipped"])
	}
}

func TestAdminPauseResume(t *testing.T) {
	clearServerEnv(t)
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/admin/pause", "", nil)
	if resp.StatusCode != http.StatusOK || !ts.coord.Paused() {
		t.Fatalf("pause: status %d paused %v", resp.StatusCode, ts.coord.Paused())
	}
	resp = ts.do(t, http.MethodPost, "/admin/resume", "", nil)
	if resp.StatusCode != http.StatusOK || ts.coord.Paused() {
		t.Fatalf("resume: status %d paused %v", resp.StatusCode, ts.coord.Paused())
	}

	resp = ts.do(t, http.MethodGet, "/admin/pause", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /admin/pause = %d, want 405", resp.StatusCode)
	}
}

func TestAdminReload(t *testing.T) {
	clearServerEnv(t)

	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, nil)
		resp := ts.do(t, http.MethodPost, "/admin/reload", "", nil)
		if resp.StatusCode != http.StatusNotImplemented {
			t.Errorf("status = %d, want 501", resp.StatusCode)
		}
	})

	t.Run("ok", func(t *testing.T) {
		var calls atomic.Int32
		ts := newTestServer(t, func(context.Context) error {
			calls.Add(1)
			return nil
		})
		resp := ts.do(t, http.MethodPost, "/admin/reload", "", nil)
		if resp.StatusCode != http.StatusOK || calls.Load() != 1 {
			t.Errorf("status = %d calls = %d", resp.StatusCode, calls.Load())
		}
	})

	t.Run("error", func(t *testing.T) {
		ts := newTestServer(t, func(context.Context) error { return errors.New("disk on fire") })
		resp := ts.do(t, http.MethodPost, "/admin/reload", "", nil)
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", resp.StatusCode)
		}
	})
}

func TestAdminRequiresAuth(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("ADMIN_TOKEN", "s3cret")
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodPost, "/admin/pause", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if ts.coord.Paused() {
		t.Fatal("unauthenticated pause took effect")
	}

	resp = ts.do(t, http.MethodPost, "/admin/pause", "", map[string]string{"X-Admin-Token": "s3cret"})
	if resp.StatusCode != http.StatusOK || !ts.coord.Paused() {
		t.Fatalf("authenticated pause: status %d paused %v", resp.StatusCode, ts.coord.Paused())
	}

	resp = ts.do(t, http.MethodGet, "/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/status should stay public, got %d", resp.StatusCode)
	}
}

func TestAdminRateLimited(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("RATE_LIMIT_REQUESTS_PER_IP", "2")
	ts := newTestServer(t, nil)

	for i := range 2 {
		if resp := ts.do(t, http.MethodPost, "/admin/resume", "", nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, resp.StatusCode)
		}
	}
	resp := ts.do(t, http.MethodPost, "/admin/resume", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "30" {
		t.Errorf("Retry-After = %q, want 30", got)
	}

	// public routes are not limited
	for range 5 {
		if resp := ts.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
			t.Fatalf("healthz status %d", resp.StatusCode)
		}
	}
}

func TestWritePlayError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       int
		retryAfter string
	}{
		{"throttled", &playback.ThrottledError{Category: cooldown.SoundFile, Remaining: 12, Response: "Alice! Wait 12 seconds"}, http.StatusTooManyRequests, "12"},
		{"recently played", &playback.RecentlyPlayedError{Kind: playback.KindSound, Name: "gong", Retry: 40 * time.Second}, http.StatusTooManyRequests, "40"},
		{"recently played fraction", &playback.RecentlyPlayedError{Kind: playback.KindSound, Name: "gong", Retry: 40*time.Second + 200*time.Millisecond}, http.StatusTooManyRequests, "41"},
		{"recently played sub-second", &playback.RecentlyPlayedError{Kind: playback.KindSound, Name: "gong", Retry: 300 * time.Millisecond}, http.StatusTooManyRequests, "1"},
		{"not found", playback.ErrNotFound, http.StatusNotFound, ""},
		{"rejected", playback.ErrRejected, http.StatusConflict, ""},
		{"tts disabled", playback.ErrTTSDisabled, http.StatusBadRequest, ""},
		{"closed", playback.ErrClosed, http.StatusServiceUnavailable, ""},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writePlayError(rr, tt.err)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if got := rr.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
		})
	}
}
