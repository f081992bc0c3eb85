package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/okian/ranklobby/internal/adapters/http/api"
	"github.com/okian/ranklobby/internal/adapters/repository"
	service "github.com/okian/ranklobby/internal/app"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type mockDeps struct {
	mu        sync.Mutex
	lobbies   []lobby.Snapshot
	attached  []service.AttachRequest
	delivered []lobby.Event
	reports   []model.MatchReport
	seen      map[int64]bool
	full      bool
	acquire   bool
	rank      lobby.RankInfo
	board     []repository.Entry
	lastMode  model.Mode
	lastLimit int
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		seen:    make(map[int64]bool),
		acquire: true,
		lobbies: []lobby.Snapshot{
			{ID: "a", SessionID: "s-a", Mode: model.ModeTaiko, Capacity: 16, MinStars: 4, MaxStars: 5},
		},
	}
}

func (m *mockDeps) GetStats() map[string]any { return map[string]any{"lobbies": len(m.lobbies)} }

func (m *mockDeps) Lobbies() []lobby.Snapshot { return m.lobbies }

func (m *mockDeps) Lobby(id string) (lobby.Snapshot, bool) {
	for _, l := range m.lobbies {
		if l.ID == id {
			return l, true
		}
	}
	return lobby.Snapshot{}, false
}

func (m *mockDeps) Place(_ context.Context, p model.Player) (lobby.Snapshot, error) {
	if p.Mode != model.ModeTaiko {
		return lobby.Snapshot{}, service.ErrNoLobby
	}
	return m.lobbies[0], nil
}

func (m *mockDeps) Player(_ context.Context, id int64, name string, mode model.Mode) (model.Player, error) {
	return model.Player{ID: id, Name: name, Mode: mode, Elo: 1200}, nil
}

func (m *mockDeps) Attach(_ context.Context, req service.AttachRequest) (lobby.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attached {
		if a.SessionID == req.SessionID {
			return lobby.Snapshot{}, service.ErrSessionExists
		}
	}
	m.attached = append(m.attached, req)
	return lobby.Snapshot{ID: "new", SessionID: req.SessionID, Mode: req.Settings.Mode}, nil
}

func (m *mockDeps) Deliver(_ context.Context, sessionID string, ev lobby.Event) error {
	if _, ok := m.SessionLobby(sessionID); !ok {
		return service.ErrUnknownSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, ev)
	return nil
}

func (m *mockDeps) SessionLobby(sessionID string) (lobby.Snapshot, bool) {
	for _, l := range m.lobbies {
		if l.SessionID == sessionID {
			return l, true
		}
	}
	return lobby.Snapshot{}, false
}

func (m *mockDeps) Rank(_ context.Context, _ int64, mode model.Mode) (lobby.RankInfo, error) {
	m.lastMode = mode
	return m.rank, nil
}

func (m *mockDeps) Leaderboard(_ context.Context, mode model.Mode, n int) ([]repository.Entry, error) {
	m.lastMode, m.lastLimit = mode, n
	if n > len(m.board) {
		return m.board, nil
	}
	return m.board[:n], nil
}

func (m *mockDeps) SubmitReport(_ context.Context, r model.MatchReport) (bool, error) {
	if m.full {
		return false, service.ErrBackpressure
	}
	if m.seen[r.GameID] {
		return true, nil
	}
	m.seen[r.GameID] = true
	m.reports = append(m.reports, r)
	return false, nil
}

func (m *mockDeps) AcquireContent(context.Context, int64) bool { return m.acquire }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("disk gone") }

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var v T
	_ = json.Unmarshal(w.Body.Bytes(), &v)
	return v
}

func TestServer(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newMockDeps()
		h := api.NewServer(deps, model.ModeOsu, 100).Handler()

		Convey("Health and stats respond", func() {
			So(do(h, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			w := do(h, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			stats := decode[map[string]any](w)
			So(stats["lobbies"], ShouldEqual, 1.0)
			So(stats, ShouldContainKey, "uptimeSeconds")
			So(stats["goroutines"], ShouldBeGreaterThan, 0)
		})

		Convey("Metrics are exposed", func() {
			do(h, http.MethodGet, "/healthz", "")
			w := do(h, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("A failing store makes health unavailable", func() {
			h := api.NewServer(deps, model.ModeOsu, 100, api.WithPinger(failingPinger{})).Handler()
			w := do(h, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decode[map[string]string](w)["code"], ShouldEqual, "storage_unavailable")
		})

		Convey("Unsupported methods are rejected", func() {
			So(do(h, http.MethodPost, "/lobbies", "{}").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("Lobbies are listed and fetched", func() {
			w := do(h, http.MethodGet, "/lobbies", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode[[]lobby.Snapshot](w), ShouldHaveLength, 1)

			So(do(h, http.MethodGet, "/lobbies/a", "").Code, ShouldEqual, http.StatusOK)
			So(do(h, http.MethodGet, "/lobbies/zzz", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Placement uses the requested mode", func() {
			w := do(h, http.MethodGet, "/players/7/placement?mode=taiko", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode[lobby.Snapshot](w).ID, ShouldEqual, "a")

			So(do(h, http.MethodGet, "/players/7/placement", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/players/7/placement?mode=chess", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/players/x/placement", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Rank reports the tier", func() {
			deps.rank = lobby.RankInfo{Tier: "Gold+", Elo: 1712, Rank: 3, Games: 40}
			w := do(h, http.MethodGet, "/players/5/rank?mode=mania", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode[map[string]any](w)
			So(body["tier"], ShouldEqual, "Gold+")
			So(body["rank"], ShouldEqual, 3.0)
			So(deps.lastMode, ShouldEqual, model.ModeMania)
		})

		Convey("Leaderboard validates its limit", func() {
			deps.board = []repository.Entry{{Rank: 1, PlayerID: 9, Elo: 2000}, {Rank: 2, PlayerID: 4, Elo: 1900}}
			So(do(h, http.MethodGet, "/leaderboard", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			w := do(h, http.MethodGet, "/leaderboard?limit=101", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode[map[string]string](w)["code"], ShouldEqual, "limit_exceeded")

			w = do(h, http.MethodGet, "/leaderboard?limit=1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode[[]repository.Entry](w), ShouldResemble, []repository.Entry{{Rank: 1, PlayerID: 9, Elo: 2000}})
			So(deps.lastMode, ShouldEqual, model.ModeOsu)
		})

		Convey("Sessions are attached once", func() {
			body := `{"session_id":"s-1","mode":"catch","algorithm":"elo","fixed_stars":true,"min_stars":3,"max_stars":4}`
			w := do(h, http.MethodPost, "/sessions", body)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(deps.attached, ShouldHaveLength, 1)
			So(deps.attached[0].Settings.Mode, ShouldEqual, model.ModeCatch)
			So(deps.attached[0].Settings.FixedStars, ShouldBeTrue)

			So(do(h, http.MethodPost, "/sessions", body).Code, ShouldEqual, http.StatusConflict)
			So(do(h, http.MethodPost, "/sessions", `{"mode":"osu"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions", `{"session_id":"s-2","algorithm":"vibes"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions", `{"session_id":"s-3","fixed_stars":true,"min_stars":5,"max_stars":5}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Session events reach the lobby", func() {
			w := do(h, http.MethodPost, "/sessions/s-a/events", `{"type":"joined","player_id":3,"name":"ann"}`)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(deps.delivered, ShouldHaveLength, 1)
			joined, ok := deps.delivered[0].(lobby.Joined)
			So(ok, ShouldBeTrue)
			So(joined.Player.Mode, ShouldEqual, model.ModeTaiko)
			So(joined.Player.Name, ShouldEqual, "ann")

			So(do(h, http.MethodPost, "/sessions/s-a/events", `{"type":"chat","player_id":3,"text":"!start"}`).Code, ShouldEqual, http.StatusAccepted)
			So(deps.delivered[1], ShouldResemble, lobby.Command{PlayerID: 3, Text: "!start"})

			So(do(h, http.MethodPost, "/sessions/s-a/events", `{"type":"match_finished","scores":{"3":1000}}`).Code, ShouldEqual, http.StatusAccepted)
			So(deps.delivered[2], ShouldResemble, lobby.MatchFinished{Scores: map[int64]int64{3: 1000}})
		})

		Convey("Bad session events are rejected", func() {
			So(do(h, http.MethodPost, "/sessions/s-a/events", `{"type":"dance"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions/s-a/events", `{"type":"left"}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions/s-a/events", `{"type":"left","player_id":1,"extra":true}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/sessions/nope/events", `{"type":"all_ready"}`).Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodPost, "/sessions/nope/events", `{"type":"joined","player_id":1}`).Code, ShouldEqual, http.StatusNotFound)
			So(deps.delivered, ShouldBeEmpty)
		})

		Convey("Match reports are acknowledged and deduplicated", func() {
			body := `{"game_id":11,"content_id":2,"mode":"osu","results":[{"player_id":1,"passed":true}]}`
			w := do(h, http.MethodPost, "/matches", body)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(decode[map[string]any](w)["status"], ShouldEqual, "accepted")

			w = do(h, http.MethodPost, "/matches", body)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode[map[string]any](w)["duplicate"], ShouldEqual, true)
			So(deps.reports, ShouldHaveLength, 1)
		})

		Convey("Invalid or excess match reports are refused", func() {
			So(do(h, http.MethodPost, "/matches", `{"game_id":1,"content_id":2,"mode":"osu","results":[]}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/matches", `{"game_id":1,"content_id":2,"mode":"go","results":[{"player_id":1}]}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodPost, "/matches", `not json`).Code, ShouldEqual, http.StatusBadRequest)

			deps.full = true
			w := do(h, http.MethodPost, "/matches", `{"game_id":12,"content_id":2,"mode":"osu","results":[{"player_id":1}]}`)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decode[map[string]string](w)["code"], ShouldEqual, "backpressure")
		})

		Convey("Content acquisition is queued", func() {
			So(do(h, http.MethodPost, "/content/77", "").Code, ShouldEqual, http.StatusAccepted)
			So(do(h, http.MethodPost, "/content/-1", "").Code, ShouldEqual, http.StatusBadRequest)
			deps.acquire = false
			So(do(h, http.MethodPost, "/content/77", "").Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})

	Convey("Optional routes are mounted", t, func() {
		stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
		docs := func(r chi.Router) {
			r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}
		h := api.NewServer(newMockDeps(), model.ModeOsu, 10, api.WithStream(stream), api.WithDocs(docs)).Handler()
		So(do(h, http.MethodGet, "/ws", "").Code, ShouldEqual, http.StatusTeapot)
		So(do(h, http.MethodGet, "/docs", "").Code, ShouldEqual, http.StatusNoContent)
	})
}
