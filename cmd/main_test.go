package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/ranklobby/internal/adapters/ws"
	"github.com/okian/ranklobby/internal/config"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New(context.Background())
	cfg.SQLitePath = filepath.Join(t.TempDir(), "main.db")
	cfg.Addr = "127.0.0.1:0"
	cfg.WorkerCount = 1
	return cfg
}

func TestWiring(t *testing.T) {
	convey.Convey("Given a configuration over a temporary database", t, func() {
		ctx := context.Background()
		cfg := testConfig(t)

		st, err := openStores(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		convey.Reset(func() { _ = st.Close() })

		hub := ws.NewHub()
		convey.Reset(hub.Close)

		convey.Convey("When the service and handler are built", func() {
			svc, err := newService(cfg, st, hub, logger.Nop(), func(error) {})
			convey.So(err, convey.ShouldBeNil)
			convey.So(svc.Start(ctx), convey.ShouldBeNil)
			convey.Reset(func() { _ = svc.Stop(ctx) })

			h := newHandler(cfg, svc, st, hub)

			convey.Convey("Then health and docs respond", func() {
				for _, path := range []string{"/healthz", "/stats", "/lobbies", "/openapi.yaml"} {
					w := httptest.NewRecorder()
					h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
					convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				}
			})

			convey.Convey("Then new players get an owned lobby", func() {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/players/1/placement", http.NoBody))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(svc.Lobbies(), convey.ShouldHaveLength, 1)
				convey.So(svc.Lobbies()[0].Owned, convey.ShouldBeTrue)
			})
		})

		convey.Convey("Custom tiers must be valid", func() {
			cfg.Tiers = []string{"Low", "Low"}
			_, err := newService(cfg, st, hub, logger.Nop(), func(error) {})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})

	convey.Convey("Lobby tunables follow the configuration", t, func() {
		cfg := config.New(context.Background())
		cfg.CountdownInitialMS = 1500
		cfg.KeepKickVotes = false
		lc := lobbyConfig(cfg)
		convey.So(lc.CountdownInitial, convey.ShouldEqual, 1500*time.Millisecond)
		convey.So(lc.KeepKickVotes, convey.ShouldBeFalse)
		convey.So(lc.Capacity, convey.ShouldEqual, cfg.LobbyCapacity)
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Run stops cleanly when its context ends", t, func() {
		cfg := testConfig(t)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldBeNil)
	})

	convey.Convey("Run stops cleanly when its parent is cancelled", t, func() {
		cfg := testConfig(t)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(200*time.Millisecond, cancel)
		convey.So(run(ctx, cfg, logger.Nop()), convey.ShouldBeNil)
	})

	convey.Convey("Only the first fatal error is kept", t, func() {
		var f fatalCause
		first := errors.New("desync")
		convey.So(f.err(), convey.ShouldBeNil)
		convey.So(f.set(nil), convey.ShouldBeFalse)
		convey.So(f.set(first), convey.ShouldBeTrue)
		convey.So(f.set(errors.New("later")), convey.ShouldBeFalse)
		convey.So(f.err(), convey.ShouldEqual, first)
	})

	convey.Convey("Run fails on an unreachable rating store", t, func() {
		cfg := testConfig(t)
		cfg.RatingStore = "redis"
		cfg.RedisAddr = "127.0.0.1:1"
		convey.So(run(context.Background(), cfg, logger.Nop()), convey.ShouldNotBeNil)
	})

	convey.Convey("System metrics update without panicking", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
	})
}
