package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/ranklobby/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestClient(t *testing.T) {
	Convey("Given an upstream server", t, func() {
		var reportCalls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/content/42", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"id":42,"set_id":7,"mode":"osu","name":"Song","attributes":{"ar":9,"bpm":180},
				"ranked_state":1,"profiles":{"NM":{"stars":5.1,"aim":2.4}},
				"availability":{"download_disabled":true,"more_information":"dmca"}}`)
		})
		mux.HandleFunc("/content/500", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		mux.HandleFunc("/matches/lobby-1/latest", func(w http.ResponseWriter, _ *http.Request) {
			if reportCalls.Add(1) < 3 {
				fmt.Fprint(w, `{"game_id":9,"results":[]}`)
				return
			}
			fmt.Fprint(w, `{"game_id":9,"content_id":42,"mode":"osu","results":[{"player_id":1,"score":100,"passed":true}]}`)
		})
		srv := httptest.NewServer(mux)
		Reset(srv.Close)

		c := NewClient(srv.URL, srv.URL, time.Second, nil)
		ctx := context.Background()

		Convey("Metadata decodes profiles and availability", func() {
			md, err := c.FetchAttributes(ctx, 42)
			So(err, ShouldBeNil)
			So(md.SetID, ShouldEqual, int64(7))
			So(md.Profiles[model.ModSetNoMod].Stars, ShouldAlmostEqual, 5.1, 1e-9)
			So(md.Availability.DownloadDisabled, ShouldBeTrue)
			So(md.Item().Unavailable, ShouldBeTrue)
		})

		Convey("Unknown content is ErrNotFound", func() {
			_, err := c.FetchAttributes(ctx, 1)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("Server errors are transient", func() {
			_, err := c.FetchAttributes(ctx, 500)
			So(errors.Is(err, ErrTransient), ShouldBeTrue)
		})

		Convey("Reports are polled until they have results", func() {
			report, err := Retry(ctx, 5, time.Millisecond, func(ctx context.Context) (model.MatchReport, error) {
				return c.FetchMatchReport(ctx, "lobby-1")
			}, ErrEmptyReport, ErrTransient)
			So(err, ShouldBeNil)
			So(reportCalls.Load(), ShouldEqual, int32(3))
			So(report.LobbyID, ShouldEqual, "lobby-1")
			So(len(report.Results), ShouldEqual, 1)
		})

		Convey("Polling gives up after the last attempt", func() {
			_, err := Retry(ctx, 2, time.Millisecond, func(ctx context.Context) (model.MatchReport, error) {
				return c.FetchMatchReport(ctx, "missing")
			}, ErrEmptyReport, ErrTransient)
			So(errors.Is(err, ErrEmptyReport), ShouldBeTrue)
		})
	})
}

func TestRetry(t *testing.T) {
	Convey("Non-retryable errors stop immediately", t, func() {
		calls := 0
		boom := errors.New("boom")
		_, err := Retry(context.Background(), 5, time.Millisecond, func(context.Context) (int, error) {
			calls++
			return 0, boom
		}, ErrTransient)
		So(errors.Is(err, boom), ShouldBeTrue)
		So(calls, ShouldEqual, 1)
	})

	Convey("Retryable errors use every attempt", t, func() {
		calls := 0
		_, err := Retry(context.Background(), 3, time.Millisecond, func(context.Context) (int, error) {
			calls++
			return 0, ErrTransient
		}, ErrTransient)
		So(errors.Is(err, ErrTransient), ShouldBeTrue)
		So(calls, ShouldEqual, 3)
	})
}
