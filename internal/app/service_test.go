package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/ranklobby/internal/adapters/session"
	"github.com/okian/ranklobby/internal/adapters/sqlite"
	"github.com/okian/ranklobby/internal/adapters/upstream"
	"github.com/okian/ranklobby/internal/adapters/ws"
	"github.com/okian/ranklobby/internal/domain/division"
	"github.com/okian/ranklobby/internal/domain/lobby"
	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeReports struct {
	mu       sync.Mutex
	queue    []model.MatchReport
	errs     []error
	calls    int
	fallback model.MatchReport
}

func (f *fakeReports) FetchMatchReport(_ context.Context, sessionID string) (model.MatchReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return model.MatchReport{}, err
	}
	if len(f.queue) > 0 {
		r := f.queue[0]
		f.queue = f.queue[1:]
		return r, nil
	}
	return f.fallback, nil
}

func (f *fakeReports) push(r model.MatchReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, r)
}

type fakeMetadata struct {
	mu    sync.Mutex
	items map[int64]upstream.Metadata
}

func (f *fakeMetadata) FetchAttributes(_ context.Context, id int64) (upstream.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, ok := f.items[id]
	if !ok {
		return upstream.Metadata{}, upstream.ErrNotFound
	}
	return md, nil
}

type capture struct {
	mu  sync.Mutex
	got []ws.Message
}

func (c *capture) Publish(topic, typ string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ws.Message{Topic: topic, Type: typ, Data: data})
}

func (c *capture) count(topic, typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.got {
		if m.Topic == topic && m.Type == typ {
			n++
		}
	}
	return n
}

func content(id int64, stars float64) model.ContentItem {
	return model.ContentItem{
		ID:          id,
		SetID:       id,
		Mode:        model.ModeOsu,
		Name:        "map",
		Attributes:  model.Attributes{AR: 9, Length: 90},
		RankedState: model.RankedRanked,
		Profiles: map[model.ModSet]model.SkillVector{
			model.ModSetNoMod: {Aim: stars, Speed: stars, Acc: stars, AR: 9, Stars: stars},
		},
	}
}

type fixture struct {
	svc     *Service
	store   *sqlite.Store
	ratings RatingStore
	reports *fakeReports
	meta    *fakeMetadata
	pub     *capture
}

func newFixture(t *testing.T, extra ...func(*fixture) Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		if err := store.InsertContent(ctx, content(i, 3+float64(i)/2)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	f := &fixture{
		store:   store,
		ratings: store,
		reports: &fakeReports{},
		meta:    &fakeMetadata{items: map[int64]upstream.Metadata{}},
		pub:     &capture{},
	}
	for i := int64(1); i <= 5; i++ {
		f.meta.items[i] = upstream.Metadata{ContentItem: content(i, 3+float64(i)/2)}
	}
	opts := []Option{
		WithUpstream(f.meta, f.reports),
		WithReportRetry(3, 0),
		WithWorkerCount(2),
		WithPublisher(f.pub),
		WithLogger(logger.Nop()),
	}
	for _, e := range extra {
		if o := e(f); o != nil {
			opts = append(opts, o)
		}
	}
	f.svc = New(f.ratings, store, opts...)
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = f.svc.Stop(context.Background())
		_ = store.Close()
	})
	return f
}

var errUpsert = errors.New("upsert failed")

// flakyRatings fails the next n upserts of a key.
type flakyRatings struct {
	*sqlite.Store
	mu   sync.Mutex
	fail map[model.RatingKey]int
}

func (r *flakyRatings) UpsertRating(ctx context.Context, rt model.Rating) error {
	r.mu.Lock()
	n := r.fail[rt.Key]
	if n > 0 {
		r.fail[rt.Key] = n - 1
	}
	r.mu.Unlock()
	if n > 0 {
		return errUpsert
	}
	return r.Store.UpsertRating(ctx, rt)
}

func report(gameID, contentID int64, results ...model.Result) model.MatchReport {
	return model.MatchReport{
		GameID:     gameID,
		ContentID:  contentID,
		Mode:       model.ModeOsu,
		FinishedAt: time.Unix(1_700_000_000+gameID, 0),
		Results:    results,
	}
}

func eventually(cond func() bool) bool {
	for range 200 {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestRecordMatch(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service", t, func() {
		f := newFixture(t)
		req := lobby.MatchRequest{
			LobbyID:   "lobby-1",
			SessionID: "s1",
			Mode:      model.ModeOsu,
			ContentID: 2,
			Confirmed: []model.Player{{ID: 10, Name: "alice"}, {ID: 11, Name: "bob"}, {ID: 12, Name: "dodger"}},
		}

		Convey("A report updates every participant, dodgers included", func() {
			f.reports.push(report(1, 2,
				model.Result{PlayerID: 10, Passed: true},
				model.Result{PlayerID: 11, Passed: false}))

			changes, err := f.svc.RecordMatch(ctx, req)
			So(err, ShouldBeNil)
			So(changes, ShouldBeEmpty)

			alice, err := f.store.GetRating(ctx, model.RatingKey{Kind: model.KindPlayer, ID: 10, Mode: model.ModeOsu})
			So(err, ShouldBeNil)
			So(alice.Observations, ShouldEqual, int64(1))
			So(alice.CurrentMu, ShouldBeGreaterThan, 0)

			dodger, err := f.store.GetRating(ctx, model.RatingKey{Kind: model.KindPlayer, ID: 12, Mode: model.ModeOsu})
			So(err, ShouldBeNil)
			So(dodger.Observations, ShouldEqual, int64(1))
			So(dodger.CurrentMu, ShouldBeLessThan, 0)

			item, err := f.store.GetRating(ctx, model.RatingKey{Kind: model.KindContent, ID: 2, Mode: model.ModeOsu})
			So(err, ShouldBeNil)
			So(item.Observations, ShouldEqual, int64(3))

			Convey("and the same game again changes nothing", func() {
				f.reports.push(report(1, 2, model.Result{PlayerID: 10, Passed: true}))
				changes, err := f.svc.RecordMatch(ctx, req)
				So(err, ShouldBeNil)
				So(changes, ShouldBeNil)
				again, _ := f.store.GetRating(ctx, alice.Key)
				So(again.Observations, ShouldEqual, int64(1))
			})
		})

		Convey("Empty and stale reports are polled again", func() {
			f.reports.errs = []error{upstream.ErrEmptyReport}
			f.reports.push(report(7, 99, model.Result{PlayerID: 10, Passed: true}))
			f.reports.push(report(8, 2, model.Result{PlayerID: 10, Passed: true}))

			_, err := f.svc.RecordMatch(ctx, lobby.MatchRequest{SessionID: "s1", Mode: model.ModeOsu, ContentID: 2})
			So(err, ShouldBeNil)
			So(f.reports.calls, ShouldEqual, 3)
		})

		Convey("Polling gives up after the configured attempts", func() {
			f.reports.errs = []error{upstream.ErrTransient, upstream.ErrTransient, upstream.ErrTransient, upstream.ErrTransient}
			_, err := f.svc.RecordMatch(ctx, req)
			So(errors.Is(err, upstream.ErrTransient), ShouldBeTrue)
			So(f.reports.calls, ShouldEqual, 3)
		})

		Convey("A player's fifth rated game earns a tier", func() {
			solo := lobby.MatchRequest{SessionID: "s1", Mode: model.ModeOsu, ContentID: 3, Confirmed: []model.Player{{ID: 20, Name: "carol"}}}
			var last []model.TierChange
			for g := int64(100); g < 105; g++ {
				f.reports.push(report(g, 3, model.Result{PlayerID: 20, Name: "carol", Passed: true}))
				changes, err := f.svc.RecordMatch(ctx, solo)
				So(err, ShouldBeNil)
				last = changes
			}
			So(last, ShouldHaveLength, 1)
			So(last[0].OldTier, ShouldEqual, division.Unranked)
			So(last[0].NewTier, ShouldEqual, division.TheOne)
			So(last[0].Promoted, ShouldBeTrue)
			So(f.pub.count(ws.TopicTiers, "tier_change"), ShouldEqual, 1)

			info, err := f.svc.Rank(ctx, 20, model.ModeOsu)
			So(err, ShouldBeNil)
			So(info.Tier, ShouldEqual, division.TheOne)
			So(info.Rank, ShouldEqual, 1)
			So(info.Games, ShouldEqual, int64(5))

			board, err := f.svc.Leaderboard(ctx, model.ModeOsu, 10)
			So(err, ShouldBeNil)
			So(board, ShouldHaveLength, 1)
			So(board[0].PlayerID, ShouldEqual, int64(20))
		})
	})
}

func TestSubmitReport(t *testing.T) {
	ctx := context.Background()

	Convey("Submitted reports are processed asynchronously and deduplicated", t, func() {
		f := newFixture(t)
		r := report(50, 1, model.Result{PlayerID: 30, Passed: true})

		dup, err := f.svc.SubmitReport(ctx, r)
		So(err, ShouldBeNil)
		So(dup, ShouldBeFalse)
		dup, err = f.svc.SubmitReport(ctx, r)
		So(err, ShouldBeNil)
		So(dup, ShouldBeTrue)

		So(eventually(func() bool {
			got, err := f.store.GetRating(ctx, model.RatingKey{Kind: model.KindPlayer, ID: 30, Mode: model.ModeOsu})
			return err == nil && got.Observations == 1
		}), ShouldBeTrue)
	})

	Convey("A stopped service rejects reports", t, func() {
		svc := New(nil, nil, WithLogger(logger.Nop()))
		_, err := svc.SubmitReport(ctx, model.MatchReport{GameID: 1})
		So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
	})
}

func TestPartialFailure(t *testing.T) {
	ctx := context.Background()

	Convey("Given a rating store that fails one player's update once", t, func() {
		bob := model.RatingKey{Kind: model.KindPlayer, ID: 11, Mode: model.ModeOsu}
		f := newFixture(t, func(f *fixture) Option {
			f.ratings = &flakyRatings{Store: f.store, fail: map[model.RatingKey]int{bob: 1}}
			return nil
		})
		req := lobby.MatchRequest{SessionID: "s1", Mode: model.ModeOsu, ContentID: 2,
			Confirmed: []model.Player{{ID: 10, Name: "alice"}, {ID: 11, Name: "bob"}}}
		r := report(60, 2,
			model.Result{PlayerID: 10, Passed: true},
			model.Result{PlayerID: 11, Passed: true})

		f.reports.push(r)
		_, err := f.svc.RecordMatch(ctx, req)
		So(errors.Is(err, errUpsert), ShouldBeTrue)

		stale, err := f.store.GetRating(ctx, bob)
		So(err, ShouldBeNil)
		So(stale.Observations, ShouldEqual, int64(0))

		Convey("retrying the stored game finishes the update", func() {
			f.reports.push(r)
			changes, err := f.svc.RecordMatch(ctx, req)
			So(err, ShouldBeNil)
			So(changes, ShouldBeEmpty)

			got, err := f.store.GetRating(ctx, bob)
			So(err, ShouldBeNil)
			So(got.Observations, ShouldEqual, int64(1))

			alice, err := f.store.GetRating(ctx, model.RatingKey{Kind: model.KindPlayer, ID: 10, Mode: model.ModeOsu})
			So(err, ShouldBeNil)
			So(alice.Observations, ShouldEqual, int64(1))

			item, err := f.store.GetRating(ctx, model.RatingKey{Kind: model.KindContent, ID: 2, Mode: model.ModeOsu})
			So(err, ShouldBeNil)
			So(item.Observations, ShouldEqual, int64(2))
		})
	})
}

func TestSkillProfiles(t *testing.T) {
	ctx := context.Background()

	Convey("Given players who played rated content", t, func() {
		f := newFixture(t)
		solo := func(id int64) lobby.MatchRequest {
			return lobby.MatchRequest{SessionID: "s1", Mode: model.ModeOsu, ContentID: id}
		}

		f.reports.push(report(70, 3,
			model.Result{PlayerID: 40, Name: "dave", Passed: true},
			model.Result{PlayerID: 41, Name: "erin", Passed: false}))
		_, err := f.svc.RecordMatch(ctx, solo(3))
		So(err, ShouldBeNil)

		Convey("a pass seeds the profile from the content", func() {
			p, err := f.svc.Player(ctx, 40, "", model.ModeOsu)
			So(err, ShouldBeNil)
			So(p.Name, ShouldEqual, "dave")
			So(p.Skill.Stars, ShouldAlmostEqual, 4.5, 1e-9)
			So(p.Skill.AR, ShouldAlmostEqual, 9, 1e-9)
		})

		Convey("a fail leaves the player without a profile", func() {
			p, err := f.svc.Player(ctx, 41, "erin", model.ModeOsu)
			So(err, ShouldBeNil)
			So(p.Skill.IsZero(), ShouldBeTrue)
		})

		Convey("later passes blend towards the new content", func() {
			f.reports.push(report(71, 5, model.Result{PlayerID: 40, Name: "dave", Passed: true}))
			_, err := f.svc.RecordMatch(ctx, solo(5))
			So(err, ShouldBeNil)

			p, err := f.svc.Player(ctx, 40, "", model.ModeOsu)
			So(err, ShouldBeNil)
			So(p.Skill.Stars, ShouldAlmostEqual, 4.75, 1e-9)
		})
	})
}

func TestContent(t *testing.T) {
	ctx := context.Background()

	Convey("Given upstream metadata", t, func() {
		f := newFixture(t)
		f.meta.items[77] = upstream.Metadata{ContentItem: content(77, 6)}
		f.meta.items[78] = upstream.Metadata{
			ContentItem:  content(78, 6),
			Availability: upstream.Availability{DownloadDisabled: true, MoreInformation: "DMCA"},
		}

		Convey("Unseen content is acquired with a seeded rating", func() {
			So(f.svc.AcquireContent(ctx, 77), ShouldBeTrue)
			So(eventually(func() bool {
				ok, _ := f.store.HasContent(ctx, 77)
				return ok
			}), ShouldBeTrue)
			So(eventually(func() bool {
				_, err := f.store.GetRating(ctx, model.RatingKey{Kind: model.KindContent, ID: 77, Mode: model.ModeOsu})
				return err == nil
			}), ShouldBeTrue)
			r, _ := f.store.GetRating(ctx, model.RatingKey{Kind: model.KindContent, ID: 77, Mode: model.ModeOsu})
			So(r.CurrentMu, ShouldAlmostEqual, model.ContentMuFromStars(6), 1e-9)
		})

		Convey("Availability follows the download flag", func() {
			ok, info, err := f.svc.Available(ctx, 77)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			ok, info, err = f.svc.Available(ctx, 78)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(info, ShouldEqual, "DMCA")

			ok, _, err = f.svc.Available(ctx, 404)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Unknown players are unranked", func() {
			info, err := f.svc.Rank(ctx, 999, model.ModeOsu)
			So(err, ShouldBeNil)
			So(info.Tier, ShouldEqual, division.Unranked)
			So(info.Rank, ShouldEqual, 0)
		})
	})
}

func TestSessions(t *testing.T) {
	ctx := context.Background()

	Convey("Given an attached session", t, func() {
		f := newFixture(t)
		snap, err := f.svc.Attach(ctx, AttachRequest{SessionID: "s9", Settings: lobby.Settings{Mode: model.ModeOsu}})
		So(err, ShouldBeNil)
		So(snap.SessionID, ShouldEqual, "s9")
		So(f.svc.Lobbies(), ShouldHaveLength, 1)

		Convey("Attaching it twice fails", func() {
			_, err := f.svc.Attach(ctx, AttachRequest{SessionID: "s9"})
			So(errors.Is(err, ErrSessionExists), ShouldBeTrue)
		})

		Convey("Events reach its lobby", func() {
			p, err := f.svc.Player(ctx, 10, "alice", model.ModeOsu)
			So(err, ShouldBeNil)
			So(f.svc.Deliver(ctx, "s9", lobby.Joined{Player: p}), ShouldBeNil)
			So(eventually(func() bool {
				s, ok := f.svc.Lobby(snap.ID)
				return ok && s.Occupancy == 1 && s.Content != nil
			}), ShouldBeTrue)
			So(f.pub.count(ws.TopicSessionPrefix+"s9", "set_content"), ShouldBeGreaterThanOrEqualTo, 1)
			So(f.pub.count(ws.TopicLobbies, "snapshot"), ShouldBeGreaterThan, 0)
		})

		Convey("Events for unknown sessions are rejected", func() {
			err := f.svc.Deliver(ctx, "nope", lobby.AllReady{})
			So(errors.Is(err, ErrUnknownSession), ShouldBeTrue)
		})

		Convey("Closing the session removes the lobby", func() {
			So(f.svc.Deliver(ctx, "s9", lobby.Close{Reason: "test"}), ShouldBeNil)
			So(eventually(func() bool { return len(f.svc.Lobbies()) == 0 }), ShouldBeTrue)
		})
	})
}

func TestPlace(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service without a session factory", t, func() {
		f := newFixture(t)
		p, err := f.svc.Player(ctx, 20, "bob", model.ModeOsu)
		So(err, ShouldBeNil)

		Convey("There is nowhere to place a player", func() {
			_, err := f.svc.Place(ctx, p)
			So(errors.Is(err, ErrNoLobby), ShouldBeTrue)
		})
	})

	Convey("Given a service that can open sessions", t, func() {
		f := newFixture(t, func(f *fixture) Option {
			return WithSessionFactory(session.NewFactory(f.pub))
		})
		p, err := f.svc.Player(ctx, 20, "bob", model.ModeOsu)
		So(err, ShouldBeNil)

		Convey("The first placement spawns an owned lobby", func() {
			snap, err := f.svc.Place(ctx, p)
			So(err, ShouldBeNil)
			So(snap.Owned, ShouldBeTrue)
			So(snap.SessionID, ShouldNotBeEmpty)
			So(f.svc.Lobbies(), ShouldHaveLength, 1)
			So(f.pub.count(ws.TopicSessionPrefix+snap.SessionID, "create"), ShouldEqual, 1)

			Convey("The spawned session is addressable", func() {
				got, ok := f.svc.SessionLobby(snap.SessionID)
				So(ok, ShouldBeTrue)
				So(got.ID, ShouldEqual, snap.ID)
			})
		})
	})
}
