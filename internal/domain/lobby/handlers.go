package lobby

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/okian/ranklobby/internal/domain/model"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
)

const maxRankUpdatesPerMessage = 6

func byPlayerID(a, b model.Player) int { return cmp.Compare(a.ID, b.ID) }

func (l *Lobby) handleJoinNotice(ctx context.Context, e JoinNotice) {
	if _, ok := l.players[e.PlayerID]; ok {
		return
	}
	if l.cfg.JoinDeadline > 0 {
		l.arm(timerJoinDeadline, e.PlayerID, l.cfg.JoinDeadline)
	}
	l.log.Debug(ctx, "join notice", logger.Int64("player_id", e.PlayerID), logger.String("name", e.Name))
}

func (l *Lobby) handleJoined(ctx context.Context, p model.Player) {
	l.cancel(timerJoinDeadline, p.ID)
	log := l.log.With(logger.Int64("player_id", p.ID), logger.String("name", p.Name))

	if _, ok := l.banned[p.ID]; ok {
		log.Info(ctx, "banned player rejoined")
		if err := l.sess.Kick(ctx, p.ID); err != nil {
			log.Warn(ctx, "kick failed", logger.Error(err))
		}
		return
	}
	if _, ok := l.players[p.ID]; ok {
		l.players[p.ID] = p
		l.recompute()
		return
	}

	stars := l.scaledStars(p)
	slack := 1.5
	if l.fixedStars {
		slack = 0.5
	}
	if !p.Skill.IsZero() && (stars < l.minStars-slack || stars > l.maxStars+slack) {
		l.rejectOutOfRange(ctx, p, stars)
		return
	}

	wasEmpty := len(l.players) == 0
	l.players[p.ID] = p
	l.order = append(l.order, p.ID)
	l.recompute()
	metrics.RecordLobbyEvent("join")
	log.Info(ctx, "player joined", logger.Int("occupancy", len(l.players)))

	if wasEmpty {
		l.settle()
		l.selectContent(ctx, "first join")
	}
	l.settle()
}

func (l *Lobby) rejectOutOfRange(ctx context.Context, p model.Player, stars float64) {
	metrics.RecordLobbyEvent("rejected_range")
	if err := l.sess.Kick(ctx, p.ID); err != nil {
		l.log.Warn(ctx, "kick failed", logger.Int64("player_id", p.ID), logger.Error(err))
	}

	var b strings.Builder
	b.WriteString("Sorry, but your level is")
	if stars < l.minStars {
		fmt.Fprintf(&b, " not high enough for this lobby (estimated %.2f*, lobby %.2f*).", stars, l.minStars)
	} else {
		fmt.Fprintf(&b, " too high for this lobby (estimated %.2f*, lobby %.2f*).", stars, l.maxStars)
	}
	if l.deps.Placer != nil {
		if alt, ok := l.deps.Placer.Suggest(p, l.id); ok {
			fmt.Fprintf(&b, " You can join this one instead: %s", alt.Name)
		} else {
			b.WriteString(" No other open lobby matches your level right now.")
		}
	}
	if err := l.sess.Notify(ctx, p.ID, b.String()); err != nil {
		l.log.Warn(ctx, "notify failed", logger.Int64("player_id", p.ID), logger.Error(err))
	}
}

func (l *Lobby) handleLeft(ctx context.Context, id int64) {
	l.cancel(timerJoinDeadline, id)
	if _, ok := l.players[id]; !ok {
		return
	}
	delete(l.players, id)
	l.order = slices.DeleteFunc(l.order, func(x int64) bool { return x == id })
	l.kicks.forget(id)
	delete(l.skips, id)
	delete(l.aborts, id)
	l.recompute()
	metrics.RecordLobbyEvent("leave")
	l.log.Info(ctx, "player left", logger.Int64("player_id", id), logger.Int("occupancy", len(l.players)))

	if len(l.players) == 0 {
		l.cancel(timerCountdownInitial, 0)
		l.cancel(timerCountdownFinal, 0)
		l.cancel(timerAFK, 0)
		l.skips = voterSet{}
		l.aborts = voterSet{}
		if !l.fixedStars {
			l.minStars, l.maxStars = DefaultMinStars, DefaultMaxStars
			l.rename(ctx)
		}
		if l.state != StatePlaying {
			l.settle()
		}
		return
	}

	if SkipPasses(len(l.skips), len(l.players)) {
		l.selectContent(ctx, "skip vote after leave")
	}
	l.settle()
}

func (l *Lobby) handleAllReady(ctx context.Context) {
	if l.state == StatePlaying {
		return
	}
	if len(l.players) < 2 {
		now := l.sched.Now()
		if !l.lastReadyNotice.IsZero() && now.Sub(l.lastReadyNotice) < l.cfg.ReadyNoticeCooldown {
			return
		}
		l.lastReadyNotice = now
		l.send(ctx, "With less than 2 players in the lobby, your rank will not change. Type !start to start anyway.")
		return
	}
	l.startMatch(ctx)
}

func (l *Lobby) startMatch(ctx context.Context) {
	l.cancel(timerCountdownInitial, 0)
	l.cancel(timerCountdownFinal, 0)
	if err := l.sess.StartMatch(ctx); err != nil {
		l.log.Error(ctx, "start match failed", logger.Error(err))
	}
	l.settle()
}

// armCountdown starts the two stage auto-start.
func (l *Lobby) armCountdown(ctx context.Context) {
	l.arm(timerCountdownInitial, 0, l.cfg.CountdownInitial)
	l.setState(StateCountdownArmed)
	total := (l.cfg.CountdownInitial + l.cfg.CountdownFinal).Seconds()
	l.send(ctx, fmt.Sprintf("Starting the match in %.0f seconds... Ready up to start sooner.", total))
}

func (l *Lobby) countdownArmed() bool {
	return l.armed(timerCountdownInitial, 0) || l.armed(timerCountdownFinal, 0)
}

func (l *Lobby) cancelCountdown(ctx context.Context) bool {
	if !l.countdownArmed() {
		return false
	}
	l.cancel(timerCountdownInitial, 0)
	l.cancel(timerCountdownFinal, 0)
	l.settle()
	return true
}

func (l *Lobby) handleMatchStarted(ctx context.Context) {
	l.cancel(timerCountdownInitial, 0)
	l.cancel(timerCountdownFinal, 0)
	l.cancel(timerAFK, 0)
	l.skips = voterSet{}
	l.aborts = voterSet{}
	if !l.cfg.KeepKickVotes {
		l.kicks = kickVotes{}
	}
	l.confirmed = maps.Clone(l.players)
	l.scored = make(map[int64]struct{})
	l.startedAt = l.sched.Now()
	l.setState(StatePlaying)
	metrics.RecordLobbyEvent("match_started")
	l.log.Info(ctx, "match started", logger.Int("participants", len(l.confirmed)))
}

func (l *Lobby) handleScore(ctx context.Context, e InMatchScore) {
	if l.state != StatePlaying {
		return
	}
	first := len(l.scored) == 0
	l.scored[e.PlayerID] = struct{}{}
	if first && l.cfg.AFKDelay > 0 && !l.armed(timerAFK, 0) {
		l.arm(timerAFK, 0, l.cfg.AFKDelay)
		l.log.Debug(ctx, "afk watchdog armed")
	}
}

// afkCheck kicks a single idle participant and re-arms when several are idle.
func (l *Lobby) afkCheck(ctx context.Context) {
	if l.state != StatePlaying {
		return
	}
	var idle []int64
	for id := range l.confirmed {
		if _, present := l.players[id]; !present {
			continue
		}
		if _, ok := l.scored[id]; !ok {
			idle = append(idle, id)
		}
	}
	switch len(idle) {
	case 0:
	case 1:
		id := idle[0]
		l.log.Info(ctx, "kicking afk player", logger.Int64("player_id", id))
		delete(l.confirmed, id)
		if err := l.sess.Kick(ctx, id); err != nil {
			l.log.Warn(ctx, "kick failed", logger.Int64("player_id", id), logger.Error(err))
		}
		l.handleLeft(ctx, id)
		metrics.RecordLobbyEvent("afk_kick")
	default:
		l.arm(timerAFK, 0, l.cfg.AFKDelay)
	}
}

func (l *Lobby) handleMatchFinished(ctx context.Context, e MatchFinished) {
	l.cancel(timerAFK, 0)
	finished := l.sched.Now()
	metrics.RecordLobbyEvent("match_finished")

	var req *MatchRequest
	if l.content != nil && l.state == StatePlaying {
		confirmed := make([]model.Player, 0, len(l.confirmed))
		for _, p := range l.confirmed {
			confirmed = append(confirmed, p)
		}
		slices.SortFunc(confirmed, byPlayerID)
		req = &MatchRequest{
			LobbyID:    l.id,
			SessionID:  l.sess.ID(),
			Mode:       l.settings.Mode,
			ContentID:  l.content.Item.ID,
			Mods:       l.settings.Mods,
			Confirmed:  confirmed,
			StartedAt:  l.startedAt,
			FinishedAt: finished,
		}
	}
	l.confirmed = nil
	l.scored = nil
	l.setState(StateAwaitingReady)
	l.log.Info(ctx, "match finished", logger.Int("scores", len(e.Scores)))

	l.selectContent(ctx, "match finished")

	if req != nil && l.deps.Results != nil {
		l.resolving++
		results := l.deps.Results
		r := *req
		l.spawn(func(ctx context.Context) Event {
			start := l.sched.Now()
			changes, err := results.RecordMatch(ctx, r)
			return reportDone{contentID: r.ContentID, changes: changes, err: err, took: l.sched.Now().Sub(start)}
		})
	}
	l.settle()
}

func (l *Lobby) handleReportDone(ctx context.Context, e reportDone) {
	l.resolving = max(0, l.resolving-1)
	defer l.settle()
	if e.err != nil {
		metrics.RecordLobbyEvent("report_failed")
		l.log.Error(ctx, "match results were not recorded",
			logger.Int64("content_id", e.contentID), logger.Error(e.err))
		l.send(ctx, "Sorry, the results of the last match could not be recorded.")
		return
	}
	l.log.Info(ctx, "match recorded", logger.Int("tier_changes", len(e.changes)),
		logger.Duration("took", e.took))
	for _, msg := range RankUpdateMessages(e.changes) {
		l.send(ctx, msg)
	}
}

// RankUpdateMessages formats tier changes, at most six per line.
func RankUpdateMessages(changes []model.TierChange) []string {
	if len(changes) == 0 {
		return nil
	}
	parts := make([]string, len(changes))
	for i, c := range changes {
		arrow := "▼"
		if c.Promoted {
			arrow = "▲"
		}
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("#%d", c.PlayerID)
		}
		parts[i] = fmt.Sprintf("%s %s %s", name, arrow, c.NewTier)
	}
	var out []string
	for i := 0; i < len(parts); i += maxRankUpdatesPerMessage {
		chunk := strings.Join(parts[i:min(i+maxRankUpdatesPerMessage, len(parts))], " | ")
		if i == 0 {
			chunk = "Rank updates: " + chunk
		}
		out = append(out, chunk)
	}
	return out
}

func (l *Lobby) handleAvailability(ctx context.Context, e availabilityChecked) {
	if e.err != nil {
		l.log.Warn(ctx, "content metadata fetch failed", logger.Int64("content_id", e.contentID), logger.Error(e.err))
		return
	}
	if e.available || l.content == nil || l.content.Item.ID != e.contentID {
		return
	}
	if err := l.deps.Guard.MarkUnavailable(ctx, e.contentID); err != nil {
		l.log.Error(ctx, "mark unavailable failed", logger.Int64("content_id", e.contentID), logger.Error(err))
	}
	metrics.RecordLobbyEvent("content_unavailable")
	l.cancelCountdown(ctx)
	l.selectContent(ctx, "content unavailable")
	msg := "Skipped previous content because download was unavailable."
	if e.info != "" {
		msg = fmt.Sprintf("Skipped previous content because download was unavailable (%s).", e.info)
	}
	l.send(ctx, msg)
}

func (l *Lobby) handleTimer(ctx context.Context, e timerFired) {
	if !l.claim(e) {
		return
	}
	switch e.kind {
	case timerCountdownInitial:
		if l.state == StatePlaying {
			l.settle()
			return
		}
		l.arm(timerCountdownFinal, 0, l.cfg.CountdownFinal)
		l.send(ctx, fmt.Sprintf("Starting the match in %.0f seconds... Ready up to start sooner.", l.cfg.CountdownFinal.Seconds()))
	case timerCountdownFinal:
		if l.state != StatePlaying {
			l.startMatch(ctx)
		}
		l.settle()
	case timerAFK:
		l.afkCheck(ctx)
	case timerJoinDeadline:
		if _, ok := l.players[e.player]; ok {
			return
		}
		err := fmt.Errorf("%w: lobby %s, player %d not confirmed within %s",
			ErrProtocolDesync, l.id, e.player, l.cfg.JoinDeadline)
		l.log.Error(ctx, "protocol desync", logger.Error(err))
		metrics.RecordErrorByComponent("lobby", "protocol_desync")
		l.fatal(err)
	}
}
