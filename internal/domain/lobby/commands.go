package lobby

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/ranklobby/internal/domain/division"
	"github.com/okian/ranklobby/pkg/logger"
	"github.com/okian/ranklobby/pkg/metrics"
)

const aboutText = "This lobby picks content close to the median skill of its players. " +
	"Commands: !start !wait !skip !kick <player> !ban <player> !abort !rank !setstars <min> <max> !close"

// ParseCommand splits "!name args" into a lowercase name and its arguments.
// ok is false for anything that is not a command.
func ParseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (l *Lobby) handleCommand(ctx context.Context, c Command) {
	name, args, ok := ParseCommand(c.Text)
	if !ok {
		return
	}
	if _, present := l.players[c.PlayerID]; !present && c.PlayerID != l.settings.CreatorID {
		return
	}
	l.log.Debug(ctx, "command", logger.Int64("player_id", c.PlayerID), logger.String("command", name))

	switch name {
	case "start":
		l.cmdStart(ctx)
	case "wait", "stop":
		if l.cancelCountdown(ctx) {
			l.send(ctx, "Match auto-start is cancelled. Type !start to restart it.")
		}
	case "skip":
		l.cmdSkip(ctx, c.PlayerID)
	case "kick":
		l.cmdKick(ctx, c.PlayerID, strings.Join(args, " "), false)
	case "ban":
		l.cmdKick(ctx, c.PlayerID, strings.Join(args, " "), true)
	case "abort":
		l.cmdAbort(ctx, c.PlayerID)
	case "close":
		if c.PlayerID != l.settings.CreatorID {
			return
		}
		l.shutdownRequested(ctx)
	case "setstars":
		l.cmdSetStars(ctx, c.PlayerID, args)
	case "rank":
		l.cmdRank(ctx, c.PlayerID)
	case "about":
		l.send(ctx, aboutText)
	}
}

func (l *Lobby) cmdStart(ctx context.Context) {
	if l.state == StatePlaying || l.countdownArmed() {
		return
	}
	if len(l.players) < 2 {
		l.startMatch(ctx)
		return
	}
	l.armCountdown(ctx)
}

func (l *Lobby) cmdSkip(ctx context.Context, voter int64) {
	if l.state == StatePlaying {
		return
	}
	if voter == l.settings.CreatorID {
		metrics.RecordVote("skip", true)
		l.selectContent(ctx, "creator skip")
		return
	}
	if !l.skips.add(voter) {
		return
	}
	n := len(l.players)
	if SkipPasses(len(l.skips), n) {
		metrics.RecordVote("skip", true)
		l.selectContent(ctx, "skip vote")
		return
	}
	metrics.RecordVote("skip", false)
	l.send(ctx, fmt.Sprintf("%d/%d players voted to switch to another map.", len(l.skips), SkipQuorum(n)))
}

// findPlayer resolves a vote target by name (case-insensitive) or numeric id.
func (l *Lobby) findPlayer(target string) (int64, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return 0, false
	}
	for _, id := range l.order {
		if strings.EqualFold(l.players[id].Name, target) {
			return id, true
		}
	}
	if id, err := strconv.ParseInt(strings.TrimPrefix(target, "#"), 10, 64); err == nil {
		if _, ok := l.players[id]; ok {
			return id, true
		}
	}
	return 0, false
}

func (l *Lobby) cmdKick(ctx context.Context, voter int64, target string, ban bool) {
	kind := "kick"
	if ban {
		kind = "ban"
	}
	id, ok := l.findPlayer(target)
	if !ok || id == voter {
		return
	}
	count, added := l.kicks.add(id, voter)
	if !added {
		return
	}
	need := KickQuorum(len(l.players))
	if count < need {
		metrics.RecordVote(kind, false)
		l.send(ctx, fmt.Sprintf("%s voted to %s %s. %d/%d votes needed.",
			l.playerName(voter), kind, l.playerName(id), count, need))
		return
	}

	metrics.RecordVote(kind, true)
	delete(l.kicks, id)
	if ban {
		l.banned[id] = struct{}{}
	}
	l.log.Info(ctx, "vote passed", logger.String("vote", kind), logger.Int64("target", id), logger.Int("votes", count))
	if err := l.sess.Kick(ctx, id); err != nil {
		l.log.Warn(ctx, "kick failed", logger.Int64("player_id", id), logger.Error(err))
	}
}

func (l *Lobby) cmdAbort(ctx context.Context, voter int64) {
	if l.state != StatePlaying {
		l.send(ctx, fmt.Sprintf("%s: The match has not started, cannot abort.", l.playerName(voter)))
		return
	}
	if !l.aborts.add(voter) {
		return
	}
	need := AbortQuorum(len(l.players))
	if len(l.aborts) < need {
		metrics.RecordVote("abort", false)
		l.send(ctx, fmt.Sprintf("%s voted to abort the match. %d/%d votes needed.",
			l.playerName(voter), len(l.aborts), need))
		return
	}

	metrics.RecordVote("abort", true)
	if err := l.sess.AbortMatch(ctx); err != nil {
		l.log.Error(ctx, "abort match failed", logger.Error(err))
		return
	}
	l.cancel(timerAFK, 0)
	l.aborts = voterSet{}
	l.confirmed = nil
	l.scored = nil
	l.setState(StateAwaitingReady)
	metrics.RecordLobbyEvent("match_aborted")
	l.selectContent(ctx, "match aborted")
	l.settle()
}

func (l *Lobby) cmdSetStars(ctx context.Context, voter int64, args []string) {
	if voter != l.settings.CreatorID {
		return
	}
	if len(args) != 2 {
		l.send(ctx, "Usage: !setstars <min> <max>")
		return
	}
	lo, err1 := strconv.ParseFloat(args[0], 64)
	hi, err2 := strconv.ParseFloat(args[1], 64)
	if err1 != nil || err2 != nil || lo < 0 || hi <= lo || hi > 20 {
		l.send(ctx, "Invalid star range. Use two numbers with min < max, for example !setstars 4 5.")
		return
	}
	l.fixedStars = true
	l.minStars, l.maxStars = lo, hi
	l.rename(ctx)
	l.selectContent(ctx, "star range changed")
}

func (l *Lobby) cmdRank(ctx context.Context, id int64) {
	if l.deps.Ranks == nil {
		return
	}
	info, err := l.deps.Ranks.Rank(ctx, id, l.settings.Mode)
	if err != nil {
		l.log.Warn(ctx, "rank lookup failed", logger.Int64("player_id", id), logger.Error(err))
		return
	}
	name := l.playerName(id)
	if info.Tier == "" || info.Tier == division.Unranked {
		left := max(division.MinObservations-info.Games, 1)
		l.send(ctx, fmt.Sprintf("%s: You are unranked. Play %d more games to get a rank!", name, left))
		return
	}
	l.send(ctx, fmt.Sprintf("%s: You are %s (#%d, %.0f elo).", name, info.Tier, info.Rank, info.Elo))
}

// shutdownRequested closes the lobby from inside the actor.
func (l *Lobby) shutdownRequested(ctx context.Context) {
	l.spawn(func(context.Context) Event { return Close{Reason: "closed by creator"} })
}
