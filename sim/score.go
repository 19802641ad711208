// sim/score.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"cmp"
	"log/slog"
	gomath "math"
	"slices"

	"github.com/tcengine/tcengine/log"
)

// Scorer tracks which conflicts are new from tick to tick, posting
// started/ended events, and keeps the session score: each new
// separation conflict costs a fixed fraction of the score, and every
// PenaltyPeriodS seconds one point is lost per ongoing conflict.
type Scorer struct {
	cfg       ScoringConfig
	Score     int
	HighScore int

	active   map[conflictKey]Conflict
	penaltyS float32

	post func(Event)
	lg   *log.Logger
}

func NewScorer(cfg ScoringConfig, post func(Event), lg *log.Logger) *Scorer {
	return &Scorer{
		cfg:       cfg,
		Score:     cfg.Initial,
		HighScore: cfg.Initial,
		active:    make(map[conflictKey]Conflict),
		post:      post,
		lg:        lg,
	}
}

// Update takes the conflicts found this tick, dt seconds after the
// previous call.
func (s *Scorer) Update(conflicts []Conflict, dt float32) {
	current := make(map[conflictKey]Conflict, len(conflicts))
	for _, c := range conflicts {
		current[c.key()] = c
	}

	newConflicts := 0
	for _, c := range conflicts {
		if _, ok := s.active[c.key()]; ok {
			continue
		}
		s.lg.Info("conflict started", slog.Any("conflict", c))
		s.post(Event{Type: ConflictStartedEvent, Aircraft: c.Aircraft1, Callsign: c.Callsign1, Conflict: &c})
		if c.Reason != ReasonWake {
			newConflicts++
		}
	}
	var ended []Conflict
	for k, c := range s.active {
		if _, ok := current[k]; !ok {
			ended = append(ended, c)
		}
	}
	slices.SortFunc(ended, func(a, b Conflict) int {
		return cmp.Or(cmp.Compare(a.Aircraft1, b.Aircraft1), cmp.Compare(a.Aircraft2, b.Aircraft2),
			cmp.Compare(a.MinAltSector, b.MinAltSector), cmp.Compare(a.Reason, b.Reason))
	})
	for _, c := range ended {
		s.lg.Info("conflict ended", slog.Any("conflict", c))
		s.post(Event{Type: ConflictEndedEvent, Aircraft: c.Aircraft1, Callsign: c.Callsign1, Conflict: &c})
	}
	s.active = current

	score := s.Score
	if newConflicts > 0 {
		// The epsilon keeps exact products such as 1000*0.95 from
		// flooring one point low.
		score = int(gomath.Floor(float64(score)*gomath.Pow(s.cfg.ConflictFactor, float64(newConflicts)) + 1e-9))
	}

	s.penaltyS += dt
	for s.penaltyS >= s.cfg.PenaltyPeriodS {
		s.penaltyS -= s.cfg.PenaltyPeriodS
		score -= len(conflicts)
	}
	score = max(0, score)

	if score != s.Score {
		s.Score = score
		s.HighScore = max(s.HighScore, score)
		s.post(Event{Type: ScoreChangedEvent, Score: score})
	}
}
