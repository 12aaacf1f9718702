/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"go.uber.org/zap"
)

// StartGame validates cfg, forms groups from the registered students and
// opens round 1.
func (s *Session) StartGame(callerID string, cfg Config) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.requireInstructorLocked(callerID); err != nil {
		return err
	}
	if s.status != StatusLobby {
		return newError(KindInvalidState, "game cannot be started, it is already %s", s.status)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	students := s.studentsLocked()
	ids := make([]string, 0, len(students))
	for _, p := range students {
		ids = append(ids, p.ID)
	}

	groups, unassigned, err := s.assigner.Assign(ids)
	if err != nil {
		return err
	}

	for _, p := range s.players {
		p.unassign()
		p.CumulativePayoff = 0
		p.Forfeited = false
		p.resetRound()
	}
	for _, g := range groups {
		for i, id := range g.Members {
			p := s.players[id]
			p.GroupIndex = g.ID
			p.RoleInGroup = i + 1
		}
	}

	s.config = cfg
	s.groups = groups
	s.history = nil
	s.currentRound = 0
	s.status = StatusRunning
	s.touchLocked()

	s.log.Info("game started",
		zap.Int("students", len(ids)),
		zap.Int("groups", len(groups)),
		zap.Int("unassigned", len(unassigned)),
		zap.Int("rounds", cfg.TotalRounds),
		zap.Int("punishmentStartsRound", cfg.PunishmentStartsRound))

	unassignedNames := make([]string, 0, len(unassigned))
	for _, id := range unassigned {
		unassignedNames = append(unassignedNames, s.players[id].Name)
	}

	for _, p := range s.playersLocked() {
		ev := GameStarted{
			Config:      cfg,
			TotalRounds: cfg.TotalRounds,
			Group:       s.groupInfoLocked(p),
		}
		if p.Role == RoleInstructor {
			ev.Groups = len(groups)
			ev.Unassigned = unassignedNames
		}
		s.emit(p.ID, ev)
	}

	s.startNextRoundLocked()

	return nil
}

// NextRound leaves the feedback stage, either opening the next round or
// ending the game after the last one.
func (s *Session) NextRound(callerID string) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.requireInstructorLocked(callerID); err != nil {
		return err
	}
	if s.status != StatusRunning || s.stage != StageFeedback {
		return newError(KindInvalidState, "cannot start the next round from the current state (%s)", s.describeLocked())
	}

	s.touchLocked()
	s.startNextRoundLocked()

	return nil
}

// SubmitContribution records amount for playerID. A repeat submission in
// the same round is ignored.
func (s *Session) SubmitContribution(playerID string, amount int) error {
	s.mu.Lock()
	defer s.unlock()

	p, err := s.requireStudentLocked(playerID)
	if err != nil {
		return err
	}
	if s.status != StatusRunning || s.stage != StageContribution {
		return newError(KindInvalidState, "contributions are not being accepted now (%s)", s.describeLocked())
	}
	if !p.assigned() {
		return newError(KindInvalidState, "you are not assigned to a group in this game")
	}
	if p.Round.contributed() {
		return nil
	}
	if amount < 0 || amount > s.config.Endowment {
		return newError(KindInvalidInput, "invalid contribution amount (must be 0-%d)", s.config.Endowment)
	}

	p.Round.Contribution = &amount
	s.touchLocked()

	s.log.Debug("contribution submitted",
		zap.String("player", p.ID),
		zap.Int("round", s.currentRound),
		zap.Int("amount", amount))

	s.emitProgressLocked()
	s.checkAdvanceLocked()

	return nil
}

// SubmitPunishment records the punishment decisions of playerID. The
// whole list is rejected if any entry is invalid or the total spend
// exceeds the player's pre-punishment earnings. A nil list is the same
// as punishing nobody.
func (s *Session) SubmitPunishment(playerID string, entries []Punishment) error {
	s.mu.Lock()
	defer s.unlock()

	p, err := s.requireStudentLocked(playerID)
	if err != nil {
		return err
	}
	if s.status != StatusRunning || s.stage != StagePunishment {
		return newError(KindInvalidState, "punishments are not being accepted now (%s)", s.describeLocked())
	}
	if !p.assigned() {
		return newError(KindInvalidState, "you are not assigned to a group in this game")
	}
	if p.Round.punished() {
		return nil
	}

	seen := make(map[string]bool, len(entries))
	accepted := make([]Punishment, 0, len(entries))
	spend := 0.0

	for _, e := range entries {
		target, ok := s.players[e.TargetID]
		if !ok {
			return newError(KindNotFound, "punishment target %q not found", e.TargetID)
		}
		if e.TargetID == p.ID {
			return newError(KindInvalidInput, "you cannot punish yourself")
		}
		if target.Role != RoleStudent || target.GroupIndex != p.GroupIndex {
			return newError(KindInvalidInput, "player %s is not in your group", target.Name)
		}
		if seen[e.TargetID] {
			return newError(KindInvalidInput, "duplicate punishment entry for player %s", target.Name)
		}
		if e.Points < 0 || e.Points > s.config.MaxPunishmentPerTarget {
			return newError(KindInvalidInput, "invalid punishment points for player %s (must be 0-%d)",
				target.Name, s.config.MaxPunishmentPerTarget)
		}
		seen[e.TargetID] = true

		spend += float64(e.Points) * s.config.PunishmentCost
		if e.Points > 0 {
			accepted = append(accepted, e)
		}
	}

	if spend > p.Round.PrePunishEarnings+budgetEpsilon {
		return newError(KindInvalidInput, "total punishment cost (%.2f) exceeds your earnings for this round (%.2f)",
			spend, p.Round.PrePunishEarnings)
	}

	p.Round.PunishmentsGiven = accepted
	s.touchLocked()

	s.log.Debug("punishment submitted",
		zap.String("player", p.ID),
		zap.Int("round", s.currentRound),
		zap.Int("targets", len(accepted)),
		zap.Float64("cost", spend))

	s.emitProgressLocked()
	s.checkAdvanceLocked()

	return nil
}

func (s *Session) describeLocked() string {
	if s.status != StatusRunning {
		return string(s.status)
	}
	return string(s.status) + "/" + string(s.stage)
}

func (s *Session) startNextRoundLocked() {
	if s.currentRound >= s.config.TotalRounds {
		s.gameOverLocked()
		return
	}

	s.currentRound++
	s.stage = StageContribution
	for _, p := range s.players {
		if p.Role == RoleStudent {
			p.resetRound()
		}
	}
	for i := range s.groups {
		s.groups[i].TotalContribution = 0
	}

	s.log.Info("round started", zap.Int("round", s.currentRound), zap.Int("of", s.config.TotalRounds))

	for _, p := range s.playersLocked() {
		s.emit(p.ID, s.roundStartedLocked(p))
	}

	if s.autoSubmitLocked() > 0 {
		s.emitProgressLocked()
	}
	s.checkAdvanceLocked()
}

func (s *Session) roundStartedLocked(p *Player) RoundStarted {
	ev := RoundStarted{
		CurrentRound: s.currentRound,
		TotalRounds:  s.config.TotalRounds,
		Stage:        s.stage,
	}
	if p.Role == RoleStudent {
		endowment := s.config.Endowment
		cumulative := p.CumulativePayoff
		ev.Endowment = &endowment
		ev.CumulativePayoff = &cumulative
	}
	return ev
}

// submittedLocked counts grouped students that have acted in the
// current stage.
func (s *Session) submittedLocked() (int, int) {
	submitted, total := 0, 0
	for _, p := range s.groupedLocked() {
		total++
		switch s.stage {
		case StageContribution:
			if p.Round.contributed() {
				submitted++
			}
		case StagePunishment:
			if p.Round.punished() {
				submitted++
			}
		}
	}
	return submitted, total
}

func (s *Session) allSubmittedLocked() bool {
	if len(s.groups) == 0 {
		return false
	}
	submitted, total := s.submittedLocked()
	return submitted == total
}

func (s *Session) emitProgressLocked() {
	if s.status != StatusRunning || s.stage == StageFeedback {
		return
	}
	submitted, total := s.submittedLocked()
	s.emit(s.instructorID, SubmissionProgress{
		Round:     s.currentRound,
		Stage:     s.stage,
		Submitted: submitted,
		Total:     total,
	})
}

// autoSubmitLocked fills in zero decisions for forfeited students that
// still owe one in the current stage.
func (s *Session) autoSubmitLocked() int {
	n := 0
	for _, p := range s.groupedLocked() {
		if !p.Forfeited {
			continue
		}
		switch s.stage {
		case StageContribution:
			if !p.Round.contributed() {
				zero := 0
				p.Round.Contribution = &zero
				n++
			}
		case StagePunishment:
			if !p.Round.punished() {
				p.Round.PunishmentsGiven = []Punishment{}
				n++
			}
		}
	}
	return n
}

func (s *Session) checkAdvanceLocked() {
	if s.status != StatusRunning || s.stage == StageFeedback {
		return
	}
	if s.allSubmittedLocked() {
		s.advanceStageLocked()
	}
}

func (s *Session) advanceStageLocked() {
	switch s.stage {
	case StageContribution:
		s.settleLocked(false)

		if s.config.PunishmentActive(s.currentRound) {
			s.stage = StagePunishment
			s.log.Info("stage changed", zap.Int("round", s.currentRound), zap.String("stage", string(s.stage)))

			for _, p := range s.groupedLocked() {
				s.emit(p.ID, s.punishmentStageLocked(p))
			}
			s.emit(s.instructorID, StageChanged{Round: s.currentRound, Stage: s.stage})

			if s.autoSubmitLocked() > 0 {
				s.emitProgressLocked()
			}
			s.checkAdvanceLocked()
			return
		}

		s.showFeedbackLocked()

	case StagePunishment:
		s.settleLocked(true)
		s.showFeedbackLocked()
	}
}

// settleLocked writes every group's outcome into the members' round data.
func (s *Session) settleLocked(applyPunishment bool) {
	for gi := range s.groups {
		g := &s.groups[gi]

		members := make([]Member, 0, len(g.Members))
		for _, id := range g.Members {
			p := s.players[id]
			members = append(members, Member{
				ID:           id,
				Contribution: p.Round.Contribution,
				Punishments:  p.Round.PunishmentsGiven,
			})
		}

		total, outcomes := Settle(s.config, members, applyPunishment)
		g.TotalContribution = total

		for _, id := range g.Members {
			o := outcomes[id]
			r := &s.players[id].Round
			r.TokensKept = o.TokensKept
			r.ProjectEarnings = o.ProjectEarnings
			r.PrePunishEarnings = o.PrePunishEarnings
			r.PunishmentCost = o.PunishmentCost
			r.PunishmentReceived = o.PunishmentReceived
			r.RoundPayoff = o.RoundPayoff
		}
	}
}

func (s *Session) punishmentStageLocked(p *Player) PunishmentStageStarted {
	ev := PunishmentStageStarted{
		CurrentRound:           s.currentRound,
		Contributions:          []MemberContribution{},
		RoundEarnings:          p.Round.PrePunishEarnings,
		MaxPunishmentPerTarget: s.config.MaxPunishmentPerTarget,
		PunishmentEffect:       s.config.PunishmentEffect,
		PunishmentCost:         s.config.PunishmentCost,
	}
	if !p.assigned() {
		return ev
	}

	for _, id := range s.groups[p.GroupIndex].Members {
		m := s.players[id]
		c := 0
		if m.Round.Contribution != nil {
			c = *m.Round.Contribution
		}
		ev.Contributions = append(ev.Contributions, MemberContribution{
			PlayerID:     m.ID,
			Name:         m.Name,
			RoleInGroup:  m.RoleInGroup,
			Contribution: c,
		})
	}
	return ev
}

// showFeedbackLocked credits the round, appends it to the history and
// sends every student their result.
func (s *Session) showFeedbackLocked() {
	s.stage = StageFeedback

	grouped := s.groupedLocked()
	sum := 0
	for _, p := range grouped {
		p.CumulativePayoff += p.Round.RoundPayoff
		if p.Round.Contribution != nil {
			sum += *p.Round.Contribution
		}
	}

	// Spectators count toward the average with nothing contributed.
	avg := 0.0
	if n := len(s.studentsLocked()); n > 0 {
		avg = float64(sum) / float64(n)
	}

	totals := make([]int, len(s.groups))
	for i, g := range s.groups {
		totals[i] = g.TotalContribution
	}
	s.history = append(s.history, RoundResult{
		Round:              s.currentRound,
		AvgContribution:    avg,
		GroupContributions: totals,
	})

	s.log.Info("round settled",
		zap.Int("round", s.currentRound),
		zap.Float64("avgContribution", avg),
		zap.Ints("groupContributions", totals))

	for _, p := range grouped {
		s.emit(p.ID, s.feedbackLocked(p))
	}
	s.emit(s.instructorID, StageChanged{Round: s.currentRound, Stage: s.stage})
	s.emit(s.instructorID, ResultsHistoryUpdated{History: s.historyCopyLocked()})
}

func (s *Session) feedbackLocked(p *Player) FeedbackReady {
	ev := FeedbackReady{
		Round:              s.currentRound,
		TokensKept:         p.Round.TokensKept,
		ProjectEarnings:    p.Round.ProjectEarnings,
		PrePunishEarnings:  p.Round.PrePunishEarnings,
		PunishmentEnabled:  s.config.PunishmentActive(s.currentRound),
		PunishmentCost:     p.Round.PunishmentCost,
		PunishmentReceived: p.Round.PunishmentReceived,
		RoundPayoff:        p.Round.RoundPayoff,
		CumulativePayoff:   p.CumulativePayoff,
	}
	if p.Round.Contribution != nil {
		ev.YourContribution = *p.Round.Contribution
	}
	if p.assigned() {
		ev.GroupContribution = s.groups[p.GroupIndex].TotalContribution
	}
	return ev
}

func (s *Session) gameOverLocked() {
	s.status = StatusOver
	s.stage = StageNone

	s.log.Info("game over", zap.Int("rounds", s.currentRound))

	history := s.historyCopyLocked()
	for _, p := range s.playersLocked() {
		s.emit(p.ID, GameOver{FinalPayoff: p.CumulativePayoff, ResultsHistory: history})
	}
}
