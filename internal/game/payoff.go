/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

// Member is the payoff engine's view of one group member.
type Member struct {
	ID           string
	Contribution *int
	Punishments  []Punishment
}

// Outcome is the economic result of one round for one member.
type Outcome struct {
	TokensKept         float64
	ProjectEarnings    float64
	PrePunishEarnings  float64
	PunishmentCost     float64
	PunishmentReceived float64
	RoundPayoff        float64
}

// GroupTotal sums member contributions, counting unset ones as zero.
func GroupTotal(members []Member) int {
	total := 0
	for _, m := range members {
		if m.Contribution != nil {
			total += *m.Contribution
		}
	}
	return total
}

// PunishmentSpend is the cost a punisher pays for a set of decisions.
func PunishmentSpend(cfg Config, punishments []Punishment) float64 {
	cost := 0.0
	for _, p := range punishments {
		cost += float64(p.Points) * cfg.PunishmentCost
	}
	return cost
}

// EffectivePunishment caps received punishment to [0, prePunish]. Being
// punished alone can never push a payoff below zero.
func EffectivePunishment(received, prePunish float64) float64 {
	return min(max(received, 0), prePunish)
}

// Settle computes one group's round. With applyPunishment false only the
// pre-punishment figures are produced and RoundPayoff equals
// PrePunishEarnings. Targets outside members are ignored.
func Settle(cfg Config, members []Member, applyPunishment bool) (int, map[string]Outcome) {
	total := GroupTotal(members)
	project := float64(total) * cfg.MPCR

	received := make(map[string]float64, len(members))
	if applyPunishment {
		inGroup := make(map[string]bool, len(members))
		for _, m := range members {
			inGroup[m.ID] = true
		}
		for _, punisher := range members {
			for _, p := range punisher.Punishments {
				if !inGroup[p.TargetID] || p.TargetID == punisher.ID {
					continue
				}
				received[p.TargetID] += float64(p.Points) * cfg.PunishmentEffect
			}
		}
	}

	outcomes := make(map[string]Outcome, len(members))
	for _, m := range members {
		contribution := 0
		if m.Contribution != nil {
			contribution = *m.Contribution
		}

		o := Outcome{
			TokensKept:      float64(cfg.Endowment - contribution),
			ProjectEarnings: project,
		}
		o.PrePunishEarnings = o.TokensKept + o.ProjectEarnings

		if applyPunishment {
			o.PunishmentCost = PunishmentSpend(cfg, m.Punishments)
			o.PunishmentReceived = received[m.ID]
		}

		o.RoundPayoff = o.PrePunishEarnings - EffectivePunishment(o.PunishmentReceived, o.PrePunishEarnings) - o.PunishmentCost
		outcomes[m.ID] = o
	}

	return total, outcomes
}
