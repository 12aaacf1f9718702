/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleWithoutPunishment(t *testing.T) {
	cfg := DefaultConfig()
	members := []Member{
		{ID: "a", Contribution: intPtr(10)},
		{ID: "b", Contribution: intPtr(20)},
		{ID: "c", Contribution: intPtr(0)},
		{ID: "d", Contribution: intPtr(10)},
	}

	total, out := Settle(cfg, members, false)
	require.Equal(t, 40, total)

	assert.InDelta(t, 10, out["a"].TokensKept, 1e-9)
	assert.InDelta(t, 16, out["a"].ProjectEarnings, 1e-9)
	assert.InDelta(t, 26, out["a"].RoundPayoff, 1e-9)
	assert.InDelta(t, 16, out["b"].RoundPayoff, 1e-9)
	assert.InDelta(t, 36, out["c"].RoundPayoff, 1e-9)
	assert.InDelta(t, 26, out["d"].RoundPayoff, 1e-9)

	for _, o := range out {
		assert.InDelta(t, o.PrePunishEarnings, o.RoundPayoff, 1e-9)
		assert.Zero(t, o.PunishmentCost)
		assert.Zero(t, o.PunishmentReceived)
	}
}

func TestSettleWithPunishment(t *testing.T) {
	cfg := DefaultConfig()
	members := []Member{
		{ID: "a", Contribution: intPtr(20), Punishments: []Punishment{{TargetID: "c", Points: 2}}},
		{ID: "b", Contribution: intPtr(20), Punishments: []Punishment{{TargetID: "c", Points: 2}}},
		{ID: "c", Contribution: intPtr(0), Punishments: []Punishment{}},
		{ID: "d", Contribution: intPtr(20), Punishments: []Punishment{}},
	}

	total, out := Settle(cfg, members, true)
	require.Equal(t, 60, total)

	assert.InDelta(t, 24, out["a"].PrePunishEarnings, 1e-9)
	assert.InDelta(t, 2, out["a"].PunishmentCost, 1e-9)
	assert.InDelta(t, 22, out["a"].RoundPayoff, 1e-9)
	assert.InDelta(t, 22, out["b"].RoundPayoff, 1e-9)

	assert.InDelta(t, 44, out["c"].PrePunishEarnings, 1e-9)
	assert.InDelta(t, 12, out["c"].PunishmentReceived, 1e-9)
	assert.InDelta(t, 32, out["c"].RoundPayoff, 1e-9)

	assert.InDelta(t, 24, out["d"].RoundPayoff, 1e-9)
}

func TestSettleIgnoresForeignAndSelfTargets(t *testing.T) {
	cfg := DefaultConfig()
	members := []Member{
		{ID: "a", Contribution: intPtr(0), Punishments: []Punishment{{TargetID: "a", Points: 5}, {TargetID: "zz", Points: 5}}},
		{ID: "b", Contribution: intPtr(0)},
	}

	_, out := Settle(cfg, members, true)
	assert.Zero(t, out["a"].PunishmentReceived)
	assert.Zero(t, out["b"].PunishmentReceived)
}

func TestSettleTreatsMissingContributionAsZero(t *testing.T) {
	cfg := DefaultConfig()
	members := []Member{{ID: "a"}, {ID: "b", Contribution: intPtr(20)}}

	total, out := Settle(cfg, members, false)
	assert.Equal(t, 20, total)
	assert.InDelta(t, 28, out["a"].RoundPayoff, 1e-9)
}

func TestEffectivePunishmentIsClamped(t *testing.T) {
	assert.InDelta(t, 0, EffectivePunishment(-3, 10), 1e-9)
	assert.InDelta(t, 4, EffectivePunishment(4, 10), 1e-9)
	assert.InDelta(t, 10, EffectivePunishment(30, 10), 1e-9)
}

func TestReceivedPunishmentNeverGoesBelowZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PunishmentEffect = 100

	members := []Member{
		{ID: "a", Contribution: intPtr(20), Punishments: []Punishment{}},
		{ID: "b", Contribution: intPtr(20), Punishments: []Punishment{{TargetID: "a", Points: 1}}},
	}

	_, out := Settle(cfg, members, true)
	assert.InDelta(t, 0, out["a"].RoundPayoff, 1e-9)
	assert.InDelta(t, 100, out["a"].PunishmentReceived, 1e-9)
}

func TestPunisherPaysCostOnTopOfCappedLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MPCR = 0.5

	members := []Member{
		{ID: "a", Contribution: intPtr(20), Punishments: []Punishment{{TargetID: "b", Points: 10}}},
		{ID: "b", Contribution: intPtr(0), Punishments: []Punishment{{TargetID: "a", Points: 5}}},
		{ID: "c", Contribution: intPtr(0), Punishments: []Punishment{{TargetID: "a", Points: 5}}},
		{ID: "d", Contribution: intPtr(0), Punishments: []Punishment{}},
	}

	_, out := Settle(cfg, members, true)

	a := out["a"]
	assert.InDelta(t, 10, a.PrePunishEarnings, 1e-9)
	assert.InDelta(t, 30, a.PunishmentReceived, 1e-9)
	assert.InDelta(t, 10, a.PunishmentCost, 1e-9)
	assert.InDelta(t, -10, a.RoundPayoff, 1e-9)

	b := out["b"]
	assert.InDelta(t, 30, b.PrePunishEarnings, 1e-9)
	assert.InDelta(t, 30, b.PunishmentReceived, 1e-9)
	assert.InDelta(t, -5, b.RoundPayoff, 1e-9)
}

func TestPunishmentSpend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PunishmentCost = 1.5

	assert.InDelta(t, 7.5, PunishmentSpend(cfg, []Punishment{{TargetID: "a", Points: 2}, {TargetID: "b", Points: 3}}), 1e-9)
	assert.Zero(t, PunishmentSpend(cfg, nil))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"zero rounds":        func(c *Config) { c.TotalRounds = 0 },
		"negative endowment": func(c *Config) { c.Endowment = -1 },
		"negative mpcr":      func(c *Config) { c.MPCR = -0.1 },
		"negative start":     func(c *Config) { c.PunishmentStartsRound = -2 },
		"negative max":       func(c *Config) { c.MaxPunishmentPerTarget = -1 },
		"negative cost":      func(c *Config) { c.PunishmentCost = -1 },
		"negative effect":    func(c *Config) { c.PunishmentEffect = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidInput)
		})
	}
}

func TestPunishmentActive(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.PunishmentActive(5))

	cfg.PunishmentStartsRound = 3
	assert.False(t, cfg.PunishmentActive(2))
	assert.True(t, cfg.PunishmentActive(3))
	assert.True(t, cfg.PunishmentActive(10))
}
