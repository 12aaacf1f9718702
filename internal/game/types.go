/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"math"
	"time"
)

// GroupSize is the number of students in every group.
const GroupSize = 4

// budgetEpsilon absorbs float rounding when comparing punishment spend
// against pre-punishment earnings.
const budgetEpsilon = 1e-9

type Status string

const (
	StatusLobby   Status = "lobby"
	StatusRunning Status = "running"
	StatusOver    Status = "over"
)

type Stage string

const (
	StageNone         Stage = ""
	StageContribution Stage = "contribution"
	StagePunishment   Stage = "punishment"
	StageFeedback     Stage = "feedback"
)

type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

func (r Role) valid() bool {
	return r == RoleInstructor || r == RoleStudent
}

// Config holds the economic parameters of one play-through. It is fixed
// by StartGame and cleared by Reset.
type Config struct {
	Endowment              int     `json:"endowment" jsonschema:"minimum=0"`
	MPCR                   float64 `json:"mpcr" jsonschema:"minimum=0"`
	TotalRounds            int     `json:"totalRounds" jsonschema:"minimum=1"`
	PunishmentStartsRound  int     `json:"punishmentStartsRound" jsonschema:"minimum=0,description=0 disables punishment"`
	PunishmentCost         float64 `json:"punishmentCost" jsonschema:"minimum=0"`
	PunishmentEffect       float64 `json:"punishmentEffect" jsonschema:"minimum=0"`
	MaxPunishmentPerTarget int     `json:"maxPunishmentPerTarget" jsonschema:"minimum=0"`
}

// DefaultConfig mirrors the values the instructor form starts with.
func DefaultConfig() Config {
	return Config{
		Endowment:              20,
		MPCR:                   0.4,
		TotalRounds:            10,
		PunishmentStartsRound:  0,
		PunishmentCost:         1,
		PunishmentEffect:       3,
		MaxPunishmentPerTarget: 10,
	}
}

func (c Config) Validate() error {
	switch {
	case c.TotalRounds <= 0:
		return newError(KindInvalidInput, "total rounds must be greater than 0 (got %d)", c.TotalRounds)
	case c.Endowment < 0:
		return newError(KindInvalidInput, "endowment must be non-negative (got %d)", c.Endowment)
	case c.PunishmentStartsRound < 0:
		return newError(KindInvalidInput, "punishment start round must be non-negative (got %d)", c.PunishmentStartsRound)
	case c.MaxPunishmentPerTarget < 0:
		return newError(KindInvalidInput, "max punishment per target must be non-negative (got %d)", c.MaxPunishmentPerTarget)
	}

	for _, f := range []struct {
		name  string
		value float64
	}{
		{"mpcr", c.MPCR},
		{"punishment cost", c.PunishmentCost},
		{"punishment effect", c.PunishmentEffect},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return newError(KindInvalidInput, "%s must be a non-negative number (got %v)", f.name, f.value)
		}
	}

	return nil
}

// PunishmentActive reports whether the punishment stage runs in round.
func (c Config) PunishmentActive(round int) bool {
	return c.PunishmentStartsRound > 0 && round >= c.PunishmentStartsRound
}

// Punishment is one {target, points} decision.
type Punishment struct {
	TargetID string `json:"targetId"`
	Points   int    `json:"points"`
}

// RoundData is a student's mutable record for the current round.
// Contribution is nil until submitted; PunishmentsGiven is nil until
// submitted and non-nil (possibly empty) afterwards.
type RoundData struct {
	Contribution       *int         `json:"contribution"`
	PunishmentsGiven   []Punishment `json:"punishmentsGiven"`
	PunishmentReceived float64      `json:"punishmentReceived"`
	RoundPayoff        float64      `json:"roundPayoff"`
	TokensKept         float64      `json:"tokensKept"`
	ProjectEarnings    float64      `json:"projectEarnings"`
	PrePunishEarnings  float64      `json:"prePunishEarnings"`
	PunishmentCost     float64      `json:"punishmentCost"`
}

func (r RoundData) contributed() bool { return r.Contribution != nil }

func (r RoundData) punished() bool { return r.PunishmentsGiven != nil }

func (r RoundData) clone() RoundData {
	if r.Contribution != nil {
		c := *r.Contribution
		r.Contribution = &c
	}
	if r.PunishmentsGiven != nil {
		r.PunishmentsGiven = append([]Punishment{}, r.PunishmentsGiven...)
	}
	return r
}

// Player is one participant of a session, keyed by connection id.
type Player struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Role             Role      `json:"role"`
	GroupIndex       int       `json:"groupIndex"`
	RoleInGroup      int       `json:"roleInGroup"`
	CumulativePayoff float64   `json:"cumulativePayoff"`
	Round            RoundData `json:"roundData"`
	Connected        bool      `json:"connected"`
	Forfeited        bool      `json:"forfeited"`
	DisconnectedAt   time.Time `json:"-"`

	seq int64
}

func (p *Player) assigned() bool { return p.GroupIndex >= 0 }

func (p *Player) resetRound() {
	p.Round = RoundData{}
}

func (p *Player) unassign() {
	p.GroupIndex = -1
	p.RoleInGroup = 0
}

// Group is a fixed block of GroupSize students.
type Group struct {
	ID                int      `json:"id"`
	Members           []string `json:"members"`
	TotalContribution int      `json:"totalContribution"`
}

// RoundResult is one entry of the results history.
type RoundResult struct {
	Round              int     `json:"round"`
	AvgContribution    float64 `json:"avgContribution"`
	GroupContributions []int   `json:"groupContributions"`
}
