/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "errors"

// Event is an outbound notification. EventName is the tag carried on
// the wire.
type Event interface {
	EventName() string
}

// Notifier delivers events to one connection of a session. Delivery is
// fire-and-forget and must not block.
type Notifier interface {
	Notify(gameID, playerID string, ev Event)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(gameID, playerID string, ev Event)

func (f NotifierFunc) Notify(gameID, playerID string, ev Event) { f(gameID, playerID, ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, Event) {}

const (
	EventSessionCreated         = "sessionCreated"
	EventJoinedGame             = "joinedGame"
	EventPlayerListUpdated      = "playerListUpdated"
	EventGameStarted            = "gameStarted"
	EventRoundStarted           = "roundStarted"
	EventStageChanged           = "stageChanged"
	EventPunishmentStageStarted = "punishmentStageStarted"
	EventSubmissionProgress     = "submissionProgress"
	EventFeedbackReady          = "feedbackReady"
	EventResultsHistoryUpdated  = "resultsHistoryUpdated"
	EventGameOver               = "gameOver"
	EventGameReset              = "gameReset"
	EventParticipantRemoved     = "participantRemoved"
	EventSessionClosed          = "sessionClosed"
	EventErrorReported          = "errorReported"
)

type SessionCreated struct {
	GameID string `json:"gameId"`
}

func (SessionCreated) EventName() string { return EventSessionCreated }

// GroupMate describes another member of the recipient's group.
type GroupMate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RoleInGroup int    `json:"roleInGroup"`
}

type GroupInfo struct {
	GroupIndex  int         `json:"groupIndex"`
	RoleInGroup int         `json:"roleInGroup"`
	Members     []GroupMate `json:"members"`
}

// JoinedGame acknowledges a registration or a reconnection with enough
// state for the client to resume.
type JoinedGame struct {
	PlayerID         string     `json:"playerId"`
	Name             string     `json:"name"`
	Role             Role       `json:"role"`
	Reconnected      bool       `json:"reconnected"`
	Status           Status     `json:"status"`
	Stage            Stage      `json:"stage,omitempty"`
	CurrentRound     int        `json:"currentRound"`
	Config           *Config    `json:"config,omitempty"`
	Group            *GroupInfo `json:"groupInfo,omitempty"`
	CumulativePayoff float64    `json:"cumulativePayoff"`
}

func (JoinedGame) EventName() string { return EventJoinedGame }

type ParticipantInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

type PlayerListUpdated struct {
	Students []ParticipantInfo `json:"students"`
}

func (PlayerListUpdated) EventName() string { return EventPlayerListUpdated }

type GameStarted struct {
	Config      Config     `json:"config"`
	TotalRounds int        `json:"totalRounds"`
	Group       *GroupInfo `json:"groupInfo"`
	Groups      int        `json:"groups,omitempty"`
	Unassigned  []string   `json:"unassigned,omitempty"`
}

func (GameStarted) EventName() string { return EventGameStarted }

// RoundStarted is sent to every player. Endowment and CumulativePayoff
// are only populated for students.
type RoundStarted struct {
	CurrentRound     int      `json:"currentRound"`
	TotalRounds      int      `json:"totalRounds"`
	Stage            Stage    `json:"stage"`
	Endowment        *int     `json:"endowment,omitempty"`
	CumulativePayoff *float64 `json:"cumulativePayoff,omitempty"`
}

func (RoundStarted) EventName() string { return EventRoundStarted }

type StageChanged struct {
	Round int   `json:"round"`
	Stage Stage `json:"stage"`
}

func (StageChanged) EventName() string { return EventStageChanged }

type MemberContribution struct {
	PlayerID     string `json:"playerId"`
	Name         string `json:"name"`
	RoleInGroup  int    `json:"roleInGroup"`
	Contribution int    `json:"contribution"`
}

// PunishmentStageStarted carries the group breakdown and the recipient's
// pre-punishment earnings, which bound their punishment spend.
type PunishmentStageStarted struct {
	CurrentRound           int                  `json:"currentRound"`
	Contributions          []MemberContribution `json:"contributions"`
	RoundEarnings          float64              `json:"roundEarnings"`
	MaxPunishmentPerTarget int                  `json:"maxPunishmentPerTarget"`
	PunishmentEffect       float64              `json:"punishmentEffect"`
	PunishmentCost         float64              `json:"punishmentCost"`
}

func (PunishmentStageStarted) EventName() string { return EventPunishmentStageStarted }

type SubmissionProgress struct {
	Round     int   `json:"round"`
	Stage     Stage `json:"stage"`
	Submitted int   `json:"submitted"`
	Total     int   `json:"total"`
}

func (SubmissionProgress) EventName() string { return EventSubmissionProgress }

type FeedbackReady struct {
	Round              int     `json:"round"`
	YourContribution   int     `json:"yourContribution"`
	GroupContribution  int     `json:"groupContribution"`
	TokensKept         float64 `json:"tokensKept"`
	ProjectEarnings    float64 `json:"projectEarnings"`
	PrePunishEarnings  float64 `json:"prePunishEarnings"`
	PunishmentEnabled  bool    `json:"punishmentEnabled"`
	PunishmentCost     float64 `json:"punishmentCost"`
	PunishmentReceived float64 `json:"punishmentReceived"`
	RoundPayoff        float64 `json:"roundPayoff"`
	CumulativePayoff   float64 `json:"cumulativePayoff"`
}

func (FeedbackReady) EventName() string { return EventFeedbackReady }

type ResultsHistoryUpdated struct {
	History []RoundResult `json:"history"`
}

func (ResultsHistoryUpdated) EventName() string { return EventResultsHistoryUpdated }

type GameOver struct {
	FinalPayoff    float64       `json:"finalPayoff"`
	ResultsHistory []RoundResult `json:"resultsHistory"`
}

func (GameOver) EventName() string { return EventGameOver }

type GameReset struct{}

func (GameReset) EventName() string { return EventGameReset }

type ParticipantRemoved struct {
	RemovedID string `json:"removedId"`
	Message   string `json:"message"`
}

func (ParticipantRemoved) EventName() string { return EventParticipantRemoved }

type SessionClosed struct {
	Reason string `json:"reason"`
}

func (SessionClosed) EventName() string { return EventSessionClosed }

// ErrorReported is sent to the originator of a rejected command.
type ErrorReported struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (ErrorReported) EventName() string { return EventErrorReported }

// ReportError converts err into an ErrorReported event.
func ReportError(err error) ErrorReported {
	msg := err.Error()
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	return ErrorReported{Kind: KindOf(err).String(), Message: msg}
}
