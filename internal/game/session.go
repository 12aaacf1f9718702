/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session is one instructor-hosted play-through. All exported methods
// are safe for concurrent use; each runs to completion under the
// session lock, and the notifications it produced are delivered after
// the lock is released, in command order. A Notifier must not call back
// into the session it is notified for.
type Session struct {
	mu      sync.Mutex
	// deliver is taken before mu is released so that notifications leave
	// in the order their commands ran.
	deliver sync.Mutex

	id           string
	status       Status
	config       Config
	currentRound int
	stage        Stage
	players      map[string]*Player
	groups       []Group
	history      []RoundResult
	instructorID string
	createdAt    time.Time
	lastActivity time.Time
	nextSeq      int64
	closed       bool

	assigner *Assigner
	notifier Notifier
	now      func() time.Time
	log      *zap.Logger

	outbox []delivery
}

type delivery struct {
	to string
	ev Event
}

func newSession(id string, assigner *Assigner, notifier Notifier, now func() time.Time, log *zap.Logger) *Session {
	created := now()
	return &Session{
		id:           id,
		status:       StatusLobby,
		players:      make(map[string]*Player),
		createdAt:    created,
		lastActivity: created,
		assigner:     assigner,
		notifier:     notifier,
		now:          now,
		log:          log.With(zap.String("game", id)),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// emit queues ev for playerID. Events for players known to be
// disconnected are dropped.
func (s *Session) emit(playerID string, ev Event) {
	if playerID == "" {
		return
	}
	if p, ok := s.players[playerID]; ok && !p.Connected {
		return
	}
	s.outbox = append(s.outbox, delivery{to: playerID, ev: ev})
}

// unlock releases the session lock and flushes queued notifications.
func (s *Session) unlock() {
	out := s.outbox
	s.outbox = nil

	s.deliver.Lock()
	defer s.deliver.Unlock()
	s.mu.Unlock()

	for _, d := range out {
		s.notifier.Notify(s.id, d.to, d.ev)
	}
}

func (s *Session) touchLocked() {
	s.lastActivity = s.now()
}

// playersLocked returns every player in registration order.
func (s *Session) playersLocked() []*Player {
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Player) int { return int(a.seq - b.seq) })
	return out
}

func (s *Session) studentsLocked() []*Player {
	return slices.DeleteFunc(s.playersLocked(), func(p *Player) bool { return p.Role != RoleStudent })
}

// groupedLocked returns the students that play this game, in group order.
func (s *Session) groupedLocked() []*Player {
	var out []*Player
	for _, g := range s.groups {
		for _, id := range g.Members {
			if p, ok := s.players[id]; ok && p.Role == RoleStudent {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *Session) requireInstructorLocked(callerID string) error {
	if s.closed {
		return newError(KindNotFound, "game %s has been closed", s.id)
	}
	if callerID == "" || callerID != s.instructorID {
		return newError(KindUnauthorized, "only the instructor of game %s can do that", s.id)
	}
	return nil
}

func (s *Session) requireStudentLocked(playerID string) (*Player, error) {
	if s.closed {
		return nil, newError(KindNotFound, "game %s has been closed", s.id)
	}
	p, ok := s.players[playerID]
	if !ok {
		return nil, newError(KindUnauthorized, "you are not registered in game %s", s.id)
	}
	if p.Role != RoleStudent {
		return nil, newError(KindUnauthorized, "only students can submit decisions")
	}
	return p, nil
}

// Registration describes a register command.
type Registration struct {
	Role           Role
	Name           string
	IsReconnection bool
	PreviousID     string
}

// Register binds connID to the session as a new player, or rebinds an
// existing disconnected entry when reconnecting.
func (s *Session) Register(connID string, reg Registration) error {
	s.mu.Lock()
	defer s.unlock()

	return s.registerLocked(connID, reg)
}

func (s *Session) registerLocked(connID string, reg Registration) error {
	if s.closed {
		return newError(KindNotFound, "game %s has been closed", s.id)
	}
	if connID == "" {
		return newError(KindInvalidInput, "missing connection id")
	}
	if !reg.Role.valid() {
		return newError(KindInvalidInput, "unknown role %q", reg.Role)
	}

	name := strings.TrimSpace(reg.Name)

	if p, ok := s.players[connID]; ok {
		if p.Role != reg.Role {
			return newError(KindInvalidState, "already registered as %s", p.Role)
		}
		if name != "" {
			p.Name = name
		}
		s.touchLocked()
		s.emit(connID, s.joinedLocked(p, false))
		s.emitPlayerListLocked()
		return nil
	}

	if reg.Role == RoleInstructor {
		if inst, ok := s.players[s.instructorID]; ok {
			if inst.Connected {
				return newError(KindUnauthorized, "another instructor is already hosting game %s", s.id)
			}
			if name != "" {
				inst.Name = name
			}
			s.rebindLocked(inst, connID)
			return nil
		}
	} else if reg.IsReconnection {
		if p := s.reconnectCandidateLocked(name, reg); p != nil {
			s.rebindLocked(p, connID)
			return nil
		}
	}

	if name == "" {
		name = defaultName(connID, reg.Role)
	}

	p := &Player{
		ID:        connID,
		Name:      name,
		Role:      reg.Role,
		Connected: true,
		seq:       s.nextSeq,
	}
	s.nextSeq++
	p.unassign()

	s.players[connID] = p
	if reg.Role == RoleInstructor {
		s.instructorID = connID
	}
	s.touchLocked()

	s.log.Info("player registered",
		zap.String("player", connID),
		zap.String("name", name),
		zap.String("role", string(reg.Role)))

	s.emit(connID, s.joinedLocked(p, false))
	s.emitPlayerListLocked()

	return nil
}

func defaultName(connID string, role Role) string {
	if role == RoleInstructor {
		return "Instructor"
	}
	short := connID
	if len(short) > 4 {
		short = short[:4]
	}
	return "Anon_" + short
}

// reconnectCandidateLocked finds the disconnected entry a reconnecting
// client should take over: by previous id first, then by role and name.
func (s *Session) reconnectCandidateLocked(name string, reg Registration) *Player {
	if reg.PreviousID != "" {
		if p, ok := s.players[reg.PreviousID]; ok && !p.Connected && p.Role == reg.Role {
			return p
		}
	}
	if name == "" {
		return nil
	}
	for _, p := range s.playersLocked() {
		if !p.Connected && p.Role == reg.Role && p.Name == name {
			return p
		}
	}
	return nil
}

// rebindLocked moves p to newID, rewriting every reference to the old id.
func (s *Session) rebindLocked(p *Player, newID string) {
	old := p.ID

	delete(s.players, old)
	p.ID = newID
	p.Connected = true
	p.Forfeited = false
	p.DisconnectedAt = time.Time{}
	s.players[newID] = p

	for gi := range s.groups {
		for mi, m := range s.groups[gi].Members {
			if m == old {
				s.groups[gi].Members[mi] = newID
			}
		}
	}
	for _, q := range s.players {
		for i := range q.Round.PunishmentsGiven {
			if q.Round.PunishmentsGiven[i].TargetID == old {
				q.Round.PunishmentsGiven[i].TargetID = newID
			}
		}
	}
	if s.instructorID == old {
		s.instructorID = newID
	}
	s.touchLocked()

	s.log.Info("player reconnected",
		zap.String("player", newID),
		zap.String("previous", old),
		zap.String("name", p.Name))

	s.emit(newID, s.joinedLocked(p, true))
	s.resumeLocked(p)
	s.emitPlayerListLocked()
}

// resumeLocked re-sends the stage payload a rebound player missed.
func (s *Session) resumeLocked(p *Player) {
	if s.status != StatusRunning {
		return
	}

	if p.Role == RoleInstructor {
		s.emit(p.ID, s.roundStartedLocked(p))
		if s.stage != StageContribution {
			s.emit(p.ID, StageChanged{Round: s.currentRound, Stage: s.stage})
		}
		s.emit(p.ID, ResultsHistoryUpdated{History: s.historyCopyLocked()})
		s.emitProgressLocked()
		return
	}

	if !p.assigned() {
		return
	}

	switch s.stage {
	case StageContribution:
		s.emit(p.ID, s.roundStartedLocked(p))
	case StagePunishment:
		s.emit(p.ID, s.punishmentStageLocked(p))
	case StageFeedback:
		s.emit(p.ID, s.feedbackLocked(p))
	}
}

// Disconnect records that connID went away. Lobby students are removed;
// everyone else is kept so they can reconnect.
func (s *Session) Disconnect(connID string) {
	s.mu.Lock()
	defer s.unlock()

	p, ok := s.players[connID]
	if !ok || s.closed {
		return
	}
	s.touchLocked()

	if p.Role == RoleStudent && (s.status == StatusLobby || !p.assigned()) {
		delete(s.players, connID)
		s.log.Info("player left", zap.String("player", connID), zap.String("name", p.Name))
		s.emitPlayerListLocked()
		return
	}

	p.Connected = false
	p.DisconnectedAt = s.now()

	s.log.Warn("player disconnected",
		zap.String("player", connID),
		zap.String("name", p.Name),
		zap.String("role", string(p.Role)),
		zap.String("status", string(s.status)))

	s.emitPlayerListLocked()
}

// RemoveParticipant removes a lobby student on the instructor's request.
func (s *Session) RemoveParticipant(callerID, targetID string) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.requireInstructorLocked(callerID); err != nil {
		return err
	}
	if s.status != StatusLobby {
		return newError(KindInvalidState, "cannot remove a participant once the game has started")
	}
	if targetID == "" {
		return newError(KindInvalidInput, "no participant id provided for removal")
	}

	target, ok := s.players[targetID]
	if !ok {
		return newError(KindNotFound, "participant %s not found", targetID)
	}
	if target.Role != RoleStudent {
		return newError(KindInvalidInput, "only student participants can be removed")
	}

	s.emit(targetID, ParticipantRemoved{
		RemovedID: targetID,
		Message:   "You have been removed from the game by the instructor.",
	})
	delete(s.players, targetID)
	s.touchLocked()

	s.log.Info("participant removed", zap.String("player", targetID), zap.String("name", target.Name))

	s.emit(s.instructorID, ParticipantRemoved{
		RemovedID: targetID,
		Message:   "Participant " + target.Name + " has been removed.",
	})
	s.emitPlayerListLocked()

	return nil
}

// Reset returns the session to the lobby, keeping connected players.
func (s *Session) Reset(callerID string) error {
	s.mu.Lock()
	defer s.unlock()

	if err := s.requireInstructorLocked(callerID); err != nil {
		return err
	}

	for id, p := range s.players {
		if p.Role == RoleStudent && !p.Connected {
			delete(s.players, id)
		}
	}

	s.status = StatusLobby
	s.config = Config{}
	s.currentRound = 0
	s.stage = StageNone
	s.groups = nil
	s.history = nil

	for _, p := range s.players {
		p.unassign()
		p.CumulativePayoff = 0
		p.Forfeited = false
		p.resetRound()
	}
	s.touchLocked()

	s.log.Info("game reset")

	for _, p := range s.playersLocked() {
		s.emit(p.ID, GameReset{})
	}
	s.emitPlayerListLocked()

	return nil
}

// ForfeitAbsent marks grouped students that have been disconnected for
// at least grace as forfeited. Forfeited students submit zero for every
// pending stage until they reconnect. It returns how many were marked.
func (s *Session) ForfeitAbsent(grace time.Duration) int {
	s.mu.Lock()
	defer s.unlock()

	if s.closed || s.status != StatusRunning {
		return 0
	}

	now := s.now()
	marked := 0
	for _, p := range s.groupedLocked() {
		if p.Connected || p.Forfeited || now.Sub(p.DisconnectedAt) < grace {
			continue
		}
		p.Forfeited = true
		marked++

		s.log.Warn("player forfeited",
			zap.String("player", p.ID),
			zap.String("name", p.Name),
			zap.Int("round", s.currentRound),
			zap.String("stage", string(s.stage)))
	}
	if marked == 0 {
		return 0
	}

	s.touchLocked()
	if s.autoSubmitLocked() > 0 {
		s.emitProgressLocked()
		s.checkAdvanceLocked()
	}

	return marked
}

// close ends the session for good and tells every player.
func (s *Session) close(reason string) {
	s.mu.Lock()
	defer s.unlock()

	if s.closed {
		return
	}
	for _, p := range s.playersLocked() {
		s.emit(p.ID, SessionClosed{Reason: reason})
	}
	s.closed = true

	s.log.Info("session closed", zap.String("reason", reason))
}

func (s *Session) groupInfoLocked(p *Player) *GroupInfo {
	if !p.assigned() || p.GroupIndex >= len(s.groups) {
		return nil
	}

	info := &GroupInfo{
		GroupIndex:  p.GroupIndex,
		RoleInGroup: p.RoleInGroup,
		Members:     []GroupMate{},
	}
	for _, id := range s.groups[p.GroupIndex].Members {
		if id == p.ID {
			continue
		}
		if m, ok := s.players[id]; ok {
			info.Members = append(info.Members, GroupMate{ID: m.ID, Name: m.Name, RoleInGroup: m.RoleInGroup})
		}
	}
	return info
}

func (s *Session) joinedLocked(p *Player, reconnected bool) JoinedGame {
	ev := JoinedGame{
		PlayerID:         p.ID,
		Name:             p.Name,
		Role:             p.Role,
		Reconnected:      reconnected,
		Status:           s.status,
		Stage:            s.stage,
		CurrentRound:     s.currentRound,
		Group:            s.groupInfoLocked(p),
		CumulativePayoff: p.CumulativePayoff,
	}
	if s.status != StatusLobby {
		cfg := s.config
		ev.Config = &cfg
	}
	return ev
}

func (s *Session) emitPlayerListLocked() {
	students := s.studentsLocked()
	info := make([]ParticipantInfo, 0, len(students))
	for _, p := range students {
		info = append(info, ParticipantInfo{ID: p.ID, Name: p.Name, Connected: p.Connected})
	}
	s.emit(s.instructorID, PlayerListUpdated{Students: info})
}

func (s *Session) historyCopyLocked() []RoundResult {
	out := make([]RoundResult, len(s.history))
	for i, h := range s.history {
		h.GroupContributions = append([]int(nil), h.GroupContributions...)
		out[i] = h
	}
	return out
}

// Snapshot is a deep copy of a session's state.
type Snapshot struct {
	GameID       string            `json:"gameId"`
	Status       Status            `json:"status"`
	Stage        Stage             `json:"stage"`
	CurrentRound int               `json:"currentRound"`
	Config       Config            `json:"config"`
	Players      map[string]Player `json:"players"`
	Groups       []Group           `json:"groups"`
	History      []RoundResult     `json:"resultsHistory"`
	InstructorID string            `json:"instructorId"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		GameID:       s.id,
		Status:       s.status,
		Stage:        s.stage,
		CurrentRound: s.currentRound,
		Config:       s.config,
		Players:      make(map[string]Player, len(s.players)),
		History:      s.historyCopyLocked(),
		InstructorID: s.instructorID,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	for id, p := range s.players {
		cp := *p
		cp.Round = p.Round.clone()
		snap.Players[id] = cp
	}
	for _, g := range s.groups {
		g.Members = append([]string(nil), g.Members...)
		snap.Groups = append(snap.Groups, g)
	}

	return snap
}
