/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/Seednode/publicgoods/internal/game"
)

// Inbound command names.
const (
	cmdCreateSession      = "createSession"
	cmdRegister           = "register"
	cmdStartGame          = "startGame"
	cmdNextRound          = "nextRound"
	cmdResetGame          = "resetGame"
	cmdRemoveParticipant  = "removeParticipant"
	cmdCloseSession       = "closeSession"
	cmdSubmitContribution = "submitContribution"
	cmdSubmitPunishment   = "submitPunishment"
)

// Inbound is the envelope of every client message.
type Inbound struct {
	Type   string          `json:"type"`
	GameID string          `json:"gameId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Outbound is the envelope of every server message.
type Outbound struct {
	Type   string `json:"type"`
	GameID string `json:"gameId,omitempty"`
	Data   any    `json:"data"`
}

func newOutbound(gameID string, ev game.Event) Outbound {
	return Outbound{Type: ev.EventName(), GameID: gameID, Data: ev}
}

type CreateSessionCommand struct {
	Name string `json:"name,omitempty" jsonschema:"maxLength=64"`
}

type RegisterCommand struct {
	Role           game.Role `json:"role" jsonschema:"enum=instructor,enum=student"`
	Name           string    `json:"name,omitempty" jsonschema:"maxLength=64"`
	IsReconnection bool      `json:"isReconnection,omitempty"`
	PlayerID       string    `json:"playerId,omitempty" jsonschema:"description=connection id held before a reconnect"`
}

type RemoveParticipantCommand struct {
	ParticipantID string `json:"participantId"`
}

type SubmitContributionCommand struct {
	Amount json.Number `json:"amount" jsonschema:"type=integer,minimum=0"`
}

type SubmitPunishmentCommand struct {
	Punishments []game.Punishment `json:"punishments"`
}

// EmptyCommand documents commands that carry nothing but the game id.
type EmptyCommand struct{}

const maxNameLength = 64

func invalidInput(format string, args ...any) error {
	return &game.Error{Kind: game.KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func decodeData(raw json.RawMessage, into any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(into); err != nil {
		return invalidInput("malformed command data: %v", err)
	}

	return nil
}

func (c CreateSessionCommand) validate() error {
	if len(c.Name) > maxNameLength {
		return invalidInput("name must be at most %d characters", maxNameLength)
	}
	return nil
}

func (c RegisterCommand) validate() error {
	if c.Role != game.RoleInstructor && c.Role != game.RoleStudent {
		return invalidInput("role must be %q or %q", game.RoleInstructor, game.RoleStudent)
	}
	if len(c.Name) > maxNameLength {
		return invalidInput("name must be at most %d characters", maxNameLength)
	}
	return nil
}

func (c RemoveParticipantCommand) validate() error {
	if c.ParticipantID == "" {
		return invalidInput("no participant id provided for removal")
	}
	return nil
}

// amount converts the submitted number, rejecting fractions and
// anything that is not a number at all.
func (c SubmitContributionCommand) amount() (int, error) {
	if c.Amount == "" {
		return 0, invalidInput("missing contribution amount")
	}

	n, err := strconv.Atoi(c.Amount.String())
	if err != nil {
		f, ferr := c.Amount.Float64()
		if ferr != nil || f != float64(int(f)) {
			return 0, invalidInput("invalid contribution amount %q", c.Amount.String())
		}
		n = int(f)
	}

	return n, nil
}

func (c SubmitPunishmentCommand) validate() error {
	if c.Punishments == nil {
		return invalidInput("invalid punishment data format")
	}
	for _, p := range c.Punishments {
		if p.TargetID == "" {
			return invalidInput("punishment entry is missing a target id")
		}
	}
	return nil
}

// startGameConfig overlays the submitted fields on the defaults.
func startGameConfig(raw json.RawMessage) (game.Config, error) {
	cfg := game.DefaultConfig()
	if err := decodeData(raw, &cfg); err != nil {
		return game.Config{}, err
	}
	return cfg, nil
}

// commandTypes maps every inbound command to the shape of its data.
var commandTypes = map[string]any{
	cmdCreateSession:      CreateSessionCommand{},
	cmdRegister:           RegisterCommand{},
	cmdStartGame:          game.Config{},
	cmdNextRound:          EmptyCommand{},
	cmdResetGame:          EmptyCommand{},
	cmdRemoveParticipant:  RemoveParticipantCommand{},
	cmdCloseSession:       EmptyCommand{},
	cmdSubmitContribution: SubmitContributionCommand{},
	cmdSubmitPunishment:   SubmitPunishmentCommand{},
}

type protocolDocument struct {
	Version  string                        `json:"version"`
	Envelope *jsonschema.Schema            `json:"envelope"`
	Commands map[string]*jsonschema.Schema `json:"commands"`
}

func buildProtocolDocument() protocolDocument {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}

	doc := protocolDocument{
		Version:  releaseVersion,
		Envelope: reflector.ReflectFromType(reflect.TypeOf(Inbound{})),
		Commands: make(map[string]*jsonschema.Schema, len(commandTypes)),
	}
	for name, v := range commandTypes {
		schema := reflector.ReflectFromType(reflect.TypeOf(v))
		schema.Title = name
		doc.Commands[name] = schema
	}

	return doc
}

func serveProtocol(cfg *Config, log *zap.Logger, errs chan<- error) httprouter.Handle {
	body, err := json.MarshalIndent(buildProtocolDocument(), "", "  ")
	if err != nil {
		panic(err)
	}

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		securityHeaders(cfg, w)

		written, err := w.Write(body)
		if err != nil {
			errs <- err

			return
		}

		log.Debug("SERVE: Protocol schema",
			zap.String("size", humanReadableSize(int64(written))),
			zap.String("client", realIP(r)),
			zap.Duration("elapsed", time.Since(startTime).Round(time.Microsecond)))
	}
}
