// Package game implements the per-connection gameplay state machine: the
// unauthenticated -> authenticated progression, sequence ordering, cooldown
// enforcement, the move/turn action handlers, and snapshot assembly.
//
// A Session is owned by exactly one connection and is not safe for
// concurrent use; the gateway feeds it messages in receive order.
package game

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dungeonpunk/crawler-engine/internal/gen"
	"github.com/dungeonpunk/crawler-engine/internal/store"
	"github.com/dungeonpunk/crawler-engine/internal/world"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

// Clock returns the current time in milliseconds. The core never reads a
// wall clock directly; tests supply a fake that advances explicitly.
type Clock func() int64

// Config carries the tunable gameplay limits.
type Config struct {
	MoveCooldownMs int64
	TurnCooldownMs int64
}

// Deps bundles everything a session needs. One Deps value is shared by all
// connections of the process.
type Deps struct {
	Sessions   store.SessionStore
	Characters store.CharacterStore
	Worlds     store.WorldStore
	Overlay    store.OverlayStore
	Discovery  store.DiscoveryStore
	Chunks     *gen.Cache
	Clock      Clock
	Config     Config
}

// Session is the per-connection state machine.
type Session struct {
	deps *Deps

	authed      bool
	userID      string
	characterID string
	worldID     string

	level int
	x     int
	y     int
	face  proto.Dir
	hp    int

	lastSeq     int64
	moveReadyAt int64
	turnReadyAt int64

	oracle *world.Oracle
}

func New(deps *Deps) *Session {
	return &Session{deps: deps, lastSeq: -1}
}

// Handle processes one validated frame and returns the replies to send, in
// order. It never returns an empty slice for a well-formed envelope.
func (s *Session) Handle(ctx context.Context, env proto.Envelope) []proto.ServerMsg {
	seq, ok := seqValue(env.Seq)
	if !ok || seq <= s.lastSeq {
		var echo *int64
		if ok {
			echo = &seq
		}
		return []proto.ServerMsg{errorFrame(proto.CodeBadSeq, "sequence must be a strictly increasing integer", echo)}
	}
	s.lastSeq = seq

	switch env.Type {
	case proto.TypeAuth:
		return s.handleAuth(ctx, seq, env.Payload)
	case proto.TypeMove:
		if !s.authed {
			return unauthenticated()
		}
		return s.handleMove(ctx, seq, env.Payload)
	case proto.TypeTurn:
		if !s.authed {
			return unauthenticated()
		}
		return s.handleTurn(ctx, seq, env.Payload)
	case proto.TypeJoinWorld:
		if !s.authed {
			return unauthenticated()
		}
		var p proto.JoinWorldPayload
		if err := decodeStrict(env.Payload, &p); err != nil {
			return badSchema(seq, err)
		}
		return []proto.ServerMsg{refusal(seq, proto.ReasonNotImplemented)}
	case proto.TypeInteract:
		if !s.authed {
			return unauthenticated()
		}
		var p proto.InteractPayload
		if err := decodeStrict(env.Payload, &p); err != nil {
			return badSchema(seq, err)
		}
		return []proto.ServerMsg{refusal(seq, proto.ReasonNotImplemented)}
	case proto.TypeUseEgg:
		if !s.authed {
			return unauthenticated()
		}
		var p proto.UseEggPayload
		if err := decodeStrict(env.Payload, &p); err != nil {
			return badSchema(seq, err)
		}
		return []proto.ServerMsg{refusal(seq, proto.ReasonNotImplemented)}
	default:
		return []proto.ServerMsg{errorFrame(proto.CodeBadSchema, fmt.Sprintf("unknown message type %q", env.Type), &seq)}
	}
}

func (s *Session) handleAuth(ctx context.Context, seq int64, payload json.RawMessage) []proto.ServerMsg {
	if s.authed {
		return []proto.ServerMsg{errorFrame(proto.CodeState, "already authenticated", &seq)}
	}
	var p proto.AuthPayload
	if err := decodeStrict(payload, &p); err != nil {
		return badSchema(seq, err)
	}

	sess, err := s.deps.Sessions.LoadSession(ctx, p.SessionToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrSessionExpired) {
			return []proto.ServerMsg{authErr("invalid session")}
		}
		return storageError(seq)
	}

	ch, err := s.deps.Characters.LoadActiveCharacter(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []proto.ServerMsg{authErr("invalid session")}
		}
		return storageError(seq)
	}

	w, err := s.deps.Worlds.GetWorld(ctx, ch.WorldID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []proto.ServerMsg{authErr("invalid session")}
		}
		return storageError(seq)
	}

	now := s.deps.Clock()
	s.authed = true
	s.userID = sess.UserID
	s.characterID = ch.ID
	s.worldID = w.ID
	s.level, s.x, s.y, s.face = ch.Level, ch.X, ch.Y, ch.Face
	s.hp = ch.HP
	s.moveReadyAt = now
	s.turnReadyAt = now
	s.oracle = world.NewOracle(*w, s.deps.Overlay, s.deps.Chunks)

	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		return storageError(seq)
	}
	return []proto.ServerMsg{
		{Type: proto.TypeAuthOK, Payload: proto.AuthOK{UserID: s.userID, CharacterID: s.characterID, WorldID: s.worldID}},
		{Type: proto.TypeWorldState, Payload: snap},
	}
}

func (s *Session) handleTurn(ctx context.Context, seq int64, payload json.RawMessage) []proto.ServerMsg {
	var p proto.TurnPayload
	if err := decodeStrict(payload, &p); err != nil {
		return badSchema(seq, err)
	}
	face := proto.Dir(p.Face)
	if !face.Cardinal() {
		return []proto.ServerMsg{refusal(seq, proto.ReasonBadDir)}
	}

	now := s.deps.Clock()
	if now < s.turnReadyAt {
		return []proto.ServerMsg{refusal(seq, proto.ReasonTurnCooldown)}
	}

	if err := s.deps.Characters.SavePosition(ctx, s.characterID, s.worldID, s.level, s.x, s.y, face); err != nil {
		return storageError(seq)
	}
	s.face = face
	s.turnReadyAt = now + s.deps.Config.TurnCooldownMs

	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		return storageError(seq)
	}
	return []proto.ServerMsg{
		{Type: proto.TypeActionResult, Payload: proto.ActionResult{OK: true, Seq: &seq}},
		{Type: proto.TypeWorldState, Payload: snap},
	}
}

func (s *Session) handleMove(ctx context.Context, seq int64, payload json.RawMessage) []proto.ServerMsg {
	var p proto.MovePayload
	if err := decodeStrict(payload, &p); err != nil {
		return badSchema(seq, err)
	}

	// F and B translate through the current facing and keep it; a
	// cardinal move also turns the character.
	var abs, newFace proto.Dir
	switch p.Dir {
	case "F":
		abs, newFace = s.face, s.face
	case "B":
		abs, newFace = s.face.Opposite(), s.face
	case "N", "E", "S", "W":
		abs = proto.Dir(p.Dir)
		newFace = abs
	default:
		return []proto.ServerMsg{refusal(seq, proto.ReasonBadDir)}
	}

	now := s.deps.Clock()
	if now < s.moveReadyAt {
		return []proto.ServerMsg{refusal(seq, proto.ReasonMoveCooldown)}
	}

	open, err := s.oracle.CanTraverse(ctx, s.level, s.x, s.y, abs)
	if err != nil {
		return storageError(seq)
	}
	if !open {
		return []proto.ServerMsg{refusal(seq, proto.ReasonBlocked)}
	}

	dx, dy := abs.Delta()
	nx, ny := s.x+dx, s.y+dy

	if err := s.deps.Discovery.MarkDiscovered(ctx, s.worldID, s.level, nx, ny, now); err != nil {
		return storageError(seq)
	}
	if err := s.deps.Characters.SavePosition(ctx, s.characterID, s.worldID, s.level, nx, ny, newFace); err != nil {
		return storageError(seq)
	}
	s.x, s.y, s.face = nx, ny, newFace
	s.moveReadyAt = now + s.deps.Config.MoveCooldownMs

	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		return storageError(seq)
	}
	return []proto.ServerMsg{
		{Type: proto.TypeActionResult, Payload: proto.ActionResult{OK: true, Seq: &seq}},
		{Type: proto.TypeWorldState, Payload: snap},
	}
}

func seqValue(n *json.Number) (int64, bool) {
	if n == nil {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// decodeStrict rejects unknown payload fields and trailing data. A missing
// or null payload decodes as an empty object.
func decodeStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after payload")
	}
	return nil
}

func errorFrame(code, message string, seq *int64) proto.ServerMsg {
	return proto.ServerMsg{Type: proto.TypeError, Payload: proto.ErrorMsg{Code: code, Message: message, Seq: seq}}
}

func badSchema(seq int64, err error) []proto.ServerMsg {
	return []proto.ServerMsg{errorFrame(proto.CodeBadSchema, err.Error(), &seq)}
}

func storageError(seq int64) []proto.ServerMsg {
	return []proto.ServerMsg{errorFrame(proto.CodeStorage, "storage operation failed", &seq)}
}

func authErr(reason string) proto.ServerMsg {
	return proto.ServerMsg{Type: proto.TypeAuthErr, Payload: proto.AuthErr{Reason: reason}}
}

func unauthenticated() []proto.ServerMsg {
	return []proto.ServerMsg{authErr("unauthenticated")}
}

func refusal(seq int64, reason string) proto.ServerMsg {
	return proto.ServerMsg{Type: proto.TypeActionResult, Payload: proto.ActionResult{OK: false, Reason: reason, Seq: &seq}}
}
