// Package proto defines the wire schema shared by the gateway and clients:
// the message envelope, client intent payloads, server replies, and the
// enumerated edge/direction vocabulary that appears in snapshots.
package proto

import "encoding/json"

// Client → server message types.
const (
	TypeAuth      = "auth"
	TypeMove      = "move"
	TypeTurn      = "turn"
	TypeJoinWorld = "join_world"
	TypeInteract  = "interact"
	TypeUseEgg    = "use_egg"
)

// Server → client message types.
const (
	TypeAuthOK       = "auth_ok"
	TypeAuthErr      = "auth_err"
	TypeWorldState   = "world_state"
	TypeActionResult = "action_result"
	TypeError        = "error"
	TypeEvent        = "event"
)

// Error codes carried by TypeError frames.
const (
	CodeBadJSON   = "bad_json"
	CodeBadSchema = "bad_schema"
	CodeBadSeq    = "bad_seq"
	CodeState     = "state"
	CodeStorage   = "storage"
)

// Domain refusal reasons carried by action_result frames.
const (
	ReasonMoveCooldown   = "move_cooldown"
	ReasonTurnCooldown   = "turn_cooldown"
	ReasonBlocked        = "blocked"
	ReasonBadDir         = "bad_dir"
	ReasonNotImplemented = "not_implemented"
)

// Dir is a cardinal direction. Move payloads additionally accept the
// relative forms "F" (forward) and "B" (backward).
type Dir string

const (
	DirN Dir = "N"
	DirE Dir = "E"
	DirS Dir = "S"
	DirW Dir = "W"
)

// Cardinal reports whether d is one of the four absolute directions.
func (d Dir) Cardinal() bool {
	return d == DirN || d == DirE || d == DirS || d == DirW
}

// Opposite returns the reverse direction. North decreases y.
func (d Dir) Opposite() Dir {
	switch d {
	case DirN:
		return DirS
	case DirS:
		return DirN
	case DirE:
		return DirW
	case DirW:
		return DirE
	}
	return d
}

// Delta returns the grid displacement of one step in d.
func (d Dir) Delta() (dx, dy int) {
	switch d {
	case DirN:
		return 0, -1
	case DirE:
		return 1, 0
	case DirS:
		return 0, 1
	case DirW:
		return -1, 0
	}
	return 0, 0
}

// Code returns the stable integer encoding of d used by seed mixing.
func (d Dir) Code() uint32 {
	switch d {
	case DirN:
		return 0
	case DirE:
		return 1
	case DirS:
		return 2
	case DirW:
		return 3
	}
	return 0
}

// EdgeKind enumerates the traversability of one cell edge.
type EdgeKind string

const (
	EdgeWall         EdgeKind = "wall"
	EdgeOpen         EdgeKind = "open"
	EdgeDoorLocked   EdgeKind = "door_locked"
	EdgeDoorUnlocked EdgeKind = "door_unlocked"
	EdgeLeverSecret  EdgeKind = "lever_secret"
)

// Traversable reports whether movement may cross an edge of this kind.
func (k EdgeKind) Traversable() bool {
	return k == EdgeOpen || k == EdgeDoorUnlocked || k == EdgeLeverSecret
}

// SeeThrough reports whether a visibility ray may cross an edge of this
// kind. Doors of any kind block sight even when they permit traversal.
func (k EdgeKind) SeeThrough() bool {
	return k == EdgeOpen || k == EdgeLeverSecret
}

// Envelope is one client frame. Seq is decoded as json.Number so the
// gateway can reject non-integer sequence values.
type Envelope struct {
	Seq     *json.Number    `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type AuthPayload struct {
	SessionToken string `json:"session_token"`
}

type MovePayload struct {
	Dir string `json:"dir"`
}

type TurnPayload struct {
	Face string `json:"face"`
}

type JoinWorldPayload struct {
	WorldID string `json:"world_id"`
}

type InteractPayload struct {
	Action string         `json:"action"`
	Target map[string]any `json:"target"`
}

type UseEggPayload struct{}

// ServerMsg is one server frame. Server frames carry no seq of their own.
type ServerMsg struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type AuthOK struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
	WorldID     string `json:"world_id"`
}

type AuthErr struct {
	Reason string `json:"reason"`
}

type ActionResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Seq    *int64 `json:"seq,omitempty"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Seq     *int64 `json:"seq,omitempty"`
}

type Event struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// EdgeSet is the resolved kind of a cell's four edges.
type EdgeSet struct {
	N EdgeKind `json:"N"`
	E EdgeKind `json:"E"`
	S EdgeKind `json:"S"`
	W EdgeKind `json:"W"`
}

// CellView is one cell in visible_cells or minimap_cells.
type CellView struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Edges EdgeSet `json:"edges"`
}

// You is the player's own pose and vitals.
type You struct {
	Level  int      `json:"level"`
	X      int      `json:"x"`
	Y      int      `json:"y"`
	Face   Dir      `json:"face"`
	HP     int      `json:"hp"`
	Status []string `json:"status"`
}

// Hub points the player back toward the level origin.
type Hub struct {
	Level     int `json:"level"`
	X         int `json:"x"`
	Y         int `json:"y"`
	DistFeet  int `json:"distFeet"`
	Direction Dir `json:"direction"`
}

// Cooldowns carries the absolute ready times for rate-limited actions.
type Cooldowns struct {
	MoveReadyAtMs int64 `json:"moveReadyAtMs"`
	TurnReadyAtMs int64 `json:"turnReadyAtMs"`
}

// WorldState is the full snapshot emitted after auth and every action.
type WorldState struct {
	Now          int64      `json:"now"`
	You          You        `json:"you"`
	Hub          Hub        `json:"hub"`
	Cooldowns    Cooldowns  `json:"cooldowns"`
	WorldHash    string     `json:"world_hash"`
	VisibleCells []CellView `json:"visible_cells"`
	MinimapCells []CellView `json:"minimap_cells"`
}
