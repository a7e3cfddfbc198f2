package game

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/dungeonpunk/crawler-engine/internal/gen"
	"github.com/dungeonpunk/crawler-engine/internal/store"
	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

const (
	testMoveCooldown = 500
	testTurnCooldown = 150
	testEpoch        = int64(1_000_000)
)

// harness drives one session against an in-memory store with a manually
// advanced clock.
type harness struct {
	t       *testing.T
	mem     *store.Memory
	deps    *Deps
	sess    *Session
	now     int64
	seq     int64
	token   string
	worldID string
	userID  string
}

func newHarness(t *testing.T, seed uint32) *harness {
	return newCraftedHarness(t, seed, nil)
}

// newCraftedHarness lets a test pre-load overlay state before any session
// connects. Writing the origin cell suppresses hub seeding entirely.
func newCraftedHarness(t *testing.T, seed uint32, setup func(mem *store.Memory, worldID string)) *harness {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	w, err := mem.CreateWorld(ctx, seed, gen.VersionMaze)
	if err != nil {
		t.Fatal(err)
	}
	if setup != nil {
		setup(mem, w.ID)
	}
	u, err := mem.CreateUser(ctx, "player@test")
	if err != nil {
		t.Fatal(err)
	}
	s, err := mem.CreateSession(ctx, u.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mem.CreateCharacter(ctx, u.ID, w.ID, "Tester"); err != nil {
		t.Fatal(err)
	}

	h := &harness{t: t, mem: mem, now: testEpoch, token: s.Token, worldID: w.ID, userID: u.ID}
	h.deps = &Deps{
		Sessions:   mem,
		Characters: mem,
		Worlds:     mem,
		Overlay:    mem,
		Discovery:  mem,
		Chunks:     gen.NewCache(),
		Clock:      func() int64 { return h.now },
		Config:     Config{MoveCooldownMs: testMoveCooldown, TurnCooldownMs: testTurnCooldown},
	}
	h.sess = New(h.deps)
	return h
}

func (h *harness) send(typ string, payload any) []proto.ServerMsg {
	h.t.Helper()
	msgs := h.sendSeq(h.seq, typ, payload)
	h.seq++
	return msgs
}

func (h *harness) sendSeq(seq int64, typ string, payload any) []proto.ServerMsg {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatal(err)
	}
	n := json.Number(strconv.FormatInt(seq, 10))
	return h.sess.Handle(context.Background(), proto.Envelope{Seq: &n, Type: typ, Payload: raw})
}

func (h *harness) auth() *proto.WorldState {
	h.t.Helper()
	msgs := h.send(proto.TypeAuth, proto.AuthPayload{SessionToken: h.token})
	if len(msgs) != 2 || msgs[0].Type != proto.TypeAuthOK || msgs[1].Type != proto.TypeWorldState {
		h.t.Fatalf("auth replies: %+v", msgs)
	}
	return msgs[1].Payload.(*proto.WorldState)
}

func result(t *testing.T, msgs []proto.ServerMsg) proto.ActionResult {
	t.Helper()
	if len(msgs) == 0 || msgs[0].Type != proto.TypeActionResult {
		t.Fatalf("expected action_result, got %+v", msgs)
	}
	return msgs[0].Payload.(proto.ActionResult)
}

func snapshot(t *testing.T, msgs []proto.ServerMsg) *proto.WorldState {
	t.Helper()
	if len(msgs) != 2 || msgs[1].Type != proto.TypeWorldState {
		t.Fatalf("expected world_state after action_result, got %+v", msgs)
	}
	return msgs[1].Payload.(*proto.WorldState)
}

// moveFirstOpen probes the cardinals in fixed order until a move succeeds
// and returns the direction taken with the resulting snapshot.
func (h *harness) moveFirstOpen() (proto.Dir, *proto.WorldState) {
	h.t.Helper()
	for _, d := range [4]proto.Dir{proto.DirN, proto.DirE, proto.DirS, proto.DirW} {
		msgs := h.send(proto.TypeMove, proto.MovePayload{Dir: string(d)})
		if result(h.t, msgs).OK {
			return d, snapshot(h.t, msgs)
		}
	}
	h.t.Fatal("no open direction from current cell")
	return proto.DirN, nil
}

func (h *harness) moveDir(d proto.Dir) []proto.ServerMsg {
	return h.send(proto.TypeMove, proto.MovePayload{Dir: string(d)})
}

func TestAuthFlow(t *testing.T) {
	h := newHarness(t, 777)
	snap := h.auth()

	if snap.You.X != 0 || snap.You.Y != 0 || snap.You.Face != proto.DirN {
		t.Errorf("spawn pose = (%d,%d,%s), want (0,0,N)", snap.You.X, snap.You.Y, snap.You.Face)
	}
	if snap.You.HP != 20 || snap.You.Level != 1 {
		t.Errorf("spawn vitals = hp %d level %d", snap.You.HP, snap.You.Level)
	}
	if snap.You.Status == nil {
		t.Error("status must serialize as [], not null")
	}
	if snap.Cooldowns.MoveReadyAtMs != testEpoch || snap.Cooldowns.TurnReadyAtMs != testEpoch {
		t.Errorf("fresh cooldowns = %+v, want both %d", snap.Cooldowns, testEpoch)
	}
	if snap.Hub.DistFeet != 0 {
		t.Errorf("hub distance at origin = %d feet", snap.Hub.DistFeet)
	}
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(snap.WorldHash) {
		t.Errorf("world_hash = %q", snap.WorldHash)
	}

	found := false
	for _, c := range snap.VisibleCells {
		if c.X == 0 && c.Y == 0 {
			found = true
		}
	}
	if !found {
		t.Error("player's own cell missing from visible_cells")
	}
}

func TestAuthInvalidToken(t *testing.T) {
	h := newHarness(t, 1)
	msgs := h.send(proto.TypeAuth, proto.AuthPayload{SessionToken: "bogus"})
	if len(msgs) != 1 || msgs[0].Type != proto.TypeAuthErr {
		t.Fatalf("got %+v", msgs)
	}
	if msgs[0].Payload.(proto.AuthErr).Reason != "invalid session" {
		t.Errorf("reason = %+v", msgs[0].Payload)
	}
}

func TestDoubleAuth(t *testing.T) {
	h := newHarness(t, 1)
	h.auth()
	msgs := h.send(proto.TypeAuth, proto.AuthPayload{SessionToken: h.token})
	if len(msgs) != 1 || msgs[0].Type != proto.TypeError {
		t.Fatalf("got %+v", msgs)
	}
	if msgs[0].Payload.(proto.ErrorMsg).Code != proto.CodeState {
		t.Errorf("code = %+v", msgs[0].Payload)
	}
}

func TestUnauthenticatedIntent(t *testing.T) {
	h := newHarness(t, 1)
	msgs := h.moveDir(proto.DirN)
	if len(msgs) != 1 || msgs[0].Type != proto.TypeAuthErr {
		t.Fatalf("got %+v", msgs)
	}
	if msgs[0].Payload.(proto.AuthErr).Reason != "unauthenticated" {
		t.Errorf("reason = %+v", msgs[0].Payload)
	}
}

func TestSeqValidation(t *testing.T) {
	h := newHarness(t, 777)
	h.auth() // consumes seq 0

	expectBadSeq := func(msgs []proto.ServerMsg) {
		t.Helper()
		if len(msgs) != 1 || msgs[0].Type != proto.TypeError {
			t.Fatalf("got %+v", msgs)
		}
		if msgs[0].Payload.(proto.ErrorMsg).Code != proto.CodeBadSeq {
			t.Errorf("code = %+v", msgs[0].Payload)
		}
	}

	// Missing seq.
	expectBadSeq(h.sess.Handle(context.Background(), proto.Envelope{Type: proto.TypeTurn}))

	// Non-integer seq.
	frac := json.Number("1.5")
	expectBadSeq(h.sess.Handle(context.Background(), proto.Envelope{Seq: &frac, Type: proto.TypeTurn}))

	// Replayed and stale seqs.
	expectBadSeq(h.sendSeq(0, proto.TypeTurn, proto.TurnPayload{Face: "E"}))
	expectBadSeq(h.sendSeq(-3, proto.TypeTurn, proto.TurnPayload{Face: "E"}))

	// A rejected seq must not advance the floor: seq 1 still works.
	msgs := h.sendSeq(1, proto.TypeTurn, proto.TurnPayload{Face: "E"})
	if !result(t, msgs).OK {
		t.Errorf("valid seq after rejects refused: %+v", msgs)
	}

	// Gaps are fine, going back is not.
	h.now += testTurnCooldown
	if !result(t, h.sendSeq(50, proto.TypeTurn, proto.TurnPayload{Face: "S"})).OK {
		t.Error("seq gap rejected")
	}
	expectBadSeq(h.sendSeq(49, proto.TypeTurn, proto.TurnPayload{Face: "W"}))
}

func TestUnknownType(t *testing.T) {
	h := newHarness(t, 1)
	msgs := h.send("dance", nil)
	if len(msgs) != 1 || msgs[0].Type != proto.TypeError {
		t.Fatalf("got %+v", msgs)
	}
	if msgs[0].Payload.(proto.ErrorMsg).Code != proto.CodeBadSchema {
		t.Errorf("code = %+v", msgs[0].Payload)
	}
}

func TestUnknownPayloadField(t *testing.T) {
	h := newHarness(t, 777)
	h.auth()
	msgs := h.send(proto.TypeMove, map[string]any{"dir": "N", "speed": 9})
	if len(msgs) != 1 || msgs[0].Type != proto.TypeError {
		t.Fatalf("got %+v", msgs)
	}
	if msgs[0].Payload.(proto.ErrorMsg).Code != proto.CodeBadSchema {
		t.Errorf("code = %+v", msgs[0].Payload)
	}
}

func TestTurnSetsFacing(t *testing.T) {
	h := newHarness(t, 777)
	h.auth()

	msgs := h.send(proto.TypeTurn, proto.TurnPayload{Face: "E"})
	if !result(t, msgs).OK {
		t.Fatalf("turn refused: %+v", msgs)
	}
	snap := snapshot(t, msgs)
	if snap.You.Face != proto.DirE {
		t.Errorf("face = %s, want E", snap.You.Face)
	}
	if snap.You.X != 0 || snap.You.Y != 0 {
		t.Error("turn moved the character")
	}
	if snap.Cooldowns.TurnReadyAtMs != h.now+testTurnCooldown {
		t.Errorf("turnReadyAtMs = %d, want %d", snap.Cooldowns.TurnReadyAtMs, h.now+testTurnCooldown)
	}

	ch, _ := h.mem.LoadActiveCharacter(context.Background(), h.userID)
	if ch.Face != proto.DirE {
		t.Errorf("facing not persisted: %s", ch.Face)
	}
}

func TestTurnCooldown(t *testing.T) {
	h := newHarness(t, 777)
	h.auth()
	h.send(proto.TypeTurn, proto.TurnPayload{Face: "E"})

	msgs := h.send(proto.TypeTurn, proto.TurnPayload{Face: "S"})
	res := result(t, msgs)
	if res.OK || res.Reason != proto.ReasonTurnCooldown {
		t.Fatalf("expected turn_cooldown refusal, got %+v", res)
	}

	// The refused turn must not have touched facing.
	ch, _ := h.mem.LoadActiveCharacter(context.Background(), h.userID)
	if ch.Face != proto.DirE {
		t.Errorf("refused turn changed persisted facing to %s", ch.Face)
	}

	h.now += testTurnCooldown
	if !result(t, h.send(proto.TypeTurn, proto.TurnPayload{Face: "S"})).OK {
		t.Error("turn refused at exact cooldown expiry")
	}
}

func TestMoveCooldown(t *testing.T) {
	h := newHarness(t, 777)
	h.auth()
	h.moveFirstOpen()

	// Immediately and one tick before expiry: refused. The opposite of the
	// entry direction is always traversable, so only the cooldown can deny.
	res := result(t, h.moveDir("B"))
	if res.OK || res.Reason != proto.ReasonMoveCooldown {
		t.Fatalf("expected move_cooldown, got %+v", res)
	}
	h.now += testMoveCooldown - 1
	res = result(t, h.moveDir("B"))
	if res.OK || res.Reason != proto.ReasonMoveCooldown {
		t.Fatalf("expected move_cooldown at expiry-1, got %+v", res)
	}

	h.now++
	if !result(t, h.moveDir("B")).OK {
		t.Error("move refused at exact cooldown expiry")
	}
}

func TestBadDir(t *testing.T) {
	h := newHarness(t, 777)
	h.auth()

	res := result(t, h.moveDir("Q"))
	if res.OK || res.Reason != proto.ReasonBadDir {
		t.Errorf("move Q: %+v", res)
	}
	// Turn accepts cardinals only; relative forms are move-specific.
	res = result(t, h.send(proto.TypeTurn, proto.TurnPayload{Face: "F"}))
	if res.OK || res.Reason != proto.ReasonBadDir {
		t.Errorf("turn F: %+v", res)
	}
}

func TestMoveRelativeForms(t *testing.T) {
	h := newHarness(t, 777)
	h.auth()

	d, snap := h.moveFirstOpen()
	if snap.You.Face != d {
		t.Errorf("cardinal move left face %s, want %s", snap.You.Face, d)
	}
	fromX, fromY := snap.You.X, snap.You.Y

	// B walks back through the entry edge and keeps facing.
	h.now += testMoveCooldown
	snap = snapshot(t, h.moveDir("B"))
	if snap.You.X != 0 || snap.You.Y != 0 {
		t.Errorf("B landed at (%d,%d), want origin", snap.You.X, snap.You.Y)
	}
	if snap.You.Face != d {
		t.Errorf("B changed facing to %s", snap.You.Face)
	}

	// F retraces the original step.
	h.now += testMoveCooldown
	snap = snapshot(t, h.moveDir("F"))
	if snap.You.X != fromX || snap.You.Y != fromY {
		t.Errorf("F landed at (%d,%d), want (%d,%d)", snap.You.X, snap.You.Y, fromX, fromY)
	}
	if snap.You.Face != d {
		t.Errorf("F changed facing to %s", snap.You.Face)
	}
}

// sealedOrigin pins the character into a single cell with four wall edges.
func sealedOrigin(mem *store.Memory, worldID string) {
	ctx := context.Background()
	_ = mem.WriteCell(ctx, worldID, 1, 0, 0, store.CellMeta{Kind: store.CellRoom})
	for _, d := range [4]proto.Dir{proto.DirN, proto.DirE, proto.DirS, proto.DirW} {
		_ = mem.WriteEdgeBothWays(ctx, worldID, 1, 0, 0, d, proto.EdgeWall, store.EdgeMeta{})
	}
}

func TestBlockedMoveCommitsNothing(t *testing.T) {
	h := newCraftedHarness(t, 1, sealedOrigin)
	h.auth()

	res := result(t, h.moveDir(proto.DirE))
	if res.OK || res.Reason != proto.ReasonBlocked {
		t.Fatalf("expected blocked, got %+v", res)
	}

	// No cooldown, pose or facing was committed: an immediate retry is
	// refused as blocked again, not as a cooldown violation.
	res = result(t, h.moveDir(proto.DirS))
	if res.Reason != proto.ReasonBlocked {
		t.Errorf("second refusal reason = %s, want blocked", res.Reason)
	}
	ch, _ := h.mem.LoadActiveCharacter(context.Background(), h.userID)
	if ch.X != 0 || ch.Y != 0 || ch.Face != proto.DirN {
		t.Errorf("blocked move committed pose (%d,%d,%s)", ch.X, ch.Y, ch.Face)
	}
}

// corridorEast builds a straight hand-made corridor: open edge to (1,0),
// an unlocked door to (2,0), open again to (3,0), walls elsewhere at origin.
func corridorEast(mem *store.Memory, worldID string) {
	ctx := context.Background()
	_ = mem.WriteCell(ctx, worldID, 1, 0, 0, store.CellMeta{Kind: store.CellCorridor})
	for _, d := range [3]proto.Dir{proto.DirN, proto.DirS, proto.DirW} {
		_ = mem.WriteEdgeBothWays(ctx, worldID, 1, 0, 0, d, proto.EdgeWall, store.EdgeMeta{})
	}
	_ = mem.WriteEdgeBothWays(ctx, worldID, 1, 0, 0, proto.DirE, proto.EdgeOpen, store.EdgeMeta{})
	_ = mem.WriteEdgeBothWays(ctx, worldID, 1, 1, 0, proto.DirE, proto.EdgeDoorUnlocked, store.EdgeMeta{})
	_ = mem.WriteEdgeBothWays(ctx, worldID, 1, 2, 0, proto.DirE, proto.EdgeOpen, store.EdgeMeta{})
}

func TestDoorsBlockVisionNotMovement(t *testing.T) {
	h := newCraftedHarness(t, 1, corridorEast)
	snap := h.auth()

	visible := make(map[[2]int]bool)
	for _, c := range snap.VisibleCells {
		visible[[2]int{c.X, c.Y}] = true
	}
	if !visible[[2]int{1, 0}] {
		t.Error("(1,0) behind an open edge should be visible")
	}
	if visible[[2]int{2, 0}] {
		t.Error("(2,0) behind a door should not be visible")
	}

	// The door still permits traversal.
	if !result(t, h.moveDir(proto.DirE)).OK {
		t.Fatal("open edge refused")
	}
	h.now += testMoveCooldown
	msgs := h.moveDir(proto.DirE)
	if !result(t, msgs).OK {
		t.Fatal("unlocked door refused movement")
	}
	if snap := snapshot(t, msgs); snap.You.X != 2 {
		t.Errorf("after door crossing x = %d, want 2", snap.You.X)
	}
}

func TestMinimapGrowsWithDiscovery(t *testing.T) {
	h := newHarness(t, 777)
	snap := h.auth()
	if len(snap.MinimapCells) != 0 {
		t.Errorf("fresh character already has %d minimap cells", len(snap.MinimapCells))
	}

	_, snap = h.moveFirstOpen()
	if len(snap.MinimapCells) != 1 {
		t.Errorf("after one step minimap has %d cells, want 1", len(snap.MinimapCells))
	}
}

func TestNotImplementedIntents(t *testing.T) {
	h := newHarness(t, 777)
	h.auth()

	for _, typ := range []string{proto.TypeJoinWorld, proto.TypeInteract, proto.TypeUseEgg} {
		res := result(t, h.send(typ, nil))
		if res.OK || res.Reason != proto.ReasonNotImplemented {
			t.Errorf("%s: %+v", typ, res)
		}
	}
}

// TestReplayIdentity drives a scripted run, then replays the same intents
// on a fresh character in the same world with an identical clock schedule.
// Every snapshot hash must match the first run: the one expansion the
// script triggers happens on the first move, so every snapshot is taken
// against settled overlay state in both runs.
func TestReplayIdentity(t *testing.T) {
	h := newHarness(t, 777)
	ctx := context.Background()

	run := func(sess *Session, token string, exitDir proto.Dir) (proto.Dir, []string) {
		h.sess = sess
		h.now = testEpoch
		h.token = token
		snap := h.auth()
		hashes := []string{snap.WorldHash}

		record := func(msgs []proto.ServerMsg) {
			t.Helper()
			if !result(t, msgs).OK {
				t.Fatalf("scripted step refused: %+v", msgs)
			}
			hashes = append(hashes, snapshot(t, msgs).WorldHash)
		}

		// turn, step out, then oscillate back and forth on the same edge.
		h.now = testEpoch + 1000
		record(h.send(proto.TypeTurn, proto.TurnPayload{Face: "E"}))

		h.now = testEpoch + 2000
		if exitDir == "" {
			var s *proto.WorldState
			exitDir, s = h.moveFirstOpen()
			hashes = append(hashes, s.WorldHash)
		} else {
			record(h.moveDir(exitDir))
		}
		for i, d := range []proto.Dir{"B", "F", "B"} {
			h.now = testEpoch + int64(i+3)*1000
			record(h.moveDir(d))
		}
		return exitDir, hashes
	}

	exitDir, first := run(New(h.deps), h.token, "")

	// Second character, same world, same schedule.
	u2, err := h.mem.CreateUser(ctx, "second@test")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := h.mem.CreateSession(ctx, u2.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.mem.CreateCharacter(ctx, u2.ID, h.worldID, "Replayer"); err != nil {
		t.Fatal(err)
	}
	h.seq = 0

	_, second := run(New(h.deps), s2.Token, exitDir)

	if len(first) != len(second) {
		t.Fatalf("run lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("snapshot %d: hash %s != %s", i, first[i], second[i])
		}
	}
}
