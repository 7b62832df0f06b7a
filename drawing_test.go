package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func newDrawingRoom(t *testing.T) (*Room, *Drawing) {
	t.Helper()
	cfg := testConfig()
	room := newRoom(cfg, "drawing", "test", newDrawing(cfg))
	return room, room.game.(*Drawing)
}

// frameTypes marshals each frame and collects its "type" field, so tests can
// match transient broadcast frames without caring about their struct types.
func frameTypes(t *testing.T, frames []any) []string {
	t.Helper()
	var out []string
	for _, f := range frames {
		raw, err := json.Marshal(f)
		if err != nil {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.Type != "" {
			out = append(out, probe.Type)
		}
	}
	return out
}

func countType(types []string, want string) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

func TestStartRequiresTwoOnlinePlayers(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	room.handleRegister(a)

	inbound(room, a, "start", `{}`)
	if g.state.Phase != DrawingLobby {
		t.Fatalf("a single player cannot start, got %q", g.state.Phase)
	}

	b := newTestClient("session-b", "user-b", "Bob")
	room.handleRegister(b)
	drainFrames(a)

	inbound(room, a, "start", `{}`)
	if g.state.Phase != DrawingSelecting {
		t.Fatalf("two players should start selecting, got %q", g.state.Phase)
	}
	if g.state.Round != 1 {
		t.Fatalf("start begins round 1, got %d", g.state.Round)
	}
	if g.state.CurrentDrawer != a.sessionID {
		t.Fatalf("first joiner draws first, got %q", g.state.CurrentDrawer)
	}
	if g.state.TimeLeft != selectSeconds {
		t.Fatalf("selection countdown should be %d, got %d", selectSeconds, g.state.TimeLeft)
	}
	if len(g.choices) != 3 {
		t.Fatalf("drawer should be offered 3 words, got %d", len(g.choices))
	}

	if got := countType(frameTypes(t, drainFrames(a)), "word_choices"); got != 1 {
		t.Fatalf("drawer should receive exactly one word_choices frame, got %d", got)
	}
	if got := countType(frameTypes(t, drainFrames(b)), "word_choices"); got != 0 {
		t.Fatal("guessers must not see the word choices")
	}
}

func TestSelectWordStartsSketching(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	room.handleRegister(a)
	room.handleRegister(b)
	inbound(room, a, "start", `{}`)

	word := g.choices[1]

	// Only the drawer may pick, and only from the offered words.
	inbound(room, b, "select_word", `{"word":"`+word+`"}`)
	if g.state.Phase != DrawingSelecting {
		t.Fatal("a guesser must not be able to pick the word")
	}
	inbound(room, a, "select_word", `{"word":"definitely-not-offered"}`)
	if g.state.Phase != DrawingSelecting {
		t.Fatal("words outside the offered set must be rejected")
	}

	drainFrames(a)
	drainFrames(b)
	inbound(room, a, "select_word", `{"word":"`+word+`"}`)

	if g.state.Phase != DrawingSketching {
		t.Fatalf("picking a word starts sketching, got %q", g.state.Phase)
	}
	if g.state.TimeLeft != drawSeconds {
		t.Fatalf("draw countdown should be %d, got %d", drawSeconds, g.state.TimeLeft)
	}
	if g.state.MaskedWord != maskWord(word) {
		t.Fatalf("replicated word must be masked: got %q", g.state.MaskedWord)
	}
	for _, r := range g.state.MaskedWord {
		if r != '_' && r != ' ' && r != '-' {
			t.Fatalf("masked word leaked a letter: %q", g.state.MaskedWord)
		}
	}

	if got := countType(frameTypes(t, drainFrames(a)), "your_word"); got != 1 {
		t.Fatalf("drawer should receive the secret word once, got %d", got)
	}
	if got := countType(frameTypes(t, drainFrames(b)), "your_word"); got != 0 {
		t.Fatal("guessers must never receive the secret word")
	}
}

func TestGuessScoring(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	c := newTestClient("session-c", "user-c", "Cara")
	room.handleRegister(a)
	room.handleRegister(b)
	room.handleRegister(c)

	inbound(room, a, "start", `{}`)
	inbound(room, a, "select_word", `{"word":"`+g.choices[0]+`"}`)
	drainFrames(a)
	drainFrames(b)
	drainFrames(c)

	inbound(room, b, "guess", `{"text":"wrong answer"}`)
	if g.state.Players[b.sessionID].Score != 0 {
		t.Fatal("wrong guesses must not score")
	}
	if got := countType(frameTypes(t, drainFrames(c)), "guess"); got != 1 {
		t.Fatalf("wrong guesses are public, expected 1 guess frame, got %d", got)
	}

	timeLeft := g.state.TimeLeft
	inbound(room, b, "guess", `{"text":"  `+strings.ToUpper(g.word)+`  "}`)

	if got := g.state.Players[b.sessionID].Score; got != guessBaseScore+timeLeft {
		t.Fatalf("correct guess scores base plus time left, want %d got %d", guessBaseScore+timeLeft, got)
	}
	if got := g.state.Players[a.sessionID].Score; got != drawerRewardScore {
		t.Fatalf("drawer is rewarded per correct guess, want %d got %d", drawerRewardScore, got)
	}
	if g.state.Players[c.sessionID].Score != 0 {
		t.Fatal("other guessers are unaffected")
	}
	if got := countType(frameTypes(t, drainFrames(c)), "correct_guess"); got != 1 {
		t.Fatalf("correct guess should broadcast once, got %d", got)
	}

	// Repeated guesses after solving are ignored.
	score := g.state.Players[b.sessionID].Score
	inbound(room, b, "guess", `{"text":"`+g.word+`"}`)
	if g.state.Players[b.sessionID].Score != score {
		t.Fatal("a solved guesser must not score twice")
	}
	if g.state.Phase != DrawingSketching {
		t.Fatal("the round continues while guessers remain")
	}

	inbound(room, c, "guess", `{"text":"`+g.word+`"}`)
	if g.state.Phase != DrawingResult {
		t.Fatalf("everyone guessing ends the round, got %q", g.state.Phase)
	}
}

func TestDrawerCannotGuess(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	room.handleRegister(a)
	room.handleRegister(b)
	inbound(room, a, "start", `{}`)
	inbound(room, a, "select_word", `{"word":"`+g.choices[0]+`"}`)

	inbound(room, a, "guess", `{"text":"`+g.word+`"}`)
	if g.state.Players[a.sessionID].Score != 0 {
		t.Fatal("the drawer must not score by guessing their own word")
	}
}

func TestDrawStrokesRelayedToOthersOnly(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	room.handleRegister(a)
	room.handleRegister(b)
	inbound(room, a, "start", `{}`)
	inbound(room, a, "select_word", `{"word":"`+g.choices[0]+`"}`)
	drainFrames(a)
	drainFrames(b)

	inbound(room, a, "draw", `{"x":10,"y":20,"color":"#000"}`)

	if got := countType(frameTypes(t, drainFrames(b)), "draw"); got != 1 {
		t.Fatalf("guessers should receive the stroke, got %d frames", got)
	}
	if got := countType(frameTypes(t, drainFrames(a)), "draw"); got != 0 {
		t.Fatal("strokes must not echo back to the drawer")
	}

	// Only the current drawer may draw.
	inbound(room, b, "draw", `{"x":1,"y":2}`)
	if got := countType(frameTypes(t, drainFrames(a)), "draw"); got != 0 {
		t.Fatal("strokes from non-drawers must be dropped")
	}
}

func TestSelectionTimeoutAutoPicks(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	room.handleRegister(a)
	room.handleRegister(b)
	inbound(room, a, "start", `{}`)

	fallback := g.choices[0]
	g.state.TimeLeft = 1
	g.OnTick(room)

	if g.state.Phase != DrawingSketching {
		t.Fatalf("selection expiry should auto-pick a word, got %q", g.state.Phase)
	}
	if g.word != fallback {
		t.Fatalf("auto-pick should use the first offered word, got %q", g.word)
	}
}

func TestRoundsRotateUntilFinished(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	room.handleRegister(a)
	room.handleRegister(b)
	inbound(room, a, "start", `{}`)

	drawers := []string{g.state.CurrentDrawer}
	for i := 0; i < 100 && g.state.Phase != DrawingFinished; i++ {
		prev := g.state.CurrentDrawer
		g.state.TimeLeft = 1
		g.OnTick(room)
		if g.state.Phase == DrawingSelecting && g.state.CurrentDrawer != prev {
			drawers = append(drawers, g.state.CurrentDrawer)
		}
	}

	if g.state.Phase != DrawingFinished {
		t.Fatalf("game should finish after %d rounds, got %q", drawingMaxRounds, g.state.Phase)
	}
	if len(drawers) != 2*drawingMaxRounds {
		t.Fatalf("expected %d turns across the game, got %d", 2*drawingMaxRounds, len(drawers))
	}
	for i, sid := range drawers {
		want := a.sessionID
		if i%2 == 1 {
			want = b.sessionID
		}
		if sid != want {
			t.Fatalf("turn %d: drawers should alternate by join order", i)
		}
	}
}

func TestSoftOfflineReconnect(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	c := newTestClient("session-c", "user-c", "Cara")
	room.handleRegister(a)
	room.handleRegister(b)
	room.handleRegister(c)
	inbound(room, a, "start", `{}`)

	g.state.Players[b.sessionID].Score = 140
	room.handleUnregister(b, false)

	player := g.state.Players[b.sessionID]
	if player == nil || player.Online {
		t.Fatal("a dropped player stays in state with online=false")
	}
	if player.Score != 140 {
		t.Fatal("score must survive a disconnect")
	}

	reborn := newTestClient("session-b2", "user-b", "Bob")
	room.handleRegister(reborn)

	if g.state.Players[b.sessionID] != nil {
		t.Fatal("the stale session entry should be rekeyed away")
	}
	restored := g.state.Players[reborn.sessionID]
	if restored == nil || !restored.Online {
		t.Fatal("reconnecting by user id should restore the entry online")
	}
	if restored.Score != 140 {
		t.Fatalf("reconnect must keep the score, got %d", restored.Score)
	}

	found := false
	for _, sid := range g.order {
		if sid == b.sessionID {
			t.Fatal("drawer rotation should not keep the stale session")
		}
		if sid == reborn.sessionID {
			found = true
		}
	}
	if !found {
		t.Fatal("drawer rotation should carry the new session")
	}
}

func TestOfflinePurgeAfterTimeout(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	c := newTestClient("session-c", "user-c", "Cara")
	room.handleRegister(a)
	room.handleRegister(b)
	room.handleRegister(c)
	inbound(room, a, "start", `{}`)

	room.handleUnregister(c, false)
	g.offlineAt[c.sessionID] = time.Now().Add(-g.cfg.playerTimeout - time.Second)

	g.OnTick(room)

	if g.state.Players[c.sessionID] != nil {
		t.Fatal("offline entry should be purged after the grace period")
	}
	for _, sid := range g.order {
		if sid == c.sessionID {
			t.Fatal("purged player should leave the drawer rotation")
		}
	}
}

func TestDrawerLeavingEndsRound(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	c := newTestClient("session-c", "user-c", "Cara")
	room.handleRegister(a)
	room.handleRegister(b)
	room.handleRegister(c)
	inbound(room, a, "start", `{}`)
	inbound(room, a, "select_word", `{"word":"`+g.choices[0]+`"}`)

	room.handleUnregister(a, false)

	if g.state.Phase != DrawingResult {
		t.Fatalf("the drawer leaving ends the round, got %q", g.state.Phase)
	}
}

func TestTooFewOnlineResetsToLobby(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	room.handleRegister(a)
	room.handleRegister(b)
	inbound(room, a, "start", `{}`)

	room.handleUnregister(b, false)

	if g.state.Phase != DrawingLobby {
		t.Fatalf("fewer than two online players resets to the lobby, got %q", g.state.Phase)
	}
	if g.state.Round != 0 {
		t.Fatalf("lobby reset should clear the round counter, got %d", g.state.Round)
	}
}

func TestRestartAfterFinished(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	room.handleRegister(a)
	room.handleRegister(b)

	g.state.Phase = DrawingFinished
	g.state.Players[a.sessionID].Score = 225
	g.state.Players[b.sessionID].Score = 175

	inbound(room, b, "restart", `{}`)

	if g.state.Phase != DrawingLobby {
		t.Fatalf("restart returns to the lobby, got %q", g.state.Phase)
	}
	for _, p := range g.state.Players {
		if p.Score != 0 {
			t.Fatal("restart should zero all scores")
		}
	}
}

func TestReconnectedGuesserCannotScoreTwice(t *testing.T) {
	room, g := newDrawingRoom(t)

	a := newTestClient("session-a", "user-a", "Alice")
	b := newTestClient("session-b", "user-b", "Bob")
	c := newTestClient("session-c", "user-c", "Cara")
	room.handleRegister(a)
	room.handleRegister(b)
	room.handleRegister(c)
	inbound(room, a, "start", `{}`)
	inbound(room, a, "select_word", `{"word":"`+g.choices[0]+`"}`)

	inbound(room, b, "guess", `{"text":"`+g.word+`"}`)
	solvedScore := g.state.Players[b.sessionID].Score
	drawerScore := g.state.Players[a.sessionID].Score
	if solvedScore == 0 || drawerScore == 0 {
		t.Fatal("the first correct guess should score")
	}

	room.handleUnregister(b, false)
	reborn := newTestClient("session-b2", "user-b", "Bob")
	room.handleRegister(reborn)

	inbound(room, reborn, "guess", `{"text":"`+g.word+`"}`)

	if got := g.state.Players[reborn.sessionID].Score; got != solvedScore {
		t.Fatalf("a solved guesser rejoining mid-round must not score again, got %d", got)
	}
	if got := g.state.Players[a.sessionID].Score; got != drawerScore {
		t.Fatalf("the drawer must not be rewarded twice, got %d", got)
	}
	if g.state.Phase != DrawingSketching {
		t.Fatalf("the round continues for the remaining guesser, got %q", g.state.Phase)
	}
}

func TestMaskWordShape(t *testing.T) {
	if got := maskWord("ice cream"); got != "___ _____" {
		t.Fatalf("spaces survive masking, got %q", got)
	}
	if got := maskWord("t-shirt"); got != "_-_____" {
		t.Fatalf("hyphens survive masking, got %q", got)
	}
}
