// Gameroom drawing
//
// Round-based draw-and-guess. Each round one player draws a word while the
// others guess; correct guesses score for both guesser and drawer. Phases:
// lobby → selecting → drawing → result → (selecting again, or finished once
// every player has drawn in each of maxRounds rounds).
//
// Disconnects are soft: the player entry stays with online=false so score
// survives a brief reconnect (matched by external user id), and is purged
// only after --player-timeout.
//
// Client messages:
//   - start       {}        begin the game from the lobby (2+ online players)
//   - select_word {word}    drawer picks one of the offered words
//   - draw        {...}     drawer strokes, relayed to the other clients
//   - guess       {text}    guess the word
//   - restart     {}        back to the lobby after "finished"

package main

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

const (
	drawingMaxClients = 12
	drawingMaxRounds  = 3

	selectSeconds = 15
	drawSeconds   = 75
	resultSeconds = 8

	guessBaseScore    = 100
	drawerRewardScore = 25
)

type DrawingPhase string

const (
	DrawingLobby     DrawingPhase = "lobby"
	DrawingSelecting DrawingPhase = "selecting"
	DrawingSketching DrawingPhase = "drawing"
	DrawingResult    DrawingPhase = "result"
	DrawingFinished  DrawingPhase = "finished"
)

type DrawingPlayer struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Drawing   bool   `json:"drawing"`
	Online    bool   `json:"online"`
}

type DrawingState struct {
	Phase         DrawingPhase              `json:"phase"`
	Players       map[string]*DrawingPlayer `json:"players"`
	Round         int                       `json:"round"`
	MaxRounds     int                       `json:"maxRounds"`
	TimeLeft      int                       `json:"timeLeft"`
	CurrentDrawer string                    `json:"currentDrawer"`
	MaskedWord    string                    `json:"maskedWord"`
}

type Drawing struct {
	cfg   *Config
	state DrawingState

	word    string // the secret word, never replicated
	choices []string

	order   []string // drawer rotation, session IDs in join order
	orderIx int

	guessed   map[string]bool
	offlineAt map[string]time.Time
}

func newDrawing(cfg *Config) Game {
	return &Drawing{
		cfg: cfg,
		state: DrawingState{
			Phase:     DrawingLobby,
			Players:   make(map[string]*DrawingPlayer),
			MaxRounds: drawingMaxRounds,
		},
		guessed:   make(map[string]bool),
		offlineAt: make(map[string]time.Time),
	}
}

func (g *Drawing) MaxClients() int {
	return drawingMaxClients
}

func (g *Drawing) Snapshot() any {
	return &g.state
}

func (g *Drawing) TickInterval(cfg *Config) time.Duration {
	return time.Second
}

func (g *Drawing) OnJoin(r *Room, c *Client) {
	// A returning player reclaims their offline entry, score included.
	if c.opts.UserID != "" {
		for sid, p := range g.state.Players {
			if !p.Online && p.UserID == c.opts.UserID {
				g.rekeyPlayer(r, sid, c.sessionID, p)
				return
			}
		}
	}

	name := c.opts.Name
	if name == "" {
		name = "player-" + c.sessionID[:8]
	}

	player := &DrawingPlayer{
		SessionID: c.sessionID,
		UserID:    c.opts.UserID,
		Name:      name,
		Online:    true,
	}
	g.state.Players[c.sessionID] = player
	g.order = append(g.order, c.sessionID)
	r.patchAdd("players/"+c.sessionID, player)
}

func (g *Drawing) rekeyPlayer(r *Room, oldSID, newSID string, p *DrawingPlayer) {
	delete(g.state.Players, oldSID)
	delete(g.offlineAt, oldSID)
	r.patchRemove("players/" + oldSID)

	// A solved guess carries over, so rejoining mid-round cannot score twice.
	if g.guessed[oldSID] {
		delete(g.guessed, oldSID)
		g.guessed[newSID] = true
	}

	p.SessionID = newSID
	p.Online = true
	g.state.Players[newSID] = p
	r.patchAdd("players/"+newSID, p)

	for i, sid := range g.order {
		if sid == oldSID {
			g.order[i] = newSID
		}
	}
	if g.state.CurrentDrawer == oldSID {
		g.state.CurrentDrawer = newSID
		r.patchSet("currentDrawer", newSID)
	}

	logf(g.cfg, "DRAWING: %q reconnected with score %d", p.Name, p.Score)
}

func (g *Drawing) OnLeave(r *Room, c *Client, consented bool) {
	player, ok := g.state.Players[c.sessionID]
	if !ok {
		return
	}

	player.Online = false
	g.offlineAt[c.sessionID] = time.Now()
	r.patchSet("players/"+c.sessionID+"/online", false)

	if g.state.CurrentDrawer == c.sessionID &&
		(g.state.Phase == DrawingSelecting || g.state.Phase == DrawingSketching) {
		g.endRound(r)
	}

	if g.onlineCount() < 2 && g.state.Phase != DrawingLobby && g.state.Phase != DrawingFinished {
		g.resetToLobby(r)
	}
}

func (g *Drawing) OnMessage(r *Room, c *Client, kind string, payload json.RawMessage) {
	player, ok := g.state.Players[c.sessionID]
	if !ok || !player.Online {
		return
	}

	switch kind {
	case "start":
		if g.state.Phase != DrawingLobby || g.onlineCount() < 2 {
			return
		}
		g.setRound(r, 1)
		g.orderIx = 0
		g.startSelecting(r)

	case "select_word":
		var msg struct {
			Word string `json:"word"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Word == "" {
			return
		}
		if g.state.Phase != DrawingSelecting || g.state.CurrentDrawer != c.sessionID {
			return
		}
		if !slices.Contains(g.choices, msg.Word) {
			return
		}
		g.startSketching(r, msg.Word)

	case "draw":
		if g.state.Phase != DrawingSketching || g.state.CurrentDrawer != c.sessionID {
			return
		}
		// Strokes are transient: relayed, not part of replicated state.
		frame := struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}{Type: "draw", Data: payload}
		for _, other := range r.clients {
			if other.sessionID != c.sessionID {
				r.sendTo(other, frame)
			}
		}

	case "guess":
		g.handleGuess(r, c, player, payload)

	case "restart":
		if g.state.Phase != DrawingFinished {
			return
		}
		for _, p := range g.state.Players {
			if p.Score != 0 {
				p.Score = 0
				r.patchSet("players/"+p.SessionID+"/score", 0)
			}
		}
		g.setRound(r, 0)
		g.setPhase(r, DrawingLobby)
	}
}

func (g *Drawing) handleGuess(r *Room, c *Client, player *DrawingPlayer, payload json.RawMessage) {
	var msg struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Text == "" {
		return
	}
	if g.state.Phase != DrawingSketching || g.state.CurrentDrawer == c.sessionID || g.guessed[c.sessionID] {
		return
	}

	if !strings.EqualFold(strings.TrimSpace(msg.Text), g.word) {
		// Wrong guesses are public.
		r.broadcast(struct {
			Type   string `json:"type"`
			Sender string `json:"sender"`
			Text   string `json:"text"`
		}{Type: "guess", Sender: player.Name, Text: msg.Text})
		return
	}

	g.guessed[c.sessionID] = true

	player.Score += guessBaseScore + g.state.TimeLeft
	r.patchSet("players/"+c.sessionID+"/score", player.Score)

	if drawer := g.state.Players[g.state.CurrentDrawer]; drawer != nil {
		drawer.Score += drawerRewardScore
		r.patchSet("players/"+drawer.SessionID+"/score", drawer.Score)
	}

	r.broadcast(struct {
		Type   string `json:"type"`
		Sender string `json:"sender"`
	}{Type: "correct_guess", Sender: player.Name})

	logf(g.cfg, "DRAWING: %q guessed the word", player.Name)

	if g.allGuessed() {
		g.endRound(r)
	}
}

func (g *Drawing) OnTick(r *Room) {
	g.purgeOffline(r)

	switch g.state.Phase {
	case DrawingSelecting, DrawingSketching, DrawingResult:
	default:
		return
	}

	if g.state.TimeLeft > 0 {
		g.state.TimeLeft--
		r.patchSet("timeLeft", g.state.TimeLeft)
	}
	if g.state.TimeLeft > 0 {
		return
	}

	switch g.state.Phase {
	case DrawingSelecting:
		// Drawer never picked; fall back to the first offered word.
		if len(g.choices) > 0 {
			g.startSketching(r, g.choices[0])
		} else {
			g.endRound(r)
		}
	case DrawingSketching:
		g.endRound(r)
	case DrawingResult:
		g.nextTurn(r)
	}
}

// purgeOffline removes entries whose reconnection grace has elapsed.
func (g *Drawing) purgeOffline(r *Room) {
	if g.cfg.playerTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-g.cfg.playerTimeout)
	for sid, at := range g.offlineAt {
		if at.After(cutoff) {
			continue
		}
		delete(g.offlineAt, sid)
		if _, ok := g.state.Players[sid]; !ok {
			continue
		}
		delete(g.state.Players, sid)
		r.patchRemove("players/" + sid)

		order := g.order[:0]
		for _, s := range g.order {
			if s != sid {
				order = append(order, s)
			}
		}
		g.order = order
	}
}

func (g *Drawing) startSelecting(r *Room) {
	drawer := g.nextOnlineDrawer()
	if drawer == "" {
		g.resetToLobby(r)
		return
	}

	g.setDrawerFlag(r, drawer)
	g.state.CurrentDrawer = drawer
	r.patchSet("currentDrawer", drawer)

	g.word = ""
	g.choices = pickWords(3)
	g.guessed = make(map[string]bool)

	g.setMaskedWord(r, "")
	g.setPhase(r, DrawingSelecting)
	g.setTimeLeft(r, selectSeconds)

	if c := r.clientBySession(drawer); c != nil {
		r.sendTo(c, struct {
			Type  string   `json:"type"`
			Words []string `json:"words"`
		}{Type: "word_choices", Words: g.choices})
	}
}

func (g *Drawing) startSketching(r *Room, word string) {
	g.word = word
	g.choices = nil

	g.setMaskedWord(r, maskWord(word))
	g.setPhase(r, DrawingSketching)
	g.setTimeLeft(r, drawSeconds)

	if c := r.clientBySession(g.state.CurrentDrawer); c != nil {
		r.sendTo(c, struct {
			Type string `json:"type"`
			Word string `json:"word"`
		}{Type: "your_word", Word: word})
	}

	logf(g.cfg, "DRAWING: Round %d sketch started", g.state.Round)
}

func (g *Drawing) endRound(r *Room) {
	r.broadcast(struct {
		Type string `json:"type"`
		Word string `json:"word"`
	}{Type: "reveal", Word: g.word})

	g.word = ""
	g.choices = nil
	g.setPhase(r, DrawingResult)
	g.setTimeLeft(r, resultSeconds)
}

func (g *Drawing) nextTurn(r *Room) {
	g.setDrawerFlag(r, "")

	g.orderIx++
	if g.orderIx >= len(g.order) {
		g.orderIx = 0
		g.setRound(r, g.state.Round+1)
		if g.state.Round > g.state.MaxRounds {
			g.state.CurrentDrawer = ""
			r.patchSet("currentDrawer", "")
			g.setPhase(r, DrawingFinished)
			return
		}
	}

	g.startSelecting(r)
}

// nextOnlineDrawer advances orderIx to the next online player and returns
// their session ID, or "" if nobody is online.
func (g *Drawing) nextOnlineDrawer() string {
	for i := 0; i < len(g.order); i++ {
		ix := (g.orderIx + i) % len(g.order)
		sid := g.order[ix]
		if p := g.state.Players[sid]; p != nil && p.Online {
			g.orderIx = ix
			return sid
		}
	}
	return ""
}

func (g *Drawing) resetToLobby(r *Room) {
	g.word = ""
	g.choices = nil
	g.setDrawerFlag(r, "")
	g.state.CurrentDrawer = ""
	r.patchSet("currentDrawer", "")
	g.setMaskedWord(r, "")
	g.setRound(r, 0)
	g.setTimeLeft(r, 0)
	g.setPhase(r, DrawingLobby)
}

// setDrawerFlag marks exactly the given session as drawing.
func (g *Drawing) setDrawerFlag(r *Room, drawer string) {
	for sid, p := range g.state.Players {
		want := sid == drawer && drawer != ""
		if p.Drawing != want {
			p.Drawing = want
			r.patchSet("players/"+sid+"/drawing", want)
		}
	}
}

func (g *Drawing) onlineCount() int {
	n := 0
	for _, p := range g.state.Players {
		if p.Online {
			n++
		}
	}
	return n
}

// allGuessed reports whether every online non-drawer has guessed the word.
func (g *Drawing) allGuessed() bool {
	for sid, p := range g.state.Players {
		if !p.Online || sid == g.state.CurrentDrawer {
			continue
		}
		if !g.guessed[sid] {
			return false
		}
	}
	return true
}

func (g *Drawing) setPhase(r *Room, phase DrawingPhase) {
	if g.state.Phase == phase {
		return
	}
	g.state.Phase = phase
	r.patchSet("phase", phase)
}

func (g *Drawing) setRound(r *Room, round int) {
	if g.state.Round == round {
		return
	}
	g.state.Round = round
	r.patchSet("round", round)
}

func (g *Drawing) setTimeLeft(r *Room, seconds int) {
	g.state.TimeLeft = seconds
	r.patchSet("timeLeft", seconds)
}

func (g *Drawing) setMaskedWord(r *Room, masked string) {
	if g.state.MaskedWord == masked {
		return
	}
	g.state.MaskedWord = masked
	r.patchSet("maskedWord", masked)
}
