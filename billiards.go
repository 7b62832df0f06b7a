// Gameroom billiards
//
// Two seated players plus spectators. Seats are assigned by join order via
// an explicit allocation policy; once both seats fill, the room moves from
// "waiting" to "playing". Shots run through the fixed-timestep table
// simulation on the room tick, and turn outcomes (fouls, group assignment,
// 8-ball win or loss) are evaluated only once the table settles.
//
// Client messages:
//   - shoot      {dx, dy, power}   strike the cue ball (current turn only)
//   - place_ball {x, y}            place the cue ball after a scratch
//   - restart    {}                rematch from "ended" or "disconnected"
//
// A seated player leaving moves the room to the "disconnected" phase, but
// never before an in-flight shot has settled.

package main

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

const billiardsMaxClients = 10

type BilliardsPhase string

const (
	BilliardsWaiting      BilliardsPhase = "waiting"
	BilliardsPlacing      BilliardsPhase = "placing"
	BilliardsPlaying      BilliardsPhase = "playing"
	BilliardsEnded        BilliardsPhase = "ended"
	BilliardsDisconnected BilliardsPhase = "disconnected"
)

var billiardsSeats = [2]string{"player1", "player2"}

// assignSeat returns the first unoccupied seat by join order, or "" when
// both seats are taken and the joiner becomes a spectator.
func assignSeat(taken map[string]bool) string {
	for _, seat := range billiardsSeats {
		if !taken[seat] {
			return seat
		}
	}
	return ""
}

type BilliardsPlayer struct {
	SessionID string   `json:"sessionId"`
	UserID    string   `json:"userId,omitempty"`
	Name      string   `json:"name"`
	Seat      string   `json:"seat"`
	Group     BallType `json:"group,omitempty"`
}

type BilliardsState struct {
	Phase       BilliardsPhase              `json:"phase"`
	Players     map[string]*BilliardsPlayer `json:"players"`
	Balls       []*Ball                     `json:"balls"`
	CurrentTurn string                      `json:"currentTurn"` // seat name
	Moving      bool                        `json:"moving"`
	FoulMessage string                      `json:"foulMessage"`
	Winner      string                      `json:"winner"` // seat name
}

type Billiards struct {
	cfg   *Config
	state BilliardsState

	shotBy            string // seat that took the in-flight shot
	pocketedThisShot  []*Ball
	pendingDisconnect bool
}

func newBilliards(cfg *Config) Game {
	return &Billiards{
		cfg: cfg,
		state: BilliardsState{
			Phase:   BilliardsWaiting,
			Players: make(map[string]*BilliardsPlayer),
			Balls:   rackBalls(),
		},
	}
}

func (g *Billiards) MaxClients() int {
	return billiardsMaxClients
}

func (g *Billiards) Snapshot() any {
	return &g.state
}

func (g *Billiards) TickInterval(cfg *Config) time.Duration {
	return time.Second / time.Duration(cfg.tickRate)
}

func (g *Billiards) seatTaken() map[string]bool {
	taken := make(map[string]bool, len(billiardsSeats))
	for _, p := range g.state.Players {
		taken[p.Seat] = true
	}
	return taken
}

func (g *Billiards) playerBySeat(seat string) *BilliardsPlayer {
	for _, p := range g.state.Players {
		if p.Seat == seat {
			return p
		}
	}
	return nil
}

func opponentSeat(seat string) string {
	if seat == billiardsSeats[0] {
		return billiardsSeats[1]
	}
	return billiardsSeats[0]
}

func (g *Billiards) OnJoin(r *Room, c *Client) {
	seat := assignSeat(g.seatTaken())
	if seat == "" {
		// Spectator: receives state, takes no part in play.
		return
	}

	name := c.opts.Name
	if name == "" {
		name = seat
	}

	player := &BilliardsPlayer{
		SessionID: c.sessionID,
		UserID:    c.opts.UserID,
		Name:      name,
		Seat:      seat,
	}
	g.state.Players[c.sessionID] = player
	r.patchAdd("players/"+c.sessionID, player)

	if g.state.Phase == BilliardsWaiting && g.playerBySeat(billiardsSeats[0]) != nil && g.playerBySeat(billiardsSeats[1]) != nil {
		g.setPhase(r, BilliardsPlaying)
		g.setTurn(r, billiardsSeats[0])
	}
}

func (g *Billiards) OnLeave(r *Room, c *Client, consented bool) {
	player, ok := g.state.Players[c.sessionID]
	if !ok {
		return
	}
	delete(g.state.Players, c.sessionID)
	r.patchRemove("players/" + c.sessionID)

	switch g.state.Phase {
	case BilliardsPlaying, BilliardsPlacing:
		if g.state.Moving {
			// Never interrupt an in-flight shot; the phase change happens
			// once the table settles.
			g.pendingDisconnect = true
			return
		}
		g.finishDisconnected(r, opponentSeat(player.Seat))
	case BilliardsWaiting, BilliardsEnded, BilliardsDisconnected:
		// Seat simply frees up.
	}
}

func (g *Billiards) OnMessage(r *Room, c *Client, kind string, payload json.RawMessage) {
	player, ok := g.state.Players[c.sessionID]
	if !ok {
		// Spectators and unknown senders cannot act.
		return
	}

	switch kind {
	case "shoot":
		g.handleShoot(r, player, payload)
	case "place_ball":
		g.handlePlaceBall(r, player, payload)
	case "restart":
		g.handleRestart(r)
	}
}

func (g *Billiards) handleShoot(r *Room, player *BilliardsPlayer, payload json.RawMessage) {
	if g.state.Phase != BilliardsPlaying || g.state.Moving || g.state.CurrentTurn != player.Seat {
		return
	}

	var msg struct {
		DX    float64 `json:"dx"`
		DY    float64 `json:"dy"`
		Power float64 `json:"power"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	length := math.Hypot(msg.DX, msg.DY)
	if length == 0 || msg.Power <= 0 {
		return
	}

	cue := g.cueBall()
	if cue == nil || !cue.Visible {
		return
	}

	power := math.Min(msg.Power, maxShotPower)
	cue.VX = msg.DX / length * power
	cue.VY = msg.DY / length * power

	g.shotBy = player.Seat
	g.pocketedThisShot = nil
	g.state.Moving = true
	r.patchSet("moving", true)

	if g.state.FoulMessage != "" {
		g.state.FoulMessage = ""
		r.patchSet("foulMessage", "")
	}

	logf(g.cfg, "BILLIARDS: %s shot at power %.1f", player.Seat, power)
}

func (g *Billiards) handlePlaceBall(r *Room, player *BilliardsPlayer, payload json.RawMessage) {
	if g.state.Phase != BilliardsPlacing || g.state.CurrentTurn != player.Seat {
		return
	}

	var msg struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	if msg.X < ballRadius || msg.X > tableWidth-ballRadius || msg.Y < ballRadius || msg.Y > tableHeight-ballRadius {
		return
	}

	// The spot must not overlap any visible ball.
	for _, b := range g.state.Balls {
		if b.Type == BallCue || !b.Visible {
			continue
		}
		if math.Hypot(b.X-msg.X, b.Y-msg.Y) < 2*ballRadius {
			return
		}
	}

	cue := g.cueBall()
	if cue == nil {
		return
	}
	cue.X = msg.X
	cue.Y = msg.Y
	cue.VX, cue.VY = 0, 0
	cue.Visible = true
	r.patchSet("balls/0", cue)

	g.setPhase(r, BilliardsPlaying)
}

func (g *Billiards) handleRestart(r *Room) {
	if g.state.Phase != BilliardsEnded && g.state.Phase != BilliardsDisconnected {
		return
	}

	g.state.Balls = rackBalls()
	g.shotBy = ""
	g.pocketedThisShot = nil
	g.pendingDisconnect = false
	g.state.Moving = false
	g.state.FoulMessage = ""
	g.state.Winner = ""
	for _, p := range g.state.Players {
		p.Group = ""
		r.patchSet("players/"+p.SessionID+"/group", "")
	}
	r.patchSet("balls", g.state.Balls)
	r.patchSet("moving", false)
	r.patchSet("foulMessage", "")
	r.patchSet("winner", "")

	g.setPhase(r, BilliardsWaiting)
	g.setTurn(r, "")

	if g.playerBySeat(billiardsSeats[0]) != nil && g.playerBySeat(billiardsSeats[1]) != nil {
		g.setPhase(r, BilliardsPlaying)
		g.setTurn(r, billiardsSeats[0])
	}
}

func (g *Billiards) OnTick(r *Room) {
	if !g.state.Moving {
		return
	}

	type point struct{ x, y float64 }
	before := make(map[int]point, len(g.state.Balls))
	for _, b := range g.state.Balls {
		before[b.ID] = point{b.X, b.Y}
	}

	pocketed, settled := stepTable(g.state.Balls)
	g.pocketedThisShot = append(g.pocketedThisShot, pocketed...)

	for _, b := range g.state.Balls {
		prev := before[b.ID]
		if prev.x != b.X || prev.y != b.Y {
			r.patchSet("balls/"+strconv.Itoa(b.ID), b)
		}
	}
	for _, b := range pocketed {
		r.patchSet("balls/"+strconv.Itoa(b.ID)+"/visible", false)
		logf(g.cfg, "BILLIARDS: Ball %d (%s) pocketed", b.ID, b.Type)
	}

	if settled {
		g.state.Moving = false
		r.patchSet("moving", false)
		g.evaluateShot(r)
	}
}

// evaluateShot applies the turn outcome after the table settles: scratch
// handling, group assignment on the first pot, 8-ball win or loss, and turn
// advancement. Runs at most once per shot.
func (g *Billiards) evaluateShot(r *Room) {
	shooter := g.playerBySeat(g.shotBy)

	if g.pendingDisconnect {
		g.pendingDisconnect = false
		remaining := ""
		for _, seat := range billiardsSeats {
			if g.playerBySeat(seat) != nil {
				remaining = seat
			}
		}
		g.finishDisconnected(r, remaining)
		return
	}

	if shooter == nil {
		return
	}

	var cuePocketed, blackPocketed bool
	var firstPotType BallType
	ownPots := 0

	for _, b := range g.pocketedThisShot {
		switch b.Type {
		case BallCue:
			cuePocketed = true
		case BallBlack:
			blackPocketed = true
		default:
			if firstPotType == "" {
				firstPotType = b.Type
			}
			if shooter.Group == b.Type {
				ownPots++
			}
		}
	}

	// Assign groups on the first potted object ball of the game.
	if shooter.Group == "" && firstPotType != "" {
		shooter.Group = firstPotType
		r.patchSet("players/"+shooter.SessionID+"/group", shooter.Group)
		ownPots++

		if opp := g.playerBySeat(opponentSeat(shooter.Seat)); opp != nil {
			other := BallSolid
			if firstPotType == BallSolid {
				other = BallStripe
			}
			opp.Group = other
			r.patchSet("players/"+opp.SessionID+"/group", opp.Group)
		}
	}

	if blackPocketed {
		winner := opponentSeat(shooter.Seat)
		if !cuePocketed && shooter.Group != "" && g.groupCleared(shooter.Group) {
			winner = shooter.Seat
		}
		g.state.Winner = winner
		r.patchSet("winner", winner)
		g.setPhase(r, BilliardsEnded)
		logf(g.cfg, "BILLIARDS: Game over, %s wins", winner)
		return
	}

	if cuePocketed {
		g.state.FoulMessage = "Scratch! Opponent gets ball in hand."
		r.patchSet("foulMessage", g.state.FoulMessage)
		g.setTurn(r, opponentSeat(shooter.Seat))
		g.setPhase(r, BilliardsPlacing)
		return
	}

	if ownPots == 0 {
		g.setTurn(r, opponentSeat(shooter.Seat))
	}
}

// groupCleared reports whether no visible ball of the group remains apart
// from any pocketed during the current shot evaluation.
func (g *Billiards) groupCleared(group BallType) bool {
	for _, b := range g.state.Balls {
		if b.Type == group && b.Visible {
			return false
		}
	}
	return true
}

func (g *Billiards) finishDisconnected(r *Room, remainingSeat string) {
	g.setPhase(r, BilliardsDisconnected)
	if remainingSeat != "" {
		g.state.Winner = remainingSeat
		r.patchSet("winner", remainingSeat)
	}
	g.setTurn(r, "")
}

func (g *Billiards) setPhase(r *Room, phase BilliardsPhase) {
	if g.state.Phase == phase {
		return
	}
	g.state.Phase = phase
	r.patchSet("phase", phase)
}

func (g *Billiards) setTurn(r *Room, seat string) {
	if g.state.CurrentTurn == seat {
		return
	}
	g.state.CurrentTurn = seat
	r.patchSet("currentTurn", seat)
}

func (g *Billiards) cueBall() *Ball {
	for _, b := range g.state.Balls {
		if b.Type == BallCue {
			return b
		}
	}
	return nil
}
