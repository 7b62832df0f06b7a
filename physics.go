// Billiards table simulation
//
// Fixed-timestep, server-authoritative. stepTable is a pure function of the
// ball slice: no randomness, no clock reads, so identical inputs always
// produce identical outcomes. Clients only render replicated positions.

package main

import "math"

const (
	tableWidth  = 800.0
	tableHeight = 400.0

	ballRadius = 10.0

	// Pocket capture radius is intentionally larger than the ball radius to
	// create a capture tolerance around each pocket center.
	pocketRadius = 14.0

	// Per-tick velocity retention (drag) and wall/ball bounce restitution.
	friction    = 0.985
	restitution = 0.95

	// Below this speed a ball is considered stationary.
	stopThreshold = 0.05

	maxShotPower = 30.0
)

// pocketCenters lists the 6 pockets: 4 corners plus the long-edge midpoints.
var pocketCenters = [6][2]float64{
	{0, 0},
	{tableWidth / 2, 0},
	{tableWidth, 0},
	{0, tableHeight},
	{tableWidth / 2, tableHeight},
	{tableWidth, tableHeight},
}

type BallType string

const (
	BallCue    BallType = "cue"
	BallSolid  BallType = "solid"
	BallStripe BallType = "stripe"
	BallBlack  BallType = "black"
)

type Ball struct {
	ID      int      `json:"id"`
	Type    BallType `json:"type"`
	X       float64  `json:"x"`
	Y       float64  `json:"y"`
	VX      float64  `json:"-"`
	VY      float64  `json:"-"`
	Visible bool     `json:"visible"`
}

func (b *Ball) moving() bool {
	return b.VX != 0 || b.VY != 0
}

// rackBalls lays out the cue ball and a standard 15-ball triangle rack.
// IDs 1-7 are solids, 8 is the black ball, 9-15 are stripes.
func rackBalls() []*Ball {
	balls := make([]*Ball, 0, 16)

	balls = append(balls, &Ball{ID: 0, Type: BallCue, X: 200, Y: tableHeight / 2, Visible: true})

	ballTypeFor := func(id int) BallType {
		switch {
		case id == 8:
			return BallBlack
		case id < 8:
			return BallSolid
		default:
			return BallStripe
		}
	}

	// Rack apex at (560, 200), rows growing toward the right cushion. The
	// 8-ball sits in the middle of the third row, per convention.
	order := []int{1, 9, 2, 10, 8, 3, 11, 4, 12, 5, 13, 6, 14, 7, 15}
	spacing := ballRadius*2 + 0.5

	ix := 0
	for row := 0; row < 5; row++ {
		x := 560 + float64(row)*spacing*math.Sqrt(3)/2
		for col := 0; col <= row; col++ {
			y := tableHeight/2 + (float64(col)-float64(row)/2)*spacing
			id := order[ix]
			ix++
			balls = append(balls, &Ball{ID: id, Type: ballTypeFor(id), X: x, Y: y, Visible: true})
		}
	}

	return balls
}

// stepTable advances one simulation tick: integrate positions, capture
// pocketed balls, bounce survivors off the cushions, then resolve ball-ball
// collisions. Pocket capture runs before the cushion bounce so a ball
// crossing into the capture radius drops instead of rebounding off the rail.
// Returns the balls pocketed this tick and whether the table has settled.
func stepTable(balls []*Ball) (pocketed []*Ball, settled bool) {
	for _, b := range balls {
		if !b.Visible || !b.moving() {
			continue
		}

		b.X += b.VX
		b.Y += b.VY

		b.VX *= friction
		b.VY *= friction

		if b.VX*b.VX+b.VY*b.VY < stopThreshold*stopThreshold {
			b.VX, b.VY = 0, 0
		}
	}

	for _, b := range balls {
		if !b.Visible {
			continue
		}
		for _, p := range pocketCenters {
			dx := b.X - p[0]
			dy := b.Y - p[1]
			if dx*dx+dy*dy <= pocketRadius*pocketRadius {
				b.Visible = false
				b.VX, b.VY = 0, 0
				pocketed = append(pocketed, b)
				break
			}
		}
	}

	for _, b := range balls {
		if !b.Visible {
			continue
		}

		if b.X < ballRadius {
			b.X = 2*ballRadius - b.X
			b.VX = -b.VX * restitution
		} else if b.X > tableWidth-ballRadius {
			b.X = 2*(tableWidth-ballRadius) - b.X
			b.VX = -b.VX * restitution
		}
		if b.Y < ballRadius {
			b.Y = 2*ballRadius - b.Y
			b.VY = -b.VY * restitution
		} else if b.Y > tableHeight-ballRadius {
			b.Y = 2*(tableHeight-ballRadius) - b.Y
			b.VY = -b.VY * restitution
		}
	}

	for i := 0; i < len(balls); i++ {
		for j := i + 1; j < len(balls); j++ {
			collideBalls(balls[i], balls[j])
		}
	}

	settled = true
	for _, b := range balls {
		if b.Visible && b.moving() {
			settled = false
			break
		}
	}

	return pocketed, settled
}

// collideBalls resolves an elastic collision between two equal-mass balls by
// exchanging the velocity components along the contact normal.
func collideBalls(a, b *Ball) {
	if !a.Visible || !b.Visible {
		return
	}

	dx := b.X - a.X
	dy := b.Y - a.Y
	distSq := dx*dx + dy*dy
	minDist := 2 * ballRadius

	if distSq >= minDist*minDist || distSq == 0 {
		return
	}

	dist := math.Sqrt(distSq)
	nx := dx / dist
	ny := dy / dist

	// Push the balls apart so they no longer overlap.
	overlap := (minDist - dist) / 2
	a.X -= nx * overlap
	a.Y -= ny * overlap
	b.X += nx * overlap
	b.Y += ny * overlap

	// Relative velocity along the normal; skip if already separating.
	rvn := (b.VX-a.VX)*nx + (b.VY-a.VY)*ny
	if rvn > 0 {
		return
	}

	impulse := rvn * restitution

	a.VX += impulse * nx
	a.VY += impulse * ny
	b.VX -= impulse * nx
	b.VY -= impulse * ny
}
