package game

import "math"

// StepResult 汇总一次 Step 的推进情况。
type StepResult struct {
	// Advanced 是各子步推进时间之和；只有进入终局时才会小于 dt
	Advanced   float32
	SubSteps   int
	Collisions int
}

type axis uint8

const (
	axisX axis = iota
	axisY
)

type hit struct {
	t      float32
	target *Object
	normal axis
}

var inf = float32(math.Inf(1))

// Step 推进 dt 毫秒。每个子步找出最早的碰撞，推进到碰撞前 Epsilon 处再处理，
// 直到时间耗尽、进入终局或达到 MaxSubSteps。
func (g *Game) Step(dt float32) StepResult {
	var res StepResult
	remaining := dt
	for g.State == Running && remaining > 0 {
		if res.SubSteps == MaxSubSteps {
			// 不再处理碰撞，直接走完剩余时间
			g.advance(remaining)
			res.Advanced += remaining
			res.SubSteps++
			break
		}
		h, ok := g.earliest(remaining)
		if !ok {
			g.advance(remaining)
			res.Advanced += remaining
			res.SubSteps++
			break
		}
		adv := h.t - Epsilon
		if adv < 0 {
			adv = 0
		}
		g.advance(adv)
		res.Advanced += adv
		remaining -= adv
		res.SubSteps++
		res.Collisions++
		g.resolve(h)
	}
	return res
}

func (g *Game) earliest(limit float32) (hit, bool) {
	var (
		best  hit
		found bool
	)
	consider := func(h hit, ok bool) {
		if ok && (!found || h.t < best.t) {
			best, found = h, true
		}
	}
	consider(paddleHit(&g.Player, &g.Ball, limit))
	consider(paddleHit(&g.Opponent, &g.Ball, limit))
	for i := range g.Walls {
		consider(wallHit(&g.Walls[i], &g.Ball, limit))
	}
	return best, found
}

// paddleHit 只在 y 轴上求球与球拍最近边相遇的时间，再检查该时刻 x 方向是否重叠。
// 球背离该边运动时不算碰撞，刚弹开、仍贴着球拍的球不会被再次击中。
func paddleHit(p, ball *Object, limit float32) (hit, bool) {
	v := ball.Velocity
	var paddleEdge, ballEdge float32
	if ball.Box.Pos.Y > p.Box.Pos.Y {
		if v.Y >= 0 {
			return hit{}, false
		}
		paddleEdge, ballEdge = p.Box.Pos.Y+p.Box.Size.Y, ball.Box.Pos.Y
	} else {
		if v.Y <= 0 {
			return hit{}, false
		}
		paddleEdge, ballEdge = p.Box.Pos.Y, ball.Box.Pos.Y+ball.Box.Size.Y
	}
	t := (paddleEdge - ballEdge) / v.Y
	if t < 0 || t > limit {
		return hit{}, false
	}
	bx := ball.Box.Pos.X + v.X*t
	px := p.Box.Pos.X + p.Velocity.X*t
	if bx > px+p.Box.Size.X || px > bx+ball.Box.Size.X {
		return hit{}, false
	}
	return hit{t: t, target: p, normal: axisY}, true
}

// wallHit 用逐轴 slab 求球进入静止墙体的时间，法线取较晚进入的轴。
func wallHit(w, ball *Object, limit float32) (hit, bool) {
	bmax, wmax := ball.Box.Max(), w.Box.Max()
	entryX, exitX, ok := slab(ball.Box.Pos.X, bmax.X, w.Box.Pos.X, wmax.X, ball.Velocity.X)
	if !ok {
		return hit{}, false
	}
	entryY, exitY, ok := slab(ball.Box.Pos.Y, bmax.Y, w.Box.Pos.Y, wmax.Y, ball.Velocity.Y)
	if !ok {
		return hit{}, false
	}
	entry, exit := max(entryX, entryY), min(exitX, exitY)
	if entry > exit || entry < 0 || entry > limit {
		return hit{}, false
	}
	normal := axisY
	if entryX > entryY {
		normal = axisX
	}
	return hit{t: entry, target: w, normal: normal}, true
}

// slab 返回区间 [aMin,aMax] 以速度 v 运动时与 [bMin,bMax] 重叠的起止时间。
func slab(aMin, aMax, bMin, bMax, v float32) (entry, exit float32, ok bool) {
	if v == 0 {
		if aMax <= bMin || aMin >= bMax {
			return 0, 0, false
		}
		return -inf, inf, true
	}
	if v > 0 {
		return (bMin - aMax) / v, (bMax - aMin) / v, true
	}
	return (bMax - aMin) / v, (bMin - aMax) / v, true
}

func (g *Game) resolve(h hit) {
	switch h.target.Collision {
	case CollisionBounce:
		if h.normal == axisX {
			g.Ball.Velocity.X = -g.Ball.Velocity.X
		} else {
			g.Ball.Velocity.Y = -g.Ball.Velocity.Y
		}
	case CollisionPlayerReturn:
		v := g.Ball.Velocity
		v.Y = -v.Y
		if pv := h.target.Velocity.X; pv != 0 && (pv > 0) != (v.X > 0) {
			v.X = -v.X
		}
		v = v.Scale(HitSpeedFactor)
		v.X = clamp(v.X, -MaxBallSpeed, MaxBallSpeed)
		v.Y = clamp(v.Y, -MaxBallSpeed, MaxBallSpeed)
		g.Ball.Velocity = v
	case CollisionWin:
		g.State = Won
	case CollisionLose:
		g.State = Lost
	}
}

func (g *Game) advance(dt float32) {
	g.Ball.Box.Pos = g.Ball.Box.Pos.Add(g.Ball.Velocity.Scale(dt))
	for _, p := range []*Object{&g.Player, &g.Opponent} {
		p.Box.Pos = p.Box.Pos.Add(p.Velocity.Scale(dt))
		p.Box.ClampTo(Board)
	}
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
