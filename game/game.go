// Package game 是权威端的乒乓物理：固定步长推进，扫掠 AABB 检测碰撞。
// 坐标系为 [-1,1]²，速度单位为 单位长度/毫秒。
package game

import "fmt"

const (
	PlayerWidth  = 0.125
	PlayerHeight = 0.05
	BallWidth    = 0.05
	BallHeight   = 0.05

	PlayerSpeed = 0.0009
	BallSpeed   = PlayerSpeed / 2
	// MaxBallSpeed 限制击球加速后的单轴速度
	MaxBallSpeed = 8 * BallSpeed

	WallThickness = 1.0
	WallLength    = 2.0

	// HitSpeedFactor 每次击球后球速的放大倍数
	HitSpeedFactor = 1.05
	// Epsilon 是推进到碰撞前预留的时间（毫秒），避免同一碰撞被重复触发
	Epsilon = 0.01
	// MaxSubSteps 是单次 Step 内处理碰撞的上限
	MaxSubSteps = 16
)

// Board 是可活动区域。
var Board = Rect{Pos: Vec2{-1, -1}, Size: Vec2{2, 2}}

type CollisionType uint8

const (
	CollisionNone CollisionType = iota
	CollisionWin
	CollisionLose
	CollisionBounce
	CollisionPlayerReturn
)

func (c CollisionType) String() string {
	switch c {
	case CollisionNone:
		return "none"
	case CollisionWin:
		return "win"
	case CollisionLose:
		return "lose"
	case CollisionBounce:
		return "bounce"
	case CollisionPlayerReturn:
		return "player-return"
	}
	return fmt.Sprintf("collision(%d)", uint8(c))
}

type Object struct {
	Box       Rect
	Velocity  Vec2
	Collision CollisionType
}

type State uint8

const (
	Running State = iota
	Lost
	Won
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Lost:
		return "lost"
	case Won:
		return "won"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// 墙的下标，从底部开始顺时针。
const (
	WallBottom = iota
	WallLeft
	WallTop
	WallRight
)

// Game 是一局对战的完整状态。Player 在底部，Opponent 在顶部。
type Game struct {
	State       State
	Multiplayer bool
	Player      Object
	Opponent    Object
	Ball        Object
	Walls       [4]Object
}

func New(multiplayer bool) *Game {
	g := &Game{}
	g.Init(multiplayer)
	return g
}

func (g *Game) Init(multiplayer bool) {
	*g = Game{State: Running, Multiplayer: multiplayer}

	g.Player = Object{
		Box:       Rect{Pos: Vec2{-PlayerWidth / 2, -1}, Size: Vec2{PlayerWidth, PlayerHeight}},
		Collision: CollisionPlayerReturn,
	}
	g.Opponent = Object{
		Box:       Rect{Pos: Vec2{-PlayerWidth / 2, 1 - PlayerHeight}, Size: Vec2{PlayerWidth, PlayerHeight}},
		Collision: CollisionPlayerReturn,
	}
	g.Ball = Object{
		Box:      Rect{Pos: Vec2{-BallWidth / 2, -BallHeight / 2}, Size: Vec2{BallWidth, BallHeight}},
		Velocity: Vec2{BallSpeed, BallSpeed},
	}

	horizontal := Vec2{WallLength, WallThickness}
	vertical := Vec2{WallThickness, WallLength}
	g.Walls[WallBottom] = Object{Box: Rect{Pos: Vec2{-1, -1 - WallThickness}, Size: horizontal}, Collision: CollisionLose}
	g.Walls[WallLeft] = Object{Box: Rect{Pos: Vec2{-1 - WallThickness, -1}, Size: vertical}, Collision: CollisionBounce}
	g.Walls[WallTop] = Object{Box: Rect{Pos: Vec2{-1, 1}, Size: horizontal}, Collision: CollisionBounce}
	g.Walls[WallRight] = Object{Box: Rect{Pos: Vec2{1, -1}, Size: vertical}, Collision: CollisionBounce}
	if multiplayer {
		g.Walls[WallTop].Collision = CollisionWin
	}
}

// Restart 仅在对局结束后重新开始，返回是否生效。
func (g *Game) Restart() bool {
	if g.State == Running {
		return false
	}
	g.Init(g.Multiplayer)
	return true
}

// SetPlayerVelocity 只取水平分量并限制在 ±PlayerSpeed。
func (g *Game) SetPlayerVelocity(v Vec2) { g.Player.Velocity = paddleVelocity(v) }

func (g *Game) SetOpponentVelocity(v Vec2) { g.Opponent.Velocity = paddleVelocity(v) }

func paddleVelocity(v Vec2) Vec2 {
	x := v.X
	switch {
	case x != x: // NaN
		x = 0
	case x > PlayerSpeed:
		x = PlayerSpeed
	case x < -PlayerSpeed:
		x = -PlayerSpeed
	}
	return Vec2{X: x}
}
