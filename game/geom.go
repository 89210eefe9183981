package game

type Vec2 struct {
	X, Y float32
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Scale(s float32) Vec2 { return Vec2{v.X * s, v.Y * s} }

func (v Vec2) Neg() Vec2 { return Vec2{-v.X, -v.Y} }

// Rect 是轴对齐盒子，Pos 为左下角。
type Rect struct {
	Pos  Vec2
	Size Vec2
}

func (r Rect) Max() Vec2 { return r.Pos.Add(r.Size) }

// Intersects 判断两个盒子是否重叠，边界接触也算。
func (r Rect) Intersects(o Rect) bool {
	rm, om := r.Max(), o.Max()
	return r.Pos.X <= om.X && o.Pos.X <= rm.X &&
		r.Pos.Y <= om.Y && o.Pos.Y <= rm.Y
}

// ClampTo 把 r 平移到 outer 内部。
func (r *Rect) ClampTo(outer Rect) {
	om := outer.Max()
	if r.Pos.X+r.Size.X > om.X {
		r.Pos.X = om.X - r.Size.X
	}
	if r.Pos.X < outer.Pos.X {
		r.Pos.X = outer.Pos.X
	}
	if r.Pos.Y+r.Size.Y > om.Y {
		r.Pos.Y = om.Y - r.Size.Y
	}
	if r.Pos.Y < outer.Pos.Y {
		r.Pos.Y = outer.Pos.Y
	}
}

// Mirror 把盒子关于原点做中心对称，用于对手视角。
func Mirror(r Rect) Rect {
	return Rect{Pos: r.Pos.Add(r.Size).Neg(), Size: r.Size}
}
