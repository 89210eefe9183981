//go:build linux

package server

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/legamerdc/pong/game"
	"github.com/legamerdc/pong/protocol"
	"github.com/legamerdc/pong/replay"
)

// Lobby 是一个房间。guest 为空时房主在等待对手。
type Lobby struct {
	owner    *Connection
	guest    *Connection
	password string
	game     game.Game
	match    uuid.UUID
	created  time.Time
	replay   *replay.Recording
}

func (l *Lobby) Paired() bool { return l.guest != nil }

// handle 按消息类型分派。返回非 nil 时解析停止。
func (s *Server) handle(c *Connection, m protocol.ClientMessage) error {
	switch m := m.(type) {
	case protocol.CreateLobby:
		s.createLobby(c, m)
	case protocol.JoinLobby:
		s.joinLobby(c, m)
	case protocol.ClientUpdate:
		s.clientUpdate(c, m)
	case protocol.ClientStateUpdate:
		s.clientStateUpdate(c, m)
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownMessage, m)
	}
	if !s.conns.Contains(c) {
		return errConnectionGone
	}
	return nil
}

func (s *Server) createLobby(c *Connection, m protocol.CreateLobby) {
	if c.lobby != nil {
		s.sendError(c, protocol.InternalError)
		return
	}
	l, err := s.lobbies.Acquire()
	if err != nil {
		s.log.Warn("lobby pool exhausted", "conn", s.conns.IndexOf(c), "live", s.lobbies.Len())
		s.sendError(c, protocol.InternalError)
		return
	}
	l.owner = c
	l.password = m.Password
	l.created = time.Now()
	c.lobby = l

	id := s.lobbies.IndexOf(l)
	s.log.Info("lobby created", "lobby", id, "conn", s.conns.IndexOf(c), "peer", c.peer)
	s.send(c, protocol.LobbyCreated{ID: int32(id)})
}

func (s *Server) joinLobby(c *Connection, m protocol.JoinLobby) {
	l, ok := s.lobbies.Live(int(m.ID))
	if c.lobby != nil && (!ok || c.lobby != l) {
		s.sendError(c, protocol.InternalError)
		return
	}
	if !ok {
		s.sendError(c, protocol.InvalidLobbyID)
		return
	}
	if l.guest != nil || l.owner == c {
		s.sendError(c, protocol.LobbyIsFull)
		return
	}
	if subtle.ConstantTimeCompare([]byte(l.password), []byte(m.Password)) != 1 {
		s.sendError(c, protocol.InvalidPassword)
		return
	}

	l.guest = c
	c.lobby = l
	s.startMatch(l)
	s.log.Info("lobby joined",
		"lobby", m.ID,
		"match", l.match,
		"owner", l.owner.peer,
		"guest", c.peer)

	owner := l.owner
	s.send(owner, protocol.LobbyJoined{IP: c.peer.Addr().WithZone("").String()})
	if s.conns.Contains(c) && c.lobby == l {
		s.send(c, protocol.LobbyJoined{IP: owner.peer.Addr().WithZone("").String()})
	}
}

// startMatch 初始化对局并开始新的录像，旧录像（如有）先落盘。
func (s *Server) startMatch(l *Lobby) {
	s.rec.Save(l.replay)
	l.game.Init(true)
	l.match = uuid.New()
	l.replay = s.rec.Begin(l.match)
}

// membership 返回 c 所在的房间；不在房间时回复 InvalidLobbyID。
// 关联被破坏时断开 c 并返回 nil。
func (s *Server) membership(c *Connection) *Lobby {
	l := c.lobby
	if l == nil {
		s.sendError(c, protocol.InvalidLobbyID)
		return nil
	}
	if !s.lobbies.Contains(l) || (l.owner != c && l.guest != c) {
		s.log.Error("lobby membership broken", "conn", s.conns.IndexOf(c), "lobby", s.lobbies.IndexOf(l))
		c.lobby = nil
		s.disconnect(c, ErrInvariant)
		return nil
	}
	return l
}

func (s *Server) clientUpdate(c *Connection, m protocol.ClientUpdate) {
	l := s.membership(c)
	if l == nil {
		return
	}
	v := game.Vec2{X: m.Velocity.X, Y: m.Velocity.Y}
	if c == l.owner {
		l.game.SetPlayerVelocity(v)
		return
	}
	// 对手视角的 x 轴与房主相反
	l.game.SetOpponentVelocity(game.Vec2{X: -v.X, Y: v.Y})
}

func (s *Server) clientStateUpdate(c *Connection, m protocol.ClientStateUpdate) {
	l := s.membership(c)
	if l == nil {
		return
	}
	if m.State != protocol.Restart {
		return
	}
	if l.guest == nil || l.game.State == game.Running {
		s.log.Debug("restart rejected", "lobby", s.lobbies.IndexOf(l), "paired", l.Paired(), "state", l.game.State)
		s.sendError(c, protocol.InternalError)
		return
	}
	s.startMatch(l)
	s.log.Info("match restarted", "lobby", s.lobbies.IndexOf(l), "match", l.match, "by", c.peer)
	s.broadcast(l, protocol.GameStateUpdate{State: protocol.GameRunning}, protocol.GameStateUpdate{State: protocol.GameRunning})
}

// tick 推进所有进行中的对局一步并广播结果。
func (s *Server) tick() {
	for id, l := range s.lobbies.All() {
		if l.guest == nil || l.game.State != game.Running {
			continue
		}
		res := l.game.Step(s.tickMs)
		if res.SubSteps >= game.MaxSubSteps {
			s.log.Debug("collision sub-steps exhausted", "lobby", id, "collisions", res.Collisions)
		}

		g := &l.game
		switch g.State {
		case game.Running:
			s.broadcast(l,
				protocol.ServerUpdate{
					Player:   vec(g.Player.Box.Pos),
					Opponent: vec(g.Opponent.Box.Pos),
					Ball:     vec(g.Ball.Box.Pos),
				},
				protocol.ServerUpdate{
					Player:   vec(game.Mirror(g.Opponent.Box).Pos),
					Opponent: vec(game.Mirror(g.Player.Box).Pos),
					Ball:     vec(game.Mirror(g.Ball.Box).Pos),
				})
		case game.Won:
			s.log.Info("match over", "lobby", id, "match", l.match, "winner", l.owner.peer)
			s.broadcast(l, protocol.GameStateUpdate{State: protocol.GameWon}, protocol.GameStateUpdate{State: protocol.GameLost})
		case game.Lost:
			s.log.Info("match over", "lobby", id, "match", l.match, "winner", l.guest.peer)
			s.broadcast(l, protocol.GameStateUpdate{State: protocol.GameLost}, protocol.GameStateUpdate{State: protocol.GameWon})
		}
	}
}

func vec(v game.Vec2) protocol.Vec2 { return protocol.Vec2{X: v.X, Y: v.Y} }

// broadcast 分别向房主与对手发送各自视角的消息。向房主发送失败会拆除房间，
// 此时不再向对手发送。
func (s *Server) broadcast(l *Lobby, toOwner, toGuest protocol.ServerMessage) {
	l.replay.Append(toOwner)
	owner, guest := l.owner, l.guest
	s.send(owner, toOwner)
	if guest != nil && s.lobbies.Contains(l) && l.guest == guest {
		s.send(guest, toGuest)
	}
}

// leaveLobby 在 c 断开时调用：释放房间，通知留下的一方。
func (s *Server) leaveLobby(c *Connection) {
	l := c.lobby
	c.lobby = nil
	if l == nil || !s.lobbies.Contains(l) {
		return
	}
	var survivor *Connection
	switch c {
	case l.owner:
		survivor = l.guest
	case l.guest:
		survivor = l.owner
	default:
		s.log.Error("lobby membership broken", "conn", s.conns.IndexOf(c), "lobby", s.lobbies.IndexOf(l))
		return
	}
	s.closeLobby(l)
	if survivor != nil && s.conns.Contains(survivor) {
		survivor.lobby = nil
		s.sendError(survivor, protocol.OpponentDisconnected)
	}
}

func (s *Server) closeLobby(l *Lobby) {
	id := s.lobbies.IndexOf(l)
	s.rec.Save(l.replay)
	s.log.Info("lobby closed", "lobby", id, "match", l.match, "age", time.Since(l.created).Round(time.Millisecond))
	if err := s.lobbies.Release(l); err != nil {
		s.log.Error("release lobby slot failed", "lobby", id, "error", err)
	}
}
