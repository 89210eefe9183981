package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MessageID 是帧的判别字段。0x00-0x7f 为客户端消息，0x80-0xff 为服务端消息。
type MessageID uint16

const (
	IDCreateLobby       MessageID = 0x00
	IDJoinLobby         MessageID = 0x01
	IDClientUpdate      MessageID = 0x02
	IDClientStateUpdate MessageID = 0x03

	IDLobbyCreated    MessageID = 0x80
	IDLobbyJoined     MessageID = 0x81
	IDServerUpdate    MessageID = 0x82
	IDGameStateUpdate MessageID = 0x83
	IDError           MessageID = 0xff
)

func (id MessageID) String() string {
	switch id {
	case IDCreateLobby:
		return "CreateLobby"
	case IDJoinLobby:
		return "JoinLobby"
	case IDClientUpdate:
		return "ClientUpdate"
	case IDClientStateUpdate:
		return "ClientStateUpdate"
	case IDLobbyCreated:
		return "LobbyCreated"
	case IDLobbyJoined:
		return "LobbyJoined"
	case IDServerUpdate:
		return "ServerUpdate"
	case IDGameStateUpdate:
		return "GameStateUpdate"
	case IDError:
		return "Error"
	}
	return fmt.Sprintf("MessageID(%#x)", uint16(id))
}

// ErrorCode 是 Error 消息携带的状态码。
type ErrorCode int32

const (
	LobbyIsFull ErrorCode = iota
	InvalidLobbyID
	InvalidPassword
	OpponentDisconnected
	InternalError
	errorCodeMax
)

func (c ErrorCode) String() string {
	switch c {
	case LobbyIsFull:
		return "lobby is full"
	case InvalidLobbyID:
		return "invalid lobby id"
	case InvalidPassword:
		return "invalid password"
	case OpponentDisconnected:
		return "opponent disconnected"
	case InternalError:
		return "internal error"
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}

// ClientState 是客户端请求的状态切换。
type ClientState int32

const Restart ClientState = 0

// GameState 是服务端广播的对局状态。
type GameState int32

const (
	GameRunning GameState = iota
	GameLost
	GameWon
)

func (s GameState) String() string {
	switch s {
	case GameRunning:
		return "running"
	case GameLost:
		return "lost"
	case GameWon:
		return "won"
	}
	return fmt.Sprintf("GameState(%d)", int32(s))
}

type Vec2 struct {
	X, Y float32
}

// message 由所有消息实现；未导出方法使两个方向的接口对外封闭。
type message interface {
	MessageID() MessageID
	size() int
	put(b []byte)
	check() error
}

// ClientMessage 是客户端发往服务端的消息。
type ClientMessage interface {
	message
	clientMessage()
}

// ServerMessage 是服务端发往客户端的消息。
type ServerMessage interface {
	message
	serverMessage()
}

type CreateLobby struct {
	Password string
}

type JoinLobby struct {
	ID       int32
	Password string
}

// ClientUpdate 上报本地计算出的球拍速度。
type ClientUpdate struct {
	Velocity Vec2
}

type ClientStateUpdate struct {
	State ClientState
}

type LobbyCreated struct {
	ID int32
}

// LobbyJoined 携带对手的 IP 文本。
type LobbyJoined struct {
	IP string
}

// ServerUpdate 是接收方视角下的位置（盒子左下角）。
type ServerUpdate struct {
	Player   Vec2
	Opponent Vec2
	Ball     Vec2
}

type GameStateUpdate struct {
	State GameState
}

type Error struct {
	Code ErrorCode
}

func (CreateLobby) clientMessage()       {}
func (JoinLobby) clientMessage()         {}
func (ClientUpdate) clientMessage()      {}
func (ClientStateUpdate) clientMessage() {}

func (LobbyCreated) serverMessage()    {}
func (LobbyJoined) serverMessage()     {}
func (ServerUpdate) serverMessage()    {}
func (GameStateUpdate) serverMessage() {}
func (Error) serverMessage()           {}

func (CreateLobby) MessageID() MessageID       { return IDCreateLobby }
func (JoinLobby) MessageID() MessageID         { return IDJoinLobby }
func (ClientUpdate) MessageID() MessageID      { return IDClientUpdate }
func (ClientStateUpdate) MessageID() MessageID { return IDClientStateUpdate }
func (LobbyCreated) MessageID() MessageID      { return IDLobbyCreated }
func (LobbyJoined) MessageID() MessageID       { return IDLobbyJoined }
func (ServerUpdate) MessageID() MessageID      { return IDServerUpdate }
func (GameStateUpdate) MessageID() MessageID   { return IDGameStateUpdate }
func (Error) MessageID() MessageID             { return IDError }

func (m CreateLobby) size() int     { return len(m.Password) + 1 }
func (m JoinLobby) size() int       { return 4 + len(m.Password) + 1 }
func (ClientUpdate) size() int      { return 8 }
func (ClientStateUpdate) size() int { return 4 }
func (LobbyCreated) size() int      { return 4 }
func (m LobbyJoined) size() int     { return len(m.IP) + 1 }
func (ServerUpdate) size() int      { return 24 }
func (GameStateUpdate) size() int   { return 4 }
func (Error) size() int             { return 4 }

func (m CreateLobby) check() error       { return checkString(m.Password, MaxPasswordSize) }
func (m JoinLobby) check() error         { return checkString(m.Password, MaxPasswordSize) }
func (ClientUpdate) check() error        { return nil }
func (m ClientStateUpdate) check() error { return checkClientState(m.State) }
func (LobbyCreated) check() error        { return nil }
func (m LobbyJoined) check() error       { return checkString(m.IP, MaxIPSize) }
func (ServerUpdate) check() error        { return nil }
func (m GameStateUpdate) check() error   { return checkGameState(m.State) }
func (m Error) check() error             { return checkErrorCode(m.Code) }

func (m CreateLobby) put(b []byte) { putString(b, m.Password) }

func (m JoinLobby) put(b []byte) {
	putI32(b, m.ID)
	putString(b[4:], m.Password)
}

func (m ClientUpdate) put(b []byte)      { putVec2(b, m.Velocity) }
func (m ClientStateUpdate) put(b []byte) { putI32(b, int32(m.State)) }
func (m LobbyCreated) put(b []byte)      { putI32(b, m.ID) }
func (m LobbyJoined) put(b []byte)       { putString(b, m.IP) }

func (m ServerUpdate) put(b []byte) {
	putVec2(b[0:], m.Player)
	putVec2(b[8:], m.Opponent)
	putVec2(b[16:], m.Ball)
}

func (m GameStateUpdate) put(b []byte) { putI32(b, int32(m.State)) }
func (m Error) put(b []byte)           { putI32(b, int32(m.Code)) }

func checkString(s string, limit int) error {
	if len(s)+1 > limit {
		return ErrFieldTooLong
	}
	if strings.IndexByte(s, 0) >= 0 {
		return ErrUnterminated
	}
	return nil
}

func checkClientState(s ClientState) error {
	if s != Restart {
		return ErrInvalidField
	}
	return nil
}

func checkGameState(s GameState) error {
	if s < GameRunning || s > GameWon {
		return ErrInvalidField
	}
	return nil
}

func checkErrorCode(c ErrorCode) error {
	if c < 0 || c >= errorCodeMax {
		return ErrInvalidField
	}
	return nil
}

func putI32(b []byte, v int32) { binary.NativeEndian.PutUint32(b, uint32(v)) }

func putVec2(b []byte, v Vec2) {
	binary.NativeEndian.PutUint32(b[0:4], math.Float32bits(v.X))
	binary.NativeEndian.PutUint32(b[4:8], math.Float32bits(v.Y))
}

func putString(b []byte, s string) {
	n := copy(b, s)
	b[n] = 0
}

func readI32(b []byte) int32 { return int32(binary.NativeEndian.Uint32(b)) }

func readVec2(b []byte) Vec2 {
	return Vec2{
		X: math.Float32frombits(binary.NativeEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.NativeEndian.Uint32(b[4:8])),
	}
}

// readString 要求 b 恰好是一个以 NUL 结尾的字符串（NUL 只出现在末尾）。
func readString(b []byte, limit int) (string, error) {
	if len(b) > limit {
		return "", ErrFieldTooLong
	}
	if len(b) == 0 || bytes.IndexByte(b, 0) != len(b)-1 {
		return "", ErrUnterminated
	}
	return string(b[:len(b)-1]), nil
}
