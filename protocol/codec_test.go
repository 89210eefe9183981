package protocol_test

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/pong/protocol"
)

var (
	maxPassword = strings.Repeat("p", protocol.MaxPasswordSize-1)
	maxIP       = strings.Repeat("f", protocol.MaxIPSize-1)
)

func clientMessages() []protocol.ClientMessage {
	return []protocol.ClientMessage{
		protocol.CreateLobby{Password: "secret"},
		protocol.CreateLobby{Password: ""},
		protocol.CreateLobby{Password: maxPassword},
		protocol.JoinLobby{ID: 0, Password: "secret"},
		protocol.JoinLobby{ID: -7, Password: maxPassword},
		protocol.ClientUpdate{Velocity: protocol.Vec2{X: -0.0009, Y: 0}},
		protocol.ClientStateUpdate{State: protocol.Restart},
	}
}

func serverMessages() []protocol.ServerMessage {
	return []protocol.ServerMessage{
		protocol.LobbyCreated{ID: 15},
		protocol.LobbyJoined{IP: "127.0.0.1"},
		protocol.LobbyJoined{IP: "2001:db8::1"},
		protocol.LobbyJoined{IP: maxIP},
		protocol.ServerUpdate{
			Player:   protocol.Vec2{X: -0.0625, Y: -1},
			Opponent: protocol.Vec2{X: -0.0625, Y: 0.95},
			Ball:     protocol.Vec2{X: 0.00045, Y: -0.25},
		},
		protocol.GameStateUpdate{State: protocol.GameRunning},
		protocol.GameStateUpdate{State: protocol.GameWon},
		protocol.Error{Code: protocol.OpponentDisconnected},
		protocol.Error{Code: protocol.InternalError},
	}
}

func TestClientRoundTrip(t *testing.T) {
	for _, m := range clientMessages() {
		t.Run(m.MessageID().String(), func(t *testing.T) {
			buf := make([]byte, protocol.MaxMessageSize)
			n, err := protocol.EncodeClient(buf, m)
			require.NoError(t, err)
			require.Greater(t, n, protocol.HeaderSize)

			h, ok := protocol.ReadHeader(buf)
			require.True(t, ok)
			assert.Equal(t, n, int(h.Length), "length includes header")
			assert.Equal(t, m.MessageID(), h.ID)

			got, read, err := protocol.DecodeClient(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, n, read)
			assert.Equal(t, m, got)
		})
	}
}

func TestServerRoundTrip(t *testing.T) {
	for _, m := range serverMessages() {
		t.Run(m.MessageID().String(), func(t *testing.T) {
			buf := make([]byte, protocol.MaxMessageSize)
			n, err := protocol.EncodeServer(buf, m)
			require.NoError(t, err)

			got, read, err := protocol.DecodeServer(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, n, read)
			assert.Equal(t, m, got)
		})
	}
}

func TestDecodeTruncatedNeedsMoreData(t *testing.T) {
	for _, m := range serverMessages() {
		frame, err := protocol.AppendServer(nil, m)
		require.NoError(t, err)
		for cut := 0; cut < len(frame); cut++ {
			got, n, err := protocol.DecodeServer(frame[:cut])
			require.NoError(t, err, "%s cut at %d", m.MessageID(), cut)
			assert.Zero(t, n)
			assert.Nil(t, got)
		}
	}
	for _, m := range clientMessages() {
		frame, err := protocol.AppendClient(nil, m)
		require.NoError(t, err)
		for cut := 0; cut < len(frame); cut++ {
			_, n, err := protocol.DecodeClient(frame[:cut])
			require.NoError(t, err, "%s cut at %d", m.MessageID(), cut)
			assert.Zero(t, n)
		}
	}
}

func TestEncodeNoRoom(t *testing.T) {
	m := protocol.JoinLobby{ID: 1, Password: "secret"}
	full, err := protocol.AppendClient(nil, m)
	require.NoError(t, err)

	dst := make([]byte, len(full)-1)
	n, err := protocol.EncodeClient(dst, m)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, make([]byte, len(dst)), dst, "nothing is written")
}

func TestEncodeInvalidFields(t *testing.T) {
	buf := make([]byte, protocol.MaxMessageSize)
	tests := []struct {
		name string
		enc  func() (int, error)
		want error
	}{
		{"password too long", func() (int, error) {
			return protocol.EncodeClient(buf, protocol.CreateLobby{Password: maxPassword + "x"})
		}, protocol.ErrFieldTooLong},
		{"password with NUL", func() (int, error) {
			return protocol.EncodeClient(buf, protocol.JoinLobby{Password: "a\x00b"})
		}, protocol.ErrUnterminated},
		{"ip too long", func() (int, error) {
			return protocol.EncodeServer(buf, protocol.LobbyJoined{IP: maxIP + "x"})
		}, protocol.ErrFieldTooLong},
		{"unknown client state", func() (int, error) {
			return protocol.EncodeClient(buf, protocol.ClientStateUpdate{State: 3})
		}, protocol.ErrInvalidField},
		{"unknown error code", func() (int, error) {
			return protocol.EncodeServer(buf, protocol.Error{Code: 42})
		}, protocol.ErrInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tt.enc()
			assert.Zero(t, n)
			assert.ErrorIs(t, err, tt.want)
			var fe *protocol.FrameError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

// rawFrame 构造任意头部与负载，用于测试非法帧。
func rawFrame(length int, id protocol.MessageID, payload []byte) []byte {
	b := make([]byte, protocol.HeaderSize+len(payload))
	binary.NativeEndian.PutUint16(b[0:2], uint16(length))
	binary.NativeEndian.PutUint16(b[2:4], uint16(id))
	copy(b[protocol.HeaderSize:], payload)
	return b
}

func TestDecodeViolations(t *testing.T) {
	longPw := append([]byte(maxPassword+"x"), 0)
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"unknown id", rawFrame(8, 0x42, make([]byte, 4)), protocol.ErrUnknownMessage},
		{"server id on client side", rawFrame(8, protocol.IDLobbyCreated, make([]byte, 4)), protocol.ErrUnknownMessage},
		{"length below header", rawFrame(2, protocol.IDCreateLobby, nil), protocol.ErrLength},
		{"length above max", rawFrame(protocol.MaxMessageSize+1, protocol.IDCreateLobby, nil), protocol.ErrFrameTooLarge},
		{"empty password", rawFrame(4, protocol.IDCreateLobby, nil), protocol.ErrUnterminated},
		{"unterminated password", rawFrame(7, protocol.IDCreateLobby, []byte("abc")), protocol.ErrUnterminated},
		{"embedded NUL", rawFrame(8, protocol.IDCreateLobby, []byte("a\x00b\x00")), protocol.ErrUnterminated},
		{"password too long", rawFrame(4+len(longPw), protocol.IDCreateLobby, longPw), protocol.ErrFieldTooLong},
		{"join without id", rawFrame(6, protocol.IDJoinLobby, []byte{1, 0}), protocol.ErrLength},
		{"short velocity", rawFrame(8, protocol.IDClientUpdate, make([]byte, 4)), protocol.ErrLength},
		{"unknown state", rawFrame(8, protocol.IDClientStateUpdate, []byte{9, 0, 0, 0}), protocol.ErrInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, n, err := protocol.DecodeClient(tt.frame)
			assert.Nil(t, m)
			assert.Zero(t, n)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeServerViolations(t *testing.T) {
	_, _, err := protocol.DecodeServer(rawFrame(8, protocol.IDCreateLobby, []byte("abc\x00")))
	assert.ErrorIs(t, err, protocol.ErrUnknownMessage)

	_, _, err = protocol.DecodeServer(rawFrame(12, protocol.IDServerUpdate, make([]byte, 8)))
	assert.ErrorIs(t, err, protocol.ErrLength)

	_, _, err = protocol.DecodeServer(rawFrame(8, protocol.IDError, []byte{0xff, 0, 0, 0}))
	assert.ErrorIs(t, err, protocol.ErrInvalidField)
}

func TestParseChunkingIndependent(t *testing.T) {
	var stream []byte
	want := serverMessages()
	for _, m := range want {
		var err error
		stream, err = protocol.AppendServer(stream, m)
		require.NoError(t, err)
	}

	for _, chunk := range []int{1, 2, 3, 5, 7, 64, len(stream)} {
		var (
			got []protocol.ServerMessage
			buf []byte
		)
		for off := 0; off < len(stream); off += chunk {
			end := min(off+chunk, len(stream))
			buf = append(buf, stream[off:end]...)
			n, err := protocol.ParseServer(buf, func(m protocol.ServerMessage) error {
				got = append(got, m)
				return nil
			})
			require.NoError(t, err)
			buf = buf[n:]
		}
		assert.Empty(t, buf, "chunk=%d", chunk)
		assert.Equal(t, want, got, "chunk=%d", chunk)
	}
}

func TestParseStopsAtViolation(t *testing.T) {
	buf, err := protocol.AppendClient(nil, protocol.CreateLobby{Password: "a"})
	require.NoError(t, err)
	first := len(buf)
	buf = append(buf, rawFrame(8, 0x7f, make([]byte, 4))...)

	var seen int
	n, err := protocol.ParseClient(buf, func(protocol.ClientMessage) error {
		seen++
		return nil
	})
	assert.Equal(t, 1, seen)
	assert.Equal(t, first, n)
	assert.ErrorIs(t, err, protocol.ErrUnknownMessage)
}
