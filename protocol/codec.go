package protocol

// EncodeClient 把 m 编码成一个完整帧写入 dst，返回写入字节数。
// dst 放不下整帧时返回 0 且不写入；字段非法时返回 *FrameError。
func EncodeClient(dst []byte, m ClientMessage) (int, error) { return encode(dst, m) }

func EncodeServer(dst []byte, m ServerMessage) (int, error) { return encode(dst, m) }

func encode(dst []byte, m message) (int, error) {
	total := HeaderSize + m.size()
	if err := m.check(); err != nil {
		return 0, &FrameError{ID: m.MessageID(), Length: total, Err: err}
	}
	if total > MaxMessageSize {
		return 0, &FrameError{ID: m.MessageID(), Length: total, Err: ErrFrameTooLarge}
	}
	if len(dst) < total {
		return 0, nil
	}
	PutHeader(dst, Header{Length: uint16(total), ID: m.MessageID()})
	m.put(dst[HeaderSize:total])
	return total, nil
}

// AppendClient 与 AppendServer 把帧追加到 dst 末尾。
func AppendClient(dst []byte, m ClientMessage) ([]byte, error) { return appendFrame(dst, m) }

func AppendServer(dst []byte, m ServerMessage) ([]byte, error) { return appendFrame(dst, m) }

func appendFrame(dst []byte, m message) ([]byte, error) {
	var buf [MaxMessageSize]byte
	n, err := encode(buf[:], m)
	if err != nil {
		return dst, err
	}
	return append(dst, buf[:n]...), nil
}

// DecodeClient 从 b 开头解码一个客户端帧。
// 数据不足一个完整帧时返回 (nil, 0, nil)；结构非法时返回 *FrameError；
// 成功时返回消息及帧长度。服务端消息 id 在这里视为未知。
func DecodeClient(b []byte) (ClientMessage, int, error) {
	h, body, ok, err := frame(b)
	if !ok {
		return nil, 0, err
	}
	var m ClientMessage
	switch h.ID {
	case IDCreateLobby:
		var pw string
		pw, err = readString(body, MaxPasswordSize)
		m = CreateLobby{Password: pw}
	case IDJoinLobby:
		if len(body) < 4 {
			err = ErrLength
			break
		}
		var pw string
		pw, err = readString(body[4:], MaxPasswordSize)
		m = JoinLobby{ID: readI32(body), Password: pw}
	case IDClientUpdate:
		if len(body) != 8 {
			err = ErrLength
			break
		}
		m = ClientUpdate{Velocity: readVec2(body)}
	case IDClientStateUpdate:
		if len(body) != 4 {
			err = ErrLength
			break
		}
		s := ClientState(readI32(body))
		err = checkClientState(s)
		m = ClientStateUpdate{State: s}
	default:
		err = ErrUnknownMessage
	}
	if err != nil {
		return nil, 0, &FrameError{ID: h.ID, Length: int(h.Length), Err: err}
	}
	return m, int(h.Length), nil
}

// DecodeServer 是 DecodeClient 的服务端消息版本。
func DecodeServer(b []byte) (ServerMessage, int, error) {
	h, body, ok, err := frame(b)
	if !ok {
		return nil, 0, err
	}
	var m ServerMessage
	switch h.ID {
	case IDLobbyCreated:
		if len(body) != 4 {
			err = ErrLength
			break
		}
		m = LobbyCreated{ID: readI32(body)}
	case IDLobbyJoined:
		var ip string
		ip, err = readString(body, MaxIPSize)
		m = LobbyJoined{IP: ip}
	case IDServerUpdate:
		if len(body) != 24 {
			err = ErrLength
			break
		}
		m = ServerUpdate{Player: readVec2(body[0:]), Opponent: readVec2(body[8:]), Ball: readVec2(body[16:])}
	case IDGameStateUpdate:
		if len(body) != 4 {
			err = ErrLength
			break
		}
		s := GameState(readI32(body))
		err = checkGameState(s)
		m = GameStateUpdate{State: s}
	case IDError:
		if len(body) != 4 {
			err = ErrLength
			break
		}
		c := ErrorCode(readI32(body))
		err = checkErrorCode(c)
		m = Error{Code: c}
	default:
		err = ErrUnknownMessage
	}
	if err != nil {
		return nil, 0, &FrameError{ID: h.ID, Length: int(h.Length), Err: err}
	}
	return m, int(h.Length), nil
}

// ParseClient 从 buf 解析尽可能多的完整帧并依次回调，返回已消费字节数。
// 结果与数据如何分块到达无关：未完整的尾部帧留给下一次调用。
func ParseClient(buf []byte, onMessage func(m ClientMessage) error) (consumed int, _ error) {
	return parse(buf, DecodeClient, onMessage)
}

func ParseServer(buf []byte, onMessage func(m ServerMessage) error) (consumed int, _ error) {
	return parse(buf, DecodeServer, onMessage)
}

func parse[M any](buf []byte, decode func([]byte) (M, int, error), onMessage func(M) error) (int, error) {
	i := 0
	for {
		m, n, err := decode(buf[i:])
		if err != nil {
			return i, err
		}
		if n == 0 {
			return i, nil
		}
		if err := onMessage(m); err != nil {
			return i, err
		}
		i += n
	}
}
