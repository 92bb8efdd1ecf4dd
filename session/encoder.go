package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const sessionFormatVersionCurrent = 1

// Encode serializes s into the compact binary record used by RedisStore:
//
//	version(1) userLen(1) userID createdAtMs(8) lastActivityMs(8) idleMs(8)
func Encode(s Session) ([]byte, error) {
	if len(s.UserID) == 0 {
		return nil, errors.New("userID is empty")
	}
	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}

	var buf bytes.Buffer
	buf.Grow(2 + len(s.UserID) + 24)

	buf.WriteByte(sessionFormatVersionCurrent)
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	for _, v := range []int64{
		s.CreatedAt.UnixMilli(),
		s.LastActivity.UnixMilli(),
		s.IdleTimeout.Milliseconds(),
	} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a record written by Encode.
func Decode(data []byte) (Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Session{}, err
	}
	if version != sessionFormatVersionCurrent {
		return Session{}, errors.New("invalid session version")
	}

	userLen, err := reader.ReadByte()
	if err != nil {
		return Session{}, err
	}
	if userLen == 0 {
		return Session{}, errors.New("session record has empty userID")
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return Session{}, err
	}

	var createdAt, lastActivity, idle int64
	for _, dst := range []*int64{&createdAt, &lastActivity, &idle} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return Session{}, err
		}
	}
	if reader.Len() != 0 {
		return Session{}, errors.New("trailing bytes in session record")
	}

	return Session{
		UserID:       string(userID),
		CreatedAt:    time.UnixMilli(createdAt),
		LastActivity: time.UnixMilli(lastActivity),
		IdleTimeout:  time.Duration(idle) * time.Millisecond,
	}, nil
}
