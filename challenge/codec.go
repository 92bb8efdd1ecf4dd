package challenge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/delivery"
)

// Record layout, v1 (big-endian). The fixed-offset prefix is what the Lua
// attempt script reads:
//
//	version(1) remaining(2) expiresAtMs(8) codeHash(32) issuedAtMs(8)
//	purposeLen(1) purpose roleLen(1) role channelLen(1) channel
const (
	recordVersionV1 = 1
	recordFixedSize = 1 + 2 + 8 + 32 + 8
)

func encodeRecord(c Challenge) ([]byte, error) {
	if c.Remaining < 0 || c.Remaining > 0xFFFF {
		return nil, errors.New("challenge remaining attempts out of range")
	}
	if len(c.Purpose) > 255 || len(c.Role) > 255 || len(c.Channel) > 255 {
		return nil, errors.New("challenge field too long")
	}

	var buf bytes.Buffer
	buf.Grow(recordFixedSize + 3 + len(c.Purpose) + len(c.Role) + len(c.Channel))

	buf.WriteByte(recordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, uint16(c.Remaining)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, c.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	buf.Write(c.CodeHash[:])
	if err := binary.Write(&buf, binary.BigEndian, c.IssuedAt.UnixMilli()); err != nil {
		return nil, err
	}

	writeShort(&buf, string(c.Purpose))
	writeShort(&buf, string(c.Role))
	writeShort(&buf, string(c.Channel))

	return buf.Bytes(), nil
}

func decodeRecord(identifier string, data []byte) (Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Challenge{}, err
	}
	if version != recordVersionV1 {
		return Challenge{}, errors.New("invalid challenge record version")
	}

	c := Challenge{Identifier: identifier}

	var remaining uint16
	if err := binary.Read(reader, binary.BigEndian, &remaining); err != nil {
		return Challenge{}, err
	}
	c.Remaining = int(remaining)

	var expiresAt, issuedAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return Challenge{}, err
	}
	if _, err := io.ReadFull(reader, c.CodeHash[:]); err != nil {
		return Challenge{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &issuedAt); err != nil {
		return Challenge{}, err
	}
	c.ExpiresAt = time.UnixMilli(expiresAt)
	c.IssuedAt = time.UnixMilli(issuedAt)

	purpose, err := readShort(reader)
	if err != nil {
		return Challenge{}, err
	}
	role, err := readShort(reader)
	if err != nil {
		return Challenge{}, err
	}
	channel, err := readShort(reader)
	if err != nil {
		return Challenge{}, err
	}
	c.Purpose = Purpose(purpose)
	c.Role = authz.Role(role)
	c.Channel = delivery.Channel(channel)

	return c, nil
}

func writeShort(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

func readShort(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
