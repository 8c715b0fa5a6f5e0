package protocol

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// roomCodeAlphabet excludes the ambiguous glyphs 0, 1, I, L, O.
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const roomCodeLength = 6

var roomCodePattern = regexp.MustCompile(`^[A-HJKMNP-Z2-9]{6}$`)

// GenerateRoomCode draws a cryptographically strong 6-character code from
// the ambiguity-free alphabet.
func GenerateRoomCode() (RoomIdType, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	out := make([]byte, roomCodeLength)
	for i, b := range buf {
		out[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return RoomIdType(out), nil
}

// NormalizeRoomCode upper-cases and validates a client-supplied room code.
func NormalizeRoomCode(raw string) (RoomIdType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if !roomCodePattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid room code %q", raw)
	}
	return RoomIdType(normalized), nil
}
