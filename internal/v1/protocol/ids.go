// Package protocol defines the wire envelope, command/event schemas, and
// room-code generation shared by the room and lobby actors.
package protocol

// PlayerIdType is the stable subject identifier extracted from a bearer token.
type PlayerIdType string

// RoomIdType is a normalised 6-character room code.
type RoomIdType string

// DisplayNameType is the human-readable name shown in the UI.
type DisplayNameType string

// AvatarSeedType seeds the client-side avatar generator.
type AvatarSeedType string

// RoleType is the connection's role within a room.
type RoleType string

const (
	RoleTypeHost       RoleType = "host"
	RoleTypePlayer     RoleType = "player"
	RoleTypeSpectator  RoleType = "spectator"
)

// CategoryType is one of the 13 scorecard categories.
type CategoryType string

const (
	CategoryOnes          CategoryType = "ones"
	CategoryTwos          CategoryType = "twos"
	CategoryThrees        CategoryType = "threes"
	CategoryFours         CategoryType = "fours"
	CategoryFives         CategoryType = "fives"
	CategorySixes         CategoryType = "sixes"
	CategoryThreeOfAKind  CategoryType = "threeOfAKind"
	CategoryFourOfAKind   CategoryType = "fourOfAKind"
	CategoryFullHouse     CategoryType = "fullHouse"
	CategorySmallStraight CategoryType = "smallStraight"
	CategoryLargeStraight CategoryType = "largeStraight"
	CategoryDicee         CategoryType = "dicee"
	CategoryChance        CategoryType = "chance"
)

// Categories lists every category in canonical enumeration order. This order
// is the tie-break used by the AFK auto-score.
var Categories = []CategoryType{
	CategoryOnes, CategoryTwos, CategoryThrees, CategoryFours, CategoryFives, CategorySixes,
	CategoryThreeOfAKind, CategoryFourOfAKind, CategoryFullHouse,
	CategorySmallStraight, CategoryLargeStraight, CategoryDicee, CategoryChance,
}
