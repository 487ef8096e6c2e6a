package participant

// Role of a participant within a room.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Participant binds a user to a room and tracks the read cursor used for
// backfill on join.
type Participant struct {
	RoomID     string
	UserID     string
	LastReadID int64
	Role       Role
}
