package models

type Role string

const (
	RoleLeader   Role = "leader"
	RoleMusician Role = "musician"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleLeader, RoleMusician, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) Validate(op string) error {
	if a.ID == "" {
		return Validation(op, "actor id is required")
	}
	if !a.Role.Valid() {
		return Validation(op, "unknown actor role %q", a.Role)
	}
	return nil
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Owns reports whether the actor is the leader who created the request.
func (a Actor) Owns(r *Request) bool {
	return a.Role == RoleLeader && r != nil && r.LeaderID == a.ID
}
