package domain

// Member represents participant's presence meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	Participant *Participant
	BookingID   BookingID
	// Identity is a non-secret digest of the caller's credentials. Two
	// connections with the same identity are the same caller.
	Identity string
}

func NewMember(p *Participant, booking BookingID) *Member {
	return &Member{Participant: p, BookingID: booking}
}
