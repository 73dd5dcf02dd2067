package domain

type RoomID string

// Room is a relay addressing namespace. A consultation room admits one
// doctor and one patient.
type Room struct {
	ID        RoomID
	BookingID BookingID
}

const RoomCapacity = 2
