package booking

// Ownership describes the caller's relationship to an appointment.
type Ownership struct {
	IsPatient bool // caller is the booking patient
	IsDoctor  bool // caller is the owning doctor
}

type transition struct {
	from AppointmentStatus
	to   AppointmentStatus
}

// allowedTransitions is the status machine plus who may drive each edge.
// Admins may additionally cancel and mark missed regardless of ownership.
var allowedTransitions = map[transition]func(role Role, owns Ownership) bool{
	{StatusPending, StatusConfirmed}: func(role Role, owns Ownership) bool {
		return role == RoleDoctor && owns.IsDoctor
	},
	{StatusPending, StatusCancelled}: func(role Role, owns Ownership) bool {
		return role == RoleAdmin ||
			(role == RoleDoctor && owns.IsDoctor) ||
			(role == RolePatient && owns.IsPatient)
	},
	{StatusConfirmed, StatusCompleted}: func(role Role, owns Ownership) bool {
		return role == RoleDoctor && owns.IsDoctor
	},
	{StatusConfirmed, StatusCancelled}: func(role Role, owns Ownership) bool {
		return role == RoleAdmin ||
			(role == RoleDoctor && owns.IsDoctor) ||
			(role == RolePatient && owns.IsPatient)
	},
	{StatusPending, StatusMissed}: func(role Role, owns Ownership) bool {
		return role == RoleAdmin || (role == RoleDoctor && owns.IsDoctor)
	},
	{StatusConfirmed, StatusMissed}: func(role Role, owns Ownership) bool {
		return role == RoleAdmin || (role == RoleDoctor && owns.IsDoctor)
	},
}

// ValidTransition reports whether the status machine allows from → to at all.
func ValidTransition(from, to AppointmentStatus) bool {
	_, ok := allowedTransitions[transition{from, to}]
	return ok
}

// CanTransition is the single authorization decision point for status
// changes: it answers whether the status machine allows from → to and whether
// this caller may drive that edge.
func CanTransition(role Role, owns Ownership, from, to AppointmentStatus) bool {
	check, ok := allowedTransitions[transition{from, to}]
	if !ok {
		return false
	}
	return check(role, owns)
}
