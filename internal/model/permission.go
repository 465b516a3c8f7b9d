package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionExamsRead allows viewing submissions and the live monitor of an exam.
	PermissionExamsRead Permission = "exams:read"

	// PermissionExamsRegrade allows regrading submissions and refreshing a cached answer key.
	PermissionExamsRegrade Permission = "exams:regrade"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionExamsRead,
	PermissionExamsRegrade,
}
