package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionAttemptsRead allows exporting the persisted attempts of an exam.
	PermissionAttemptsRead Permission = "attempts:read"

	// PermissionExamsCache allows refreshing the cached definition of an exam.
	PermissionExamsCache Permission = "exams:cache"
)
