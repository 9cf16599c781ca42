package models

// EmailEntry is one element of a submitted recipient list; ID is nil for new addresses
type EmailEntry struct {
	ID    *uint  `json:"id,omitempty"`
	Email string `json:"email"`
}

// EmailPlan is the set of writes that turns the stored recipient list into the submitted one
type EmailPlan struct {
	Deletes []uint
	Updates []NotificationEmail
	Creates []string
}

// Empty reports whether applying the plan would change nothing
func (p EmailPlan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Updates) == 0 && len(p.Creates) == 0
}
