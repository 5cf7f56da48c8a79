package entities

import "fmt"

// Profile is the read-only display projection of a user.
// It is owned by the identity/profile subsystem.
type Profile struct {
	ID        string
	Username  string
	AvatarURL string
}

// Validate checks that a joined profile carries every display field.
// Absent or malformed joins must not silently default display fields.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("profile is missing")
	}
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.Username == "" {
		return fmt.Errorf("profile %s has no username", p.ID)
	}
	return nil
}
