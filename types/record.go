package types

// Record represents one entry of the benchmark dataset.
// It is the named-field (object mode) representation sent to clients.
type Record struct {
	// ID is the unique identifier of the record. IDs form the contiguous
	// range [0, N) in generation order.
	ID int `json:"id" msgpack:"id"`

	// Name is the display name derived from the ID.
	Name string `json:"name" msgpack:"name"`

	// Email is the email address derived from the ID.
	Email string `json:"email" msgpack:"email"`

	// Bio is a fixed template text containing the ID.
	Bio string `json:"bio" msgpack:"bio"`

	// Active is true for records with an even ID.
	Active bool `json:"active" msgpack:"active"`

	// Roles is the ordered list of role tags. It is identical
	// across all records.
	Roles []string `json:"roles" msgpack:"roles"`

	// Metadata holds the nested login and preference information.
	Metadata Metadata `json:"metadata" msgpack:"metadata"`
}

// Metadata is the nested sub-structure of a Record.
type Metadata struct {
	// LastLogin is an RFC 3339 timestamp string.
	LastLogin string `json:"lastLogin" msgpack:"lastLogin"`

	// Preferences holds the user interface preferences.
	Preferences Preferences `json:"preferences" msgpack:"preferences"`
}

// Preferences is the innermost sub-structure of a Record.
type Preferences struct {
	// Theme is the UI theme name (e.g., "dark").
	Theme string `json:"theme" msgpack:"theme"`

	// Notifications indicates whether notifications are enabled.
	Notifications bool `json:"notifications" msgpack:"notifications"`
}

// Equal reports whether r and other hold identical field values,
// including the nested metadata.
func (r Record) Equal(other Record) bool {
	if r.ID != other.ID ||
		r.Name != other.Name ||
		r.Email != other.Email ||
		r.Bio != other.Bio ||
		r.Active != other.Active ||
		r.Metadata != other.Metadata {
		return false
	}
	if len(r.Roles) != len(other.Roles) {
		return false
	}
	for i := range r.Roles {
		if r.Roles[i] != other.Roles[i] {
			return false
		}
	}
	return true
}
