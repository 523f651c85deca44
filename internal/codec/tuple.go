package codec

import (
	"fmt"
	"math"

	"github.com/payloadbench/apiserver/types"
)

// Tuple is the positional, name-stripped form of a Record:
//
//	[id, name, email, bio, active, roles, [lastLogin, [theme, notifications]]]
//
// ToTuple and FromTuple share the slot constants below; they are the only
// place the layout is defined.
type Tuple []any

// Record slots.
const (
	SlotID = iota
	SlotName
	SlotEmail
	SlotBio
	SlotActive
	SlotRoles
	SlotMetadata

	TupleLen
)

// Metadata slots.
const (
	SlotLastLogin = iota
	SlotPreferences

	MetadataLen
)

// Preferences slots.
const (
	SlotTheme = iota
	SlotNotifications

	PreferencesLen
)

const (
	pathTuple       = "tuple"
	pathMetadata    = "tuple.metadata"
	pathPreferences = "tuple.metadata.preferences"
)

// ToTuple projects r onto the fixed tuple layout.
func ToTuple(r types.Record) Tuple {
	preferences := make([]any, PreferencesLen)
	preferences[SlotTheme] = r.Metadata.Preferences.Theme
	preferences[SlotNotifications] = r.Metadata.Preferences.Notifications

	metadata := make([]any, MetadataLen)
	metadata[SlotLastLogin] = r.Metadata.LastLogin
	metadata[SlotPreferences] = preferences

	t := make(Tuple, TupleLen)
	t[SlotID] = r.ID
	t[SlotName] = r.Name
	t[SlotEmail] = r.Email
	t[SlotBio] = r.Bio
	t[SlotActive] = r.Active
	t[SlotRoles] = append([]string(nil), r.Roles...)
	t[SlotMetadata] = metadata
	return t
}

// ToTuples projects every record in order.
func ToTuples(records []types.Record) []Tuple {
	out := make([]Tuple, len(records))
	for i, r := range records {
		out[i] = ToTuple(r)
	}
	return out
}

// FromTuple reconstructs a Record from a tuple produced by ToTuple, either
// directly or after a trip through EncodeCollection and Decode.
func FromTuple(v any) (types.Record, error) {
	slots, ok := asSlice(v)
	if !ok {
		return types.Record{}, &DecodeError{Reason: fmt.Sprintf("%s is %T, not a sequence", pathTuple, v)}
	}
	if len(slots) != TupleLen {
		return types.Record{}, &SchemaMismatchError{Path: pathTuple, Want: TupleLen, Got: len(slots)}
	}

	var (
		r   types.Record
		err error
	)
	if r.ID, err = asInt(slots[SlotID], "id"); err != nil {
		return types.Record{}, err
	}
	if r.Name, err = asString(slots[SlotName], "name"); err != nil {
		return types.Record{}, err
	}
	if r.Email, err = asString(slots[SlotEmail], "email"); err != nil {
		return types.Record{}, err
	}
	if r.Bio, err = asString(slots[SlotBio], "bio"); err != nil {
		return types.Record{}, err
	}
	if r.Active, err = asBool(slots[SlotActive], "active"); err != nil {
		return types.Record{}, err
	}
	if r.Roles, err = asStrings(slots[SlotRoles], "roles"); err != nil {
		return types.Record{}, err
	}
	if r.Metadata, err = metadataFromTuple(slots[SlotMetadata]); err != nil {
		return types.Record{}, err
	}
	return r, nil
}

// FromTuples reconstructs every record in order. The first failing tuple
// aborts the whole batch; no partial result is returned.
func FromTuples(items []any) ([]types.Record, error) {
	records := make([]types.Record, len(items))
	for i, item := range items {
		r, err := FromTuple(item)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records[i] = r
	}
	return records, nil
}

func metadataFromTuple(v any) (types.Metadata, error) {
	slots, ok := asSlice(v)
	if !ok {
		return types.Metadata{}, &DecodeError{Reason: fmt.Sprintf("%s is %T, not a sequence", pathMetadata, v)}
	}
	if len(slots) != MetadataLen {
		return types.Metadata{}, &SchemaMismatchError{Path: pathMetadata, Want: MetadataLen, Got: len(slots)}
	}

	lastLogin, err := asString(slots[SlotLastLogin], "metadata.lastLogin")
	if err != nil {
		return types.Metadata{}, err
	}

	prefs, ok := asSlice(slots[SlotPreferences])
	if !ok {
		return types.Metadata{}, &DecodeError{Reason: fmt.Sprintf("%s is %T, not a sequence", pathPreferences, slots[SlotPreferences])}
	}
	if len(prefs) != PreferencesLen {
		return types.Metadata{}, &SchemaMismatchError{Path: pathPreferences, Want: PreferencesLen, Got: len(prefs)}
	}
	theme, err := asString(prefs[SlotTheme], "metadata.preferences.theme")
	if err != nil {
		return types.Metadata{}, err
	}
	notifications, err := asBool(prefs[SlotNotifications], "metadata.preferences.notifications")
	if err != nil {
		return types.Metadata{}, err
	}

	return types.Metadata{
		LastLogin: lastLogin,
		Preferences: types.Preferences{
			Theme:         theme,
			Notifications: notifications,
		},
	}, nil
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case Tuple:
		return s, true
	case []any:
		return s, true
	default:
		return nil, false
	}
}

func asInt(v any, field string) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, slotTypeError(field, "integer out of range", v)
		}
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, slotTypeError(field, "integer out of range", v)
		}
		return int(n), nil
	default:
		return 0, slotTypeError(field, "integer", v)
	}
}

func asString(v any, field string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", slotTypeError(field, "string", v)
	}
	return s, nil
}

func asBool(v any, field string) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, slotTypeError(field, "boolean", v)
	}
	return b, nil
}

func asStrings(v any, field string) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), nil
	case []any:
		out := make([]string, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, slotTypeError(fmt.Sprintf("%s[%d]", field, i), "string", item)
			}
			out[i] = str
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, slotTypeError(field, "sequence of strings", v)
	}
}

func slotTypeError(field, want string, got any) error {
	return &DecodeError{Reason: fmt.Sprintf("slot %s: want %s, got %T", field, want, got)}
}
