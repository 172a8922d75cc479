package identity

import "strings"

// MapRoles derives the user type from a set of role names.
//
// Matching is case-insensitive and ordered: admin wins over character,
// and anything else is a real user.
func MapRoles(roles []string) UserType {
	var character bool
	for _, r := range roles {
		switch strings.ToLower(strings.TrimSpace(r)) {
		case "admin":
			return UserTypeAdmin
		case "character":
			character = true
		}
	}
	if character {
		return UserTypeCharacter
	}
	return UserTypeRealUser
}

// SplitDisplayName splits a display name on the first space into first
// and last name. Surrounding whitespace is ignored and runs of spaces
// between the remaining tokens collapse to one.
func SplitDisplayName(displayName string) (first, last string) {
	fields := strings.Fields(displayName)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
