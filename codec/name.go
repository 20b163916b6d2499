package codec

import (
	"fmt"
	"strings"
)

// NamePrefix is the prefix of every component name.
const NamePrefix = "avcomponent."

// Name is a component name, e.g. "avcomponent.video_decoder.avc".
type Name string

func NewName(kind Kind, id ID) Name {
	return Name(NamePrefix + kind.RolePrefix() + "." + string(id))
}

// Role returns the standard component role, e.g. "video_decoder.avc".
func (n Name) Role() string {
	return strings.TrimPrefix(string(n), NamePrefix)
}

// Parse splits the name into the kind and the codec.
func (n Name) Parse() (Kind, ID, error) {
	role, ok := strings.CutPrefix(string(n), NamePrefix)
	if !ok {
		return UndefinedKind, IDUndefined, fmt.Errorf("'%s' does not start with '%s'", n, NamePrefix)
	}
	return ParseRole(role)
}

// ParseRole parses a standard component role.
func ParseRole(role string) (Kind, ID, error) {
	kindStr, idStr, ok := strings.Cut(role, ".")
	if !ok {
		return UndefinedKind, IDUndefined, fmt.Errorf("invalid role '%s'", role)
	}
	var kind Kind
	switch kindStr {
	case KindDecoder.RolePrefix():
		kind = KindDecoder
	case KindEncoder.RolePrefix():
		kind = KindEncoder
	default:
		return UndefinedKind, IDUndefined, fmt.Errorf("invalid role kind '%s'", kindStr)
	}
	id, err := ParseID(idStr)
	if err != nil {
		return UndefinedKind, IDUndefined, err
	}
	return kind, id, nil
}
