package codec

import (
	"fmt"
	"sort"
)

// encoderIDs are the codecs an encoder component exists for.
var encoderIDs = []ID{IDAVC, IDHEVC, IDVP8, IDVP9}

// Names returns the names of all the components that can be instantiated.
func Names() []Name {
	var names []Name
	for _, id := range AllIDs {
		names = append(names, NewName(KindDecoder, id))
	}
	for _, id := range encoderIDs {
		names = append(names, NewName(KindEncoder, id))
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i] < names[j]
	})
	return names
}

// NewVariant returns the variant of the named component.
func NewVariant(name Name) (Variant, error) {
	kind, id, err := name.Parse()
	if err != nil {
		return nil, fmt.Errorf("unable to parse component name '%s': %w", name, err)
	}
	switch kind {
	case KindDecoder:
		return NewDecoder(id), nil
	case KindEncoder:
		for _, candidate := range encoderIDs {
			if candidate == id {
				return NewEncoder(id), nil
			}
		}
		return nil, fmt.Errorf("there is no encoder for '%s'", id)
	}
	return nil, fmt.Errorf("unexpected kind %s", kind)
}
