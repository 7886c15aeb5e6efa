package aggregate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/box/respsniff/protocol/model"
)

var aggregatorRegex = regexp.MustCompile(`^([a-z0-9]+)\(([a-z]+)\)$`)

func fieldIDFromDescriptor(desc string) (model.EventFieldMask, error) {
	switch desc {
	case "source", "dir":
		return model.FieldSource, nil
	case "type":
		return model.FieldType, nil
	case "cmd", "command":
		return model.FieldCommand, nil
	case "key":
		return model.FieldKey, nil
	case "size":
		return model.FieldSize, nil
	default:
		return 0, BadDescriptorError(desc)
	}
}

// fieldsAsString joins the given fields of e, each terminated by a NUL byte.
func fieldsAsString(e model.Event, ids []model.EventFieldMask) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(fieldAsString(e, id))
		sb.WriteByte(0)
	}
	return sb.String()
}

func fieldsAsStrings(e model.Event, ids []model.EventFieldMask) []string {
	res := make([]string, len(ids))
	for i, id := range ids {
		res[i] = fieldAsString(e, id)
	}
	return res
}

func fieldAsString(e model.Event, id model.EventFieldMask) string {
	switch id {
	case model.FieldSource:
		return e.Direction.String()
	case model.FieldType:
		return e.Type.String()
	case model.FieldCommand:
		return e.Command
	case model.FieldKey:
		return e.Key
	case model.FieldSize:
		return strconv.Itoa(e.Size)
	default:
		panic("bad fieldId")
	}
}

func fieldAsInt64(e model.Event, id model.EventFieldMask) int64 {
	switch id {
	case model.FieldSize:
		return int64(e.Size)
	default:
		panic("bad fieldId")
	}
}
