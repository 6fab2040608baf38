package script

import "strings"

// Migration records a legacy type rename applied while decoding.
type Migration struct {
	Path string `json:"path"`
	From string `json:"from"`
	To   string `json:"to"`
}

var renames = map[string]string{
	"Flow.ifElse":   "Flow.if",
	"Flow.repeat":   "Flow.while",
	"Value.getJson": "Value.parseJson",
}

var prefixRenames = [][2]string{
	{"Dom.", "DOM."},
}

// Migrate maps a legacy type name to its current name.
// Names that need no migration are returned unchanged.
func Migrate(typ string) string {
	if to, ok := renames[typ]; ok {
		return to
	}
	for _, r := range prefixRenames {
		if strings.HasPrefix(typ, r[0]) {
			return r[1] + strings.TrimPrefix(typ, r[0])
		}
	}
	return typ
}
