package processors

import (
	"sort"
	"strings"
)

// The analyzers emit modality-specific kind vocabularies; fusion reconciles
// them here. Aliases map analyzer spellings onto the shared vocabulary,
// kindRank fixes the precedence order, and the high ranks (Scene and below)
// are ambient kinds that never conflict with a substantive one.
var kindAliases = map[string]string{
	"goal":         "Goal",
	"score":        "Goal",
	"scores":       "Goal",
	"penalty":      "Penalty",
	"save":         "Save",
	"block":        "Save",
	"attack":       "Attack",
	"shot":         "Attack",
	"near miss":    "Attack",
	"corner kick":  "Corner Kick",
	"corner":       "Corner Kick",
	"free kick":    "Free Kick",
	"throw-in":     "Throw-in",
	"tackle":       "Tackle",
	"pass":         "Pass",
	"scene":        "Scene",
	"scene change": "Scene",
	"commentary":   "Commentary",
	"dialogue":     "Dialogue",
	"speech":       "Dialogue",
}

var kindRank = map[string]int{
	"Goal":        0,
	"Penalty":     1,
	"Save":        2,
	"Attack":      3,
	"Corner Kick": 4,
	"Free Kick":   5,
	"Throw-in":    6,
	"Tackle":      7,
	"Pass":        8,
	"Scene":       20,
	"Commentary":  21,
	"Dialogue":    22,
}

const ambientRank = 20

// CanonicalKind maps an analyzer-specific kind onto the shared vocabulary;
// unknown kinds pass through trimmed.
func CanonicalKind(k string) string {
	k = strings.TrimSpace(k)
	if k == "" {
		return ""
	}
	if c, ok := kindAliases[strings.ToLower(k)]; ok {
		return c
	}
	return k
}

func rankOf(k string) int {
	if r, ok := kindRank[k]; ok {
		return r
	}
	// Unknown kinds are substantive and sort after the known domain kinds
	// but before the ambient ones.
	return ambientRank - 1
}

// ResolveKind picks the fused event's kind. Substantive kinds win over
// ambient ones (dialogue under a visual Goal is corroboration, not a
// conflict). Genuinely conflicting substantive kinds are all retained as a
// compound string in precedence order — never silently dropped.
func ResolveKind(kinds []string) string {
	seen := map[string]bool{}
	var substantive, ambient []string
	for _, k := range kinds {
		c := CanonicalKind(k)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		if rankOf(c) >= ambientRank {
			ambient = append(ambient, c)
		} else {
			substantive = append(substantive, c)
		}
	}

	pick := substantive
	if len(pick) == 0 {
		pick = ambient
	}
	sort.SliceStable(pick, func(i, j int) bool {
		ri, rj := rankOf(pick[i]), rankOf(pick[j])
		if ri != rj {
			return ri < rj
		}
		return pick[i] < pick[j]
	})
	return strings.Join(pick, "/")
}
