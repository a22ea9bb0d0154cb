package judge

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"aibeasts/server/llm"
)

const RefereeSystem = `You are an impartial AI referee judging a logic battle between two beasts. First, provide a 2-3 sentence explanation of which beast performed best. Then, on a new line, output exactly:
{"winner": "<winner beast name>"}
with no additional text.`

// RefereeUser renders the battle log for the referee.
func RefereeUser(log []string) string {
	return "Battle log:\n\n" + strings.Join(log, "\n") + "\n\nExplain your reasoning and then output the JSON object as described."
}

// ErrNoVerdict means the referee output carried no readable winner field.
var ErrNoVerdict = errors.New("no winner in referee output")

// Verdict is the referee's decision as parsed from its free-text reply.
type Verdict struct {
	Winner      string `json:"winner"`
	Explanation string `json:"explanation"`
	Raw         string `json:"-"`
}

// Side identifies which fighter a verdict names.
type Side int

const (
	SideNone Side = iota
	SideA
	SideB
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	}
	return "none"
}

var (
	trailingPunct = regexp.MustCompile(`[^a-zA-Z0-9 ]+$`)
	winnerKV      = regexp.MustCompile(`(?i)^\W*winner\W*\s*[:=]\s*(.+)$`)
)

// ParseVerdict extracts the winner from referee output. It tries, in order:
// a line that is a JSON object, any embedded JSON object, then a
// "winner: <name>" line. Prose is never guessed from.
func ParseVerdict(raw string) (Verdict, error) {
	raw = strings.TrimSpace(raw)
	v := Verdict{Raw: raw}
	lines := strings.Split(raw, "\n")

	jsonLine := -1
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			if w, ok := winnerFromJSON(line); ok {
				v.Winner = w
				jsonLine = i
				break
			}
		}
	}
	if v.Winner == "" {
		if obj := llm.ExtractJSONObject(raw); obj != "" {
			if w, ok := winnerFromJSON(obj); ok {
				v.Winner = w
				v.Explanation = strings.TrimSpace(strings.Replace(raw, obj, "", 1))
			}
		}
	}
	if v.Winner == "" {
		for i, line := range lines {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "{") {
				continue
			}
			if m := winnerKV.FindStringSubmatch(line); m != nil {
				if w := cleanName(m[1]); w != "" {
					v.Winner = w
					jsonLine = i
					break
				}
			}
		}
	}
	if v.Winner == "" {
		return v, ErrNoVerdict
	}
	if v.Explanation == "" {
		var kept []string
		for i, line := range lines {
			if i != jsonLine {
				kept = append(kept, line)
			}
		}
		v.Explanation = strings.TrimSpace(strings.Join(kept, "\n"))
	}
	v.Explanation = strings.TrimSpace(strings.Trim(v.Explanation, "`"))
	return v, nil
}

func winnerFromJSON(s string) (string, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return "", false
	}
	for k, val := range m {
		if !strings.EqualFold(k, "winner") {
			continue
		}
		str, ok := val.(string)
		if !ok {
			return "", false
		}
		w := cleanName(str)
		return w, w != ""
	}
	return "", false
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'*`+"`")
	s = trailingPunct.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Resolve maps the verdict's winner name to a side. Names are compared
// case-insensitively after trimming; identical fighter names are ambiguous
// and resolve to SideNone.
func Resolve(v Verdict, nameA, nameB string) (Side, bool) {
	w := strings.ToLower(cleanName(v.Winner))
	a := strings.ToLower(cleanName(nameA))
	b := strings.ToLower(cleanName(nameB))
	if w == "" || a == b {
		return SideNone, false
	}
	switch w {
	case a:
		return SideA, true
	case b:
		return SideB, true
	}
	return SideNone, false
}
