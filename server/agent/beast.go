package agent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// TraitKind names one of a beast's trait lists.
type TraitKind string

const (
	Abilities    TraitKind = "abilities"
	Personality  TraitKind = "personality"
	Physic       TraitKind = "physic"
	Conversation TraitKind = "conversation" // classification only, never stored
)

// MaxTraits caps each trait list so prompts stay bounded.
const MaxTraits = 32

type Beast struct {
	ID          string   `json:"id"`
	UserID      *string  `json:"user_id"`
	Name        string   `json:"name"`
	ImageURL    string   `json:"image_url"`
	Abilities   []string `json:"abilities"`
	Personality []string `json:"personality"`
	Physic      []string `json:"physic"`
	Wins        int      `json:"wins"`
	GamesPlayed int      `json:"games_played"`
	Experience  int      `json:"experience"`
	Elo         float64  `json:"elo"`
	AIGenerated bool     `json:"ai_generated"`
}

// ParseTraitKind accepts the storable kinds and tolerates case and the
// "ability"/"physique" spellings models like to use.
func ParseTraitKind(s string) (TraitKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abilities", "ability":
		return Abilities, true
	case "personality":
		return Personality, true
	case "physic", "physique", "physical":
		return Physic, true
	case "conversation":
		return Conversation, true
	}
	return "", false
}

// Storable reports whether k is one of the persisted trait lists.
func (k TraitKind) Storable() bool {
	return k == Abilities || k == Personality || k == Physic
}

// Traits returns the list for kind k.
func (b *Beast) Traits(k TraitKind) []string {
	switch k {
	case Abilities:
		return b.Abilities
	case Personality:
		return b.Personality
	case Physic:
		return b.Physic
	}
	return nil
}

// AddTrait appends trait to list k, skipping blanks and exact duplicates.
func (b *Beast) AddTrait(k TraitKind, trait string) bool {
	trait = strings.TrimSpace(trait)
	if trait == "" || !k.Storable() {
		return false
	}
	list := b.Traits(k)
	for _, t := range list {
		if strings.EqualFold(t, trait) {
			return false
		}
	}
	if len(list) >= MaxTraits {
		return false
	}
	list = append(list, trait)
	switch k {
	case Abilities:
		b.Abilities = list
	case Personality:
		b.Personality = list
	case Physic:
		b.Physic = list
	}
	return true
}

// Validate checks a beast before it is sent into a battle or stored.
func Validate(b Beast) error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("beast name is required")
	}
	if len(b.Name) > 64 {
		return fmt.Errorf("beast name too long (%d > 64)", len(b.Name))
	}
	for _, k := range []TraitKind{Abilities, Personality, Physic} {
		if n := len(b.Traits(k)); n > MaxTraits {
			return fmt.Errorf("too many %s (%d > %d)", k, n, MaxTraits)
		}
	}
	return nil
}

// Details renders the stat block fighters see about themselves.
func Details(b Beast) string {
	return fmt.Sprintf("Name: %s\nPersonality: %s\nAbilities: %s\nPhysic: %s",
		b.Name,
		strings.Join(b.Personality, ", "),
		strings.Join(b.Abilities, ", "),
		strings.Join(b.Physic, ", "),
	)
}

// FighterSystem is the persona prompt for one battle turn.
func FighterSystem(b Beast, final bool) string {
	if final {
		return fmt.Sprintf("You are %s, a beast fighting against another beast with the goal to win. This is your final move. Max 1 sentence, keep it short.", b.Name)
	}
	return fmt.Sprintf("You are %s, a beast fighting against another beast with the goal to win the battle. You do not give up. Max 1 sentence. Keep it short. Use your abilities, personality, and physique effectively.", b.Name)
}

// FighterUser carries the opponent's last line into the next turn.
func FighterUser(b Beast, opponentLast string, final bool) string {
	cue := "Fight back and win the game!"
	if final {
		cue = "Deliver your last blow!"
	}
	return fmt.Sprintf("Opponent said: \"%s\". %s\n\n%s", opponentLast, cue, Details(b))
}

// BasisPrompt is the training persona: the beast talks as itself.
func BasisPrompt(b Beast) string {
	return fmt.Sprintf(`You are named %s, a unique AI beast.
Your physical appearance includes: %s.
Your abilities include: %s.
Your personality traits are: %s.
Always respond as if you are this character, and help guide the user in training and improving you.`,
		b.Name,
		joinOr(b.Physic, "unspecified"),
		joinOr(b.Abilities, "none yet"),
		joinOr(b.Personality, "still developing"),
	)
}

func joinOr(xs []string, def string) string {
	if len(xs) == 0 {
		return def
	}
	return strings.Join(xs, ", ")
}

// StripSpeaker removes the speaker name the model sometimes puts in front of
// its line, with or without a colon. "Fangs bared" is not a name prefix.
func StripSpeaker(name, line string) string {
	line = strings.TrimSpace(line)
	name = strings.TrimSpace(name)
	if name == "" {
		return line
	}
	re := regexp.MustCompile(`(?i)^\s*\**` + regexp.QuoteMeta(name) + `\**(?:\s*:|\s+)`)
	line = re.ReplaceAllString(line, "")
	return strings.Trim(strings.TrimSpace(line), `"`)
}
