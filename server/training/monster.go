package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"aibeasts/server/agent"
	"aibeasts/server/llm"
)

const monsterSystem = `Generate a unique AI beast for an arena battle game.
Respond only with JSON of this shape:
{"name": "<short name>", "image_description": "<one sentence>", "abilities": ["attack ...", "defense ...", "special ..."], "personality": ["..."], "physic": ["..."]}
Every list holds 2-4 short phrases.`

// MonsterStore stores generated beasts.
type MonsterStore interface {
	CreateBeast(ctx context.Context, b agent.Beast) (agent.Beast, error)
}

// Monster is the generated beast plus the description used for its picture.
type Monster struct {
	agent.Beast
	ImageDescription string `json:"image_description"`
}

// phrases accepts a list of strings, one string, or an object of stats,
// since models drift between the three.
type phrases []string

func (p *phrases) UnmarshalJSON(b []byte) error {
	var list []any
	if err := json.Unmarshal(b, &list); err == nil {
		for _, v := range list {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				*p = append(*p, s)
			}
		}
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			*p = phrases{one}
		}
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		*p = append(*p, fmt.Sprintf("%s: %v", k, obj[k]))
	}
	return nil
}

// GenerateMonster asks the model for a fresh AI beast and stores it unowned.
func GenerateMonster(ctx context.Context, c Completer, model string, st MonsterStore) (Monster, error) {
	raw, err := c.Chat(ctx, model, []llm.Message{llm.System(monsterSystem)},
		llm.Options{Temperature: llm.Temp(0.7), MaxTokens: 300, JSON: true})
	if err != nil {
		return Monster{}, fmt.Errorf("generate monster: %w", err)
	}
	var out struct {
		Name             string  `json:"name"`
		ImageURL         string  `json:"image_url"`
		ImageDescription string  `json:"image_description"`
		Abilities        phrases `json:"abilities"`
		Personality      phrases `json:"personality"`
		Physic           phrases `json:"physic"`
	}
	if err := llm.DecodeObject(raw, &out); err != nil {
		return Monster{}, fmt.Errorf("generate monster: %w", err)
	}
	name := strings.TrimSpace(out.Name)
	if name == "" {
		return Monster{}, errors.New("generate monster: no name in reply")
	}
	b := agent.Beast{
		Name:        name,
		ImageURL:    strings.TrimSpace(out.ImageURL),
		Abilities:   capList(out.Abilities),
		Personality: capList(out.Personality),
		Physic:      capList(out.Physic),
		AIGenerated: true,
	}
	if b.ImageURL == "" {
		b.ImageURL = "https://robohash.org/" + url.PathEscape(name) + ".png"
	}
	saved, err := st.CreateBeast(ctx, b)
	if err != nil {
		return Monster{}, fmt.Errorf("store monster: %w", err)
	}
	return Monster{Beast: saved, ImageDescription: strings.TrimSpace(out.ImageDescription)}, nil
}

func capList(p phrases) []string {
	if len(p) > agent.MaxTraits {
		p = p[:agent.MaxTraits]
	}
	return []string(p)
}
