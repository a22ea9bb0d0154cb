package training

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"aibeasts/server/agent"
	"aibeasts/server/llm"
	"aibeasts/server/store"
)

// Completer is the slice of the llm client training needs.
type Completer interface {
	Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (string, error)
}

// BeastStore persists the player's beast while it is trained.
type BeastStore interface {
	BeastByOwner(ctx context.Context, userID string) (agent.Beast, error)
	CreateBeast(ctx context.Context, b agent.Beast) (agent.Beast, error)
	AddTrait(ctx context.Context, beastID string, kind agent.TraitKind, trait string) (bool, error)
}

const (
	greetNew   = "Welcome to AIBeasts Game. What do you want to call your new beast?"
	greetBack  = "Welcome back! Your beast is %s. What are we going to train today?"
	namedReply = "Your new beast is called %s! Tell me how it looks, what it can do, or how it behaves."
	stopReply  = "Alright, let me know if you want to train your beast further!"
	noFollowUp = "no follow-up needed"

	nameTooLong = "That name is too long. Pick a name of at most 64 characters."
)

// Extraction is the classifier's reading of one training message.
type Extraction struct {
	TraitType  agent.TraitKind
	Trait      string
	StopIntent bool
}

const extractSystem = `%s
Your task is to:
1. Classify the user's message into one of four categories: "abilities", "personality", "physic", or "conversation".
   - "physic": physical appearance (e.g. "robotic dog", "big wings", "shiny fur").
   - "abilities": skills or powers (e.g. "can fly", "invisibility", "fire breath").
   - "personality": behaviour or traits (e.g. "kind", "aggressive", "friendly").
   - "conversation": general conversational input (e.g. "Who are you?").
2. Extract a concise phrase that describes the trait.
3. Determine if the user wants to stop the conversation.

Examples:
- Input: "I want my monster to have big wings." Output: {"traitType": "physic", "trait": "big wings", "stopIntent": false}
- Input: "Can my beast shoot fire?" Output: {"traitType": "abilities", "trait": "fire breath", "stopIntent": false}
- Input: "Who are you?" Output: {"traitType": "conversation", "trait": null, "stopIntent": false}
- Input: "No, that's it for now." Output: {"traitType": null, "trait": null, "stopIntent": true}

Respond only with JSON: {"traitType": "<abilities|personality|physic|conversation>", "trait": "<trait or null>", "stopIntent": <true|false>}`

const followUpSystem = `%s
Based on the trait type and trait provided, generate a relevant follow-up question if necessary.

Examples:
- Trait Type: "physic", Trait: "big wings" -> "What color should the big wings be?"
- Trait Type: "abilities", Trait: "fire breath" -> "How does the fire breath work in combat?"
- Trait Type: "personality", Trait: "brave" -> "Can you describe a situation where being brave would be helpful?"

If no follow-up question is needed, use "No follow-up needed".
Respond only with JSON: {"question": "<follow-up question or 'No follow-up needed'>"}`

// Trainer runs the classification and persona calls.
type Trainer struct {
	LLM   Completer
	Model string
}

// Extract classifies message. Any failure reads as plain conversation.
func (t Trainer) Extract(ctx context.Context, basis, message string) Extraction {
	conv := Extraction{TraitType: agent.Conversation}
	raw, err := t.LLM.Chat(ctx, t.Model, []llm.Message{
		llm.System(fmt.Sprintf(extractSystem, basis)),
		llm.User(fmt.Sprintf("Message: %q", message)),
	}, llm.Options{Temperature: llm.Temp(0.5), MaxTokens: 150, JSON: true})
	if err != nil {
		log.Printf("training: extract: %v", err)
		return conv
	}
	var out struct {
		TraitType  *string `json:"traitType"`
		Trait      *string `json:"trait"`
		StopIntent *bool   `json:"stopIntent"`
	}
	if err := llm.DecodeObject(raw, &out); err != nil || out.StopIntent == nil {
		log.Printf("training: extract: unusable reply %q", raw)
		return conv
	}
	if *out.StopIntent {
		return Extraction{StopIntent: true}
	}
	if out.TraitType == nil {
		return conv
	}
	kind, ok := agent.ParseTraitKind(*out.TraitType)
	if !ok || !kind.Storable() || out.Trait == nil || strings.TrimSpace(*out.Trait) == "" {
		return conv
	}
	return Extraction{TraitType: kind, Trait: strings.TrimSpace(*out.Trait)}
}

// FollowUp asks for one optional follow-up question about a new trait.
func (t Trainer) FollowUp(ctx context.Context, basis string, kind agent.TraitKind, trait string) (string, bool) {
	raw, err := t.LLM.Chat(ctx, t.Model, []llm.Message{
		llm.System(fmt.Sprintf(followUpSystem, basis)),
		llm.User(fmt.Sprintf("Trait Type: %q, Trait: %q", kind, trait)),
	}, llm.Options{Temperature: llm.Temp(0.5), MaxTokens: 60, JSON: true})
	if err != nil {
		log.Printf("training: follow-up: %v", err)
		return "", false
	}
	var out struct {
		Question string `json:"question"`
	}
	if err := llm.DecodeObject(raw, &out); err != nil {
		return "", false
	}
	q := strings.TrimSpace(out.Question)
	if q == "" || strings.EqualFold(strings.TrimRight(q, ".!"), noFollowUp) {
		return "", false
	}
	return q, true
}

// Persona answers message in the beast's own voice.
func (t Trainer) Persona(ctx context.Context, basis, message string) (string, error) {
	reply, err := t.LLM.Chat(ctx, t.Model, []llm.Message{
		llm.System(basis),
		llm.User(message),
	}, llm.Options{Temperature: llm.Temp(0.7), MaxTokens: 150})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// Coach drives the training chat for one player's beast.
type Coach struct {
	Trainer
	Store BeastStore
}

// Reply handles one chat message from userID.
func (c Coach) Reply(ctx context.Context, userID, message string) (string, error) {
	message = strings.TrimSpace(message)
	beast, err := c.Store.BeastByOwner(ctx, userID)
	hasBeast := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load beast: %w", err)
	}

	if message == "" {
		if hasBeast {
			return fmt.Sprintf(greetBack, beast.Name), nil
		}
		return greetNew, nil
	}

	if !hasBeast {
		b := agent.Beast{UserID: &userID, Name: message}
		if err := agent.Validate(b); err != nil {
			return nameTooLong, nil
		}
		created, err := c.Store.CreateBeast(ctx, b)
		if err != nil {
			return "", fmt.Errorf("create beast: %w", err)
		}
		log.Printf("training: user %s named beast %q", userID, created.Name)
		return fmt.Sprintf(namedReply, created.Name), nil
	}

	basis := agent.BasisPrompt(beast)
	ex := c.Extract(ctx, basis, message)
	if ex.StopIntent {
		return stopReply, nil
	}

	var followUp string
	// the local copy only screens out obvious repeats; the store decides
	if ex.TraitType.Storable() && beast.AddTrait(ex.TraitType, ex.Trait) {
		added, err := c.Store.AddTrait(ctx, beast.ID, ex.TraitType, ex.Trait)
		if err != nil {
			return "", fmt.Errorf("save %s: %w", ex.TraitType, err)
		}
		if added {
			basis = agent.BasisPrompt(beast)
			if q, ok := c.FollowUp(ctx, basis, ex.TraitType, ex.Trait); ok {
				followUp = q
			}
		}
	}

	reply, err := c.Persona(ctx, basis, message)
	if err != nil {
		return "", fmt.Errorf("persona: %w", err)
	}
	if followUp != "" {
		reply += " " + followUp
	}
	return reply, nil
}
