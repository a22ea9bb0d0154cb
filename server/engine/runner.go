package engine

import (
	"context"
	"fmt"
	"strings"

	"aibeasts/server/agent"
	"aibeasts/server/judge"
	"aibeasts/server/llm"
)

// Completer is the slice of the llm client the engine needs.
type Completer interface {
	Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (string, error)
}

const DefaultRounds = 5

// Transcript is the ordered battle log. A opens every round and gets the
// unanswered final move, so a finished log has 2*rounds+1 lines.
type Transcript struct {
	A, B  string
	Lines []string
}

func (t Transcript) String() string { return strings.Join(t.Lines, "\n") }

// Runner plays battles between two beasts and asks the referee to judge.
type Runner struct {
	LLM          Completer
	FighterModel string
	RefereeModel string
	Rounds       int
	// OnLine, when set, sees each log line as it is produced.
	OnLine func(line string)
}

func (r Runner) rounds() int {
	if r.Rounds <= 0 {
		return DefaultRounds
	}
	return r.Rounds
}

// Run plays the rounds and the final move.
func (r Runner) Run(ctx context.Context, a, b agent.Beast) (Transcript, error) {
	t := Transcript{A: a.Name, B: b.Name}
	t.Lines = make([]string, 0, 2*r.rounds()+1)
	lastA, lastB := "", ""
	for round := 1; round <= r.rounds(); round++ {
		line, err := r.turn(ctx, a, lastB, t.Lines, false)
		if err != nil {
			return t, fmt.Errorf("round %d %s: %w", round, a.Name, err)
		}
		lastA = line
		t.Lines = r.emit(t.Lines, a.Name, line)

		line, err = r.turn(ctx, b, lastA, t.Lines, false)
		if err != nil {
			return t, fmt.Errorf("round %d %s: %w", round, b.Name, err)
		}
		lastB = line
		t.Lines = r.emit(t.Lines, b.Name, line)
	}
	line, err := r.turn(ctx, a, lastB, t.Lines, true)
	if err != nil {
		return t, fmt.Errorf("final move %s: %w", a.Name, err)
	}
	t.Lines = r.emit(t.Lines, a.Name, line)
	return t, nil
}

func (r Runner) turn(ctx context.Context, self agent.Beast, opponentLast string, log []string, final bool) (string, error) {
	msgs := make([]llm.Message, 0, len(log)+2)
	msgs = append(msgs,
		llm.System(agent.FighterSystem(self, final)),
		llm.User(agent.FighterUser(self, opponentLast, final)),
	)
	for _, l := range log {
		msgs = append(msgs, llm.User(l))
	}
	reply, err := r.LLM.Chat(ctx, r.FighterModel, msgs, llm.Options{Temperature: llm.Temp(0.5), MaxTokens: 50})
	if err != nil {
		return "", err
	}
	return agent.StripSpeaker(self.Name, reply), nil
}

func (r Runner) emit(lines []string, name, line string) []string {
	l := name + ": " + line
	if r.OnLine != nil {
		r.OnLine(l)
	}
	return append(lines, l)
}

// Judge asks the referee for a verdict. The raw reply is returned even when
// no winner could be parsed from it.
func (r Runner) Judge(ctx context.Context, t Transcript) (judge.Verdict, string, error) {
	raw, err := r.LLM.Chat(ctx, r.RefereeModel, []llm.Message{
		llm.System(judge.RefereeSystem),
		llm.User(judge.RefereeUser(t.Lines)),
	}, llm.Options{Temperature: llm.Temp(0.6), MaxTokens: 150})
	if err != nil {
		return judge.Verdict{}, "", fmt.Errorf("referee: %w", err)
	}
	raw = strings.TrimSpace(raw)
	v, err := judge.ParseVerdict(raw)
	return v, raw, err
}

// PracticeResult is an unrecorded battle between two beasts.
type PracticeResult struct {
	Transcript Transcript `json:"-"`
	Lines      []string   `json:"transcript"`
	JudgeLog   string     `json:"judge_log"`
	Winner     string     `json:"winner,omitempty"`
	Side       judge.Side `json:"-"`
}

// Practice runs and judges a battle with no lobby, persistence or payout.
// An unparseable verdict is reported with an empty Winner.
func (r Runner) Practice(ctx context.Context, a, b agent.Beast) (PracticeResult, error) {
	t, err := r.Run(ctx, a, b)
	if err != nil {
		return PracticeResult{}, err
	}
	v, raw, err := r.Judge(ctx, t)
	res := PracticeResult{Transcript: t, Lines: t.Lines, JudgeLog: raw}
	if err != nil {
		if raw == "" {
			return PracticeResult{}, err
		}
		return res, nil
	}
	if side, ok := judge.Resolve(v, a.Name, b.Name); ok {
		res.Side = side
		if side == judge.SideA {
			res.Winner = a.Name
		} else {
			res.Winner = b.Name
		}
	}
	return res, nil
}
