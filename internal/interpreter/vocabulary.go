package interpreter

import (
	"strings"

	"github.com/dyluth/lockstep/internal/puzzle"
)

// verbPhrases maps chat phrasings onto verbs. Multi-word phrases are matched
// before single words.
var verbPhrases = map[string]puzzle.Verb{
	"look around":   puzzle.VerbExamine,
	"look at":       puzzle.VerbExamine,
	"look in":       puzzle.VerbExamine,
	"check out":     puzzle.VerbExamine,
	"pick up":       puzzle.VerbTake,
	"grab hold of":  puzzle.VerbTake,
	"go to":         puzzle.VerbMove,
	"go into":       puzzle.VerbMove,
	"go through":    puzzle.VerbMove,
	"walk to":       puzzle.VerbMove,
	"walk through":  puzzle.VerbMove,
	"head to":       puzzle.VerbMove,
	"head for":      puzzle.VerbMove,
	"tell me about": puzzle.VerbAsk,
	"what about":    puzzle.VerbAsk,
	"talk about":    puzzle.VerbAsk,

	"go":      puzzle.VerbMove,
	"walk":    puzzle.VerbMove,
	"move":    puzzle.VerbMove,
	"head":    puzzle.VerbMove,
	"enter":   puzzle.VerbMove,
	"run":     puzzle.VerbMove,
	"climb":   puzzle.VerbMove,
	"leave":   puzzle.VerbMove,
	"take":    puzzle.VerbTake,
	"grab":    puzzle.VerbTake,
	"get":     puzzle.VerbTake,
	"collect": puzzle.VerbTake,
	"pick":    puzzle.VerbTake,
	"use":     puzzle.VerbUse,
	"insert":  puzzle.VerbUse,
	"put":     puzzle.VerbUse,
	"plug":    puzzle.VerbUse,
	"apply":   puzzle.VerbUse,
	"swipe":   puzzle.VerbUse,
	"open":    puzzle.VerbOpen,
	"unlock":  puzzle.VerbOpen,
	"examine": puzzle.VerbExamine,
	"inspect": puzzle.VerbExamine,
	"look":    puzzle.VerbExamine,
	"l":       puzzle.VerbExamine,
	"check":   puzzle.VerbExamine,
	"search":  puzzle.VerbExamine,
	"read":    puzzle.VerbExamine,
	"study":   puzzle.VerbExamine,
	"ask":     puzzle.VerbAsk,
}

// maxPhraseWords is the longest key in verbPhrases.
const maxPhraseWords = 3

var leadingFiller = set("anna", "please", "can", "could", "would", "will", "you", "let's", "lets", "let", "us",
	"we", "i", "should", "try", "to", "now", "ok", "okay", "then", "quickly", "carefully", "maybe")

var articles = set("the", "a", "an", "some", "this", "that", "to", "into", "through", "at", "up", "my", "our", "your", "her")

var askFiller = set("anna", "her", "about", "the", "a", "an", "me", "us", "regarding", "what", "is", "who", "are")

var instrumentWords = set("on", "with", "in", "into", "at", "onto", "against")

var roomWords = set("room", "around", "here", "surroundings", "area", "place")

// matchVerb finds the verb phrase at the start of words and returns the remaining words.
func matchVerb(words []string) (puzzle.Verb, []string, bool) {
	for n := min(maxPhraseWords, len(words)); n > 0; n-- {
		phrase := strings.Join(words[:n], " ")
		if v, ok := verbPhrases[phrase]; ok {
			return v, words[n:], true
		}
	}
	return "", nil, false
}

func verbHelp() string {
	verbs := make([]string, 0, len(puzzle.Verbs))
	for _, v := range puzzle.Verbs {
		verbs = append(verbs, string(v))
	}
	return strings.Join(verbs, ", ")
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
