package booking

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Intent is what a free-text message asks for outside an active dialogue.
type Intent string

const (
	IntentNone Intent = ""
	IntentBook Intent = "book"
)

// IntentClassifier decides whether a message starts a booking. An LLM-backed
// classifier can stand in for the keyword one.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) Intent
}

var bookingKeywords = []string{
	"agendar", "agendamento", "marcar", "consulta", "horario", "horarios", "book", "appointment",
}

// KeywordClassifier matches booking keywords against the folded words of a
// message.
type KeywordClassifier struct {
	Keywords []string
}

func (c KeywordClassifier) Classify(_ context.Context, text string) Intent {
	keywords := c.Keywords
	if len(keywords) == 0 {
		keywords = bookingKeywords
	}
	for _, word := range words(text) {
		for _, k := range keywords {
			if word == fold(k) {
				return IntentBook
			}
		}
	}
	return IntentNone
}

var (
	affirmativeTokens = tokenSet("sim", "s", "ok", "confirmo", "confirmar", "confirma", "pode", "isso", "yes", "y")
	negativeTokens    = tokenSet("nao", "n", "cancelar", "cancela", "no")
	abandonTokens     = tokenSet("sair", "cancelar", "menu")
)

func tokenSet(tokens ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[t] = struct{}{}
	}
	return out
}

// fold lowercases, strips accents and surrounding punctuation.
func fold(text string) string {
	// Chained transformers carry state, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	out = strings.ToLower(out)
	return strings.TrimFunc(out, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

func words(text string) []string {
	return strings.FieldsFunc(fold(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// matches reports whether every word of text belongs to set, so "sim, pode"
// counts and "sim mas amanha" does not.
func matches(set map[string]struct{}, text string) bool {
	ws := words(text)
	if len(ws) == 0 || len(ws) > 3 {
		return false
	}
	for _, w := range ws {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func isAffirmative(text string) bool { return matches(affirmativeTokens, text) }
func isNegative(text string) bool    { return matches(negativeTokens, text) }

func isAbandon(text string) bool {
	_, ok := abandonTokens[fold(text)]
	return ok
}

// parseChoice reads a 1-based menu choice such as "2", "#2", "2." or "2)".
func parseChoice(text string) (int, bool) {
	v := strings.TrimSpace(text)
	v = strings.TrimPrefix(v, "#")
	v = strings.TrimRight(v, ".)")
	v = strings.TrimSpace(v)
	if v == "" || len(v) > 3 {
		return 0, false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
