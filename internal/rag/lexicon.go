package rag

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// stopWords are dropped when extracting fallback context-search keywords
// from a question, matching rag_handler.py's _extract_search_terms.
var stopWords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "who": {}, "why": {}, "how": {},
	"did": {}, "do": {}, "does": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"the": {}, "a": {}, "an": {}, "i": {}, "me": {}, "my": {},
	"last": {}, "recent": {}, "recently": {}, "today": {}, "yesterday": {},
}

// extractSearchTerms pulls up to 3 non-stopword keywords (length > 2) from
// a question, used as the fallback context-transcript search query when no
// keyword group matched.
func extractSearchTerms(question string) string {
	words := strings.Fields(strings.ToLower(question))
	var keywords []string
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if len(w) <= 2 {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) == 3 {
			break
		}
	}
	return strings.Join(keywords, " ")
}

// commonWords is too generic to be worth a vocabulary lookup, matching
// rag_handler.py's _is_common_word table.
var commonWords = map[string]struct{}{
	"the": {}, "and": {}, "or": {}, "but": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"have": {}, "has": {}, "had": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"can": {}, "may": {}, "might": {}, "must": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"here": {}, "there": {}, "where": {}, "when": {}, "what": {}, "who": {}, "why": {}, "how": {},
	"yes": {}, "no": {}, "not": {}, "now": {}, "then": {}, "said": {}, "say": {}, "says": {},
	"get": {}, "got": {}, "go": {}, "goes": {}, "went": {}, "come": {}, "came": {}, "see": {}, "saw": {},
	"look": {}, "looks": {}, "like": {}, "want": {}, "wants": {}, "need": {}, "needs": {},
	"know": {}, "knows": {}, "think": {}, "thinks": {}, "good": {}, "bad": {}, "big": {}, "small": {},
	"new": {}, "old": {}, "first": {}, "last": {}, "best": {},
}

func isCommonWord(word string) bool {
	_, ok := commonWords[strings.ToLower(word)]
	return ok
}

// wordPattern finds word-like tokens of 3+ characters.
var wordPattern = regexp.MustCompile(`\b\w{3,}\b`)

// emotePattern matches channel-emote-shaped tokens: a lowercase prefix of 3+
// letters followed by an uppercase-led suffix (prefixSUFFIX or
// prefixSuffix), per spec §4.6 step 3. Candidates under 5 characters total
// are filtered out by the caller.
var emotePattern = regexp.MustCompile(`\b([a-z]{3,})([A-Z][A-Z0-9]*|[A-Z][a-z][a-zA-Z0-9]*)\b`)

// extractEmotesFromText returns channel-emote-shaped candidates found in
// text, excluding anything that looks like a URL.
func extractEmotesFromText(text string) []string {
	if text == "" {
		return nil
	}
	var emotes []string
	for _, m := range emotePattern.FindAllStringSubmatch(text, -1) {
		name := m[1] + m[2]
		lower := strings.ToLower(name)
		if len(name) < 5 {
			continue
		}
		if isCommonWord(lower) {
			continue
		}
		if strings.HasPrefix(lower, "http") || strings.HasPrefix(lower, "www") || strings.HasPrefix(lower, "com") {
			continue
		}
		emotes = append(emotes, name)
	}
	return emotes
}

// extractVocabularyCandidates pulls both plain-word candidates (3+ chars,
// not a common word) and channel-emote candidates out of a chat message,
// per spec §4.6 step 3.
func extractVocabularyCandidates(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(term string) {
		if term == "" {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}

	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if !isCommonWord(w) {
			add(w)
		}
	}
	for _, e := range extractEmotesFromText(text) {
		add(e)
	}
	return out
}

// fuzzyVocabularyThreshold is the minimum Jaro-Winkler similarity for a
// fuzzy match against a known popular-vocabulary phrase to count as a hit,
// used to rescue a near-miss exact search (e.g. a typo'd emote name) without
// a second round-trip to the vocabulary API. Grounded on the teacher's
// internal/transcript/phonetic matcher, which applies the same library the
// same way for the same purpose: ranking candidate strings against a known
// vocabulary by string similarity.
const fuzzyVocabularyThreshold = 0.88

// fuzzyMatchPhrase returns the known phrase most similar to term (by
// Jaro-Winkler score) if it clears fuzzyVocabularyThreshold, else "".
func fuzzyMatchPhrase(term string, knownPhrases []string) string {
	term = strings.ToLower(term)
	best, bestScore := "", 0.0
	for _, phrase := range knownPhrases {
		score := matchr.JaroWinkler(term, strings.ToLower(phrase), false)
		if score > bestScore {
			best, bestScore = phrase, score
		}
	}
	if bestScore >= fuzzyVocabularyThreshold {
		return best
	}
	return ""
}
