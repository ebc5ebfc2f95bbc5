// Package classify holds the text heuristics used to bucket markets: a
// category classifier for risk concentration and a grouping key for pairing
// related markets in the arbitrage scanner. Both sit behind interfaces so the
// keyword rules can be replaced without touching the callers.
package classify

import (
	"regexp"
	"strings"
)

type Category string

const (
	Crypto   Category = "crypto"
	Politics Category = "politics"
	Stocks   Category = "stocks"
	Sports   Category = "sports"
	Other    Category = "other"
)

// Classifier assigns a market question to a category.
type Classifier interface {
	Classify(text string) Category
}

// Grouper derives a key under which related market questions collide.
// An empty key means the question cannot be grouped.
type Grouper interface {
	GroupKey(text string) string
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "will": true, "with": true,
	"this": true, "that": true, "from": true, "are": true, "was": true,
	"were": true, "been": true, "have": true, "has": true, "had": true,
	"than": true, "then": true, "there": true, "their": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "whom": true,
	"why": true, "how": true, "not": true, "but": true, "any": true,
	"all": true, "can": true, "does": true, "did": true, "its": true,
	"into": true, "over": true, "under": true, "before": true, "after": true,
	"end": true, "out": true, "more": true, "less": true, "least": true,
	"most": true, "next": true, "get": true, "per": true, "yes": true,
}

const (
	maxKeywords  = 5
	groupKeyLen  = 3
	minTokenSize = 3
)

// Keywords returns up to five significant tokens of text in order of
// appearance: lower-cased, punctuation stripped, stop words and tokens
// shorter than three characters removed.
func Keywords(text string) []string {
	cleaned := nonWord.ReplaceAllString(strings.ToLower(text), " ")
	var out []string
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) < minTokenSize || stopWords[tok] {
			continue
		}
		out = append(out, tok)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// KeywordGrouper groups questions by their first three keywords.
type KeywordGrouper struct{}

func (KeywordGrouper) GroupKey(text string) string {
	kw := Keywords(text)
	if len(kw) > groupKeyLen {
		kw = kw[:groupKeyLen]
	}
	return strings.Join(kw, " ")
}

type rule struct {
	category Category
	words    map[string]bool
}

// KeywordClassifier matches question tokens against fixed word lists. The
// first matching rule wins.
type KeywordClassifier struct {
	rules []rule
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: []rule{
		{Crypto, wordSet("bitcoin", "btc", "ethereum", "eth", "crypto", "cryptocurrency",
			"solana", "sol", "dogecoin", "doge", "xrp", "coinbase", "binance", "stablecoin", "etf")},
		{Politics, wordSet("election", "president", "presidential", "senate", "congress",
			"trump", "biden", "harris", "vote", "votes", "democrat", "democrats", "republican",
			"republicans", "governor", "parliament", "minister", "primary", "nominee", "poll")},
		{Stocks, wordSet("stock", "stocks", "nasdaq", "dow", "spx", "sp500", "earnings", "ipo",
			"shares", "tesla", "apple", "nvidia", "microsoft", "fed", "rates", "inflation", "recession")},
		{Sports, wordSet("nba", "nfl", "mlb", "nhl", "fifa", "championship", "super", "bowl",
			"cup", "league", "playoffs", "finals", "match", "game", "team", "olympics", "tournament")},
	}}
}

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func (c *KeywordClassifier) Classify(text string) Category {
	tokens := strings.Fields(nonWord.ReplaceAllString(strings.ToLower(text), " "))
	for _, r := range c.rules {
		for _, tok := range tokens {
			if r.words[tok] {
				return r.category
			}
		}
	}
	return Other
}
