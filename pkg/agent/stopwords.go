package agent

// stopWords are dropped from keyword queries. Tokens of two runes or fewer
// are dropped separately.
var stopWords = map[string]struct{}{
	"about": {}, "above": {}, "after": {}, "again": {}, "against": {}, "all": {},
	"and": {}, "any": {}, "are": {}, "aren": {}, "because": {}, "been": {},
	"before": {}, "being": {}, "below": {}, "between": {}, "both": {}, "but": {},
	"can": {}, "cannot": {}, "could": {}, "couldn": {}, "did": {}, "didn": {},
	"does": {}, "doesn": {}, "doing": {}, "don": {}, "down": {}, "during": {},
	"each": {}, "few": {}, "for": {}, "from": {}, "further": {}, "had": {},
	"hadn": {}, "has": {}, "hasn": {}, "have": {}, "haven": {}, "having": {},
	"her": {}, "here": {}, "hers": {}, "herself": {}, "him": {}, "himself": {},
	"his": {}, "how": {}, "into": {}, "isn": {}, "its": {}, "itself": {},
	"just": {}, "let": {}, "more": {}, "most": {}, "mustn": {}, "myself": {},
	"nor": {}, "not": {}, "now": {}, "off": {}, "once": {}, "only": {},
	"other": {}, "ought": {}, "our": {}, "ours": {}, "ourselves": {}, "out": {},
	"over": {}, "own": {}, "same": {}, "shan": {}, "she": {}, "should": {},
	"shouldn": {}, "some": {}, "such": {}, "than": {}, "that": {}, "the": {},
	"their": {}, "theirs": {}, "them": {}, "themselves": {}, "then": {},
	"there": {}, "these": {}, "they": {}, "this": {}, "those": {}, "through": {},
	"too": {}, "under": {}, "until": {}, "very": {}, "was": {}, "wasn": {},
	"were": {}, "weren": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"while": {}, "who": {}, "whom": {}, "why": {}, "will": {}, "with": {},
	"won": {}, "would": {}, "wouldn": {}, "you": {}, "your": {}, "yours": {},
	"yourself": {}, "yourselves": {},
}
