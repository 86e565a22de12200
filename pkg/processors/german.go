package processors

import (
	"regexp"
	"strings"
)

// Markers used in preprocessed German text
const (
	CompoundMarker = ">><<"
	SuffixMarker   = "<<"
)

var (
	contractions = []string{"am", "ans", "beim", "im", "ins", "vom", "zum", "zur"}
	uncontracted = [][2]string{
		{"an", "dem"}, {"an", "das"}, {"bei", "dem"}, {"in", "dem"},
		{"in", "das"}, {"von", "dem"}, {"zu", "dem"}, {"zu", "der"},
	}

	// contraction -> preposition, article
	uncontract = make(map[string][2]string, len(contractions))
	// article -> preposition -> contraction
	contract = make(map[string]map[string]string)

	einTypePronouns = regexp.MustCompile(`^(ein|[mdsk]ein|ihr|unser|euer|Ihr)(e|es|er|em|en)$`)
	derTypePronouns = regexp.MustCompile(`^(dies|welch|jed|all)(e|es|er|em|en)$`)
)

func init() {
	for i, c := range contractions {
		prep, article := uncontracted[i][0], uncontracted[i][1]
		uncontract[c] = uncontracted[i]
		if contract[article] == nil {
			contract[article] = make(map[string]string)
		}
		contract[article][prep] = c
	}
}

// GermanConfig selects which rules the German processors apply
type GermanConfig struct {
	Compounding bool
	Contracting bool
	Pronouns    bool
}

// DefaultGermanConfig enables every rule
func DefaultGermanConfig() GermanConfig {
	return GermanConfig{Compounding: true, Contracting: true, Pronouns: true}
}

// GermanPreprocessor splits contractions, pronoun endings and marked compounds
type GermanPreprocessor struct {
	GermanConfig
}

// NewGermanPreprocessor creates a preprocessor with the given rules
func NewGermanPreprocessor(cfg GermanConfig) *GermanPreprocessor {
	return &GermanPreprocessor{GermanConfig: cfg}
}

// Process preprocesses one tokenized sentence
func (p *GermanPreprocessor) Process(sentence []string) []string {
	result := make([]string, 0, len(sentence))
	for _, word := range sentence {
		var einMatch, derMatch []string
		if p.Pronouns {
			einMatch = einTypePronouns.FindStringSubmatch(word)
			derMatch = derTypePronouns.FindStringSubmatch(word)
		}

		_, isContraction := uncontract[word]
		switch {
		case p.Contracting && isContraction:
			forms := uncontract[word]
			result = append(result, forms[0], forms[1])
		case einMatch != nil:
			result = append(result, einMatch[1], SuffixMarker+einMatch[2])
		case derMatch != nil:
			result = append(result, derMatch[1], SuffixMarker+derMatch[2])
		case p.Compounding && strings.Contains(word, CompoundMarker):
			parts := strings.Split(word, CompoundMarker)
			result = append(result, parts[0])
			for _, part := range parts[1:] {
				result = append(result, CompoundMarker, Capitalize(part))
			}
		default:
			result = append(result, word)
		}
	}
	return result
}

// ProcessBatch preprocesses every sentence
func (p *GermanPreprocessor) ProcessBatch(sentences [][]string) [][]string {
	out := make([][]string, len(sentences))
	for i, s := range sentences {
		out[i] = p.Process(s)
	}
	return out
}

// GermanPostprocessor undoes GermanPreprocessor
type GermanPostprocessor struct {
	GermanConfig
}

// NewGermanPostprocessor creates a postprocessor with the given rules
func NewGermanPostprocessor(cfg GermanConfig) *GermanPostprocessor {
	return &GermanPostprocessor{GermanConfig: cfg}
}

// Process postprocesses one decoded sentence. The first token is capitalized.
func (p *GermanPostprocessor) Process(sentence []string) []string {
	result := make([]string, 0, len(sentence))
	compound := false
	for _, word := range sentence {
		last := len(result) - 1
		var contracted string
		if p.Contracting && last >= 0 {
			contracted = contract[word][result[last]]
		}

		switch {
		case contracted != "":
			result[last] = contracted
		case p.Pronouns && strings.HasPrefix(word, SuffixMarker):
			if last >= 0 {
				result[last] += word[len(SuffixMarker):]
			}
		case p.Compounding && last >= 0 && word == CompoundMarker:
			compound = true
		case p.Compounding && compound:
			result[last] += strings.ToLower(word)
			compound = false
		default:
			result = append(result, word)
		}
	}
	if len(result) > 0 {
		result[0] = Capitalize(result[0])
	}
	return result
}

// ProcessBatch postprocesses every sentence
func (p *GermanPostprocessor) ProcessBatch(sentences [][]string) [][]string {
	out := make([][]string, len(sentences))
	for i, s := range sentences {
		out[i] = p.Process(s)
	}
	return out
}
