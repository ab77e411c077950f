package translate

import (
	"regexp"
	"sort"
	"strings"
)

// enPT is the phrasebook used when no translation backend is reachable.
var enPT = map[string]string{
	// greetings and phrases
	"hello":            "olá",
	"hi":               "oi",
	"how are you":      "como vai você",
	"good morning":     "bom dia",
	"good afternoon":   "boa tarde",
	"good evening":     "boa noite",
	"good night":       "boa noite",
	"thank you":        "obrigado",
	"thanks":           "obrigado",
	"yes":              "sim",
	"no":               "não",
	"please":           "por favor",
	"excuse me":        "com licença",
	"sorry":            "desculpe",
	"goodbye":          "tchau",
	"see you":          "até logo",
	"see you later":    "até mais tarde",
	"nice to meet you": "prazer em conhecê-lo",

	// pronouns
	"i am":      "eu sou",
	"you are":   "você é",
	"he is":     "ele é",
	"she is":    "ela é",
	"we are":    "nós somos",
	"they are":  "eles são",
	"i have":    "eu tenho",
	"you have":  "você tem",
	"we have":   "nós temos",
	"they have": "eles têm",
	"i":         "eu",
	"you":       "você",
	"he":        "ele",
	"she":       "ela",
	"we":        "nós",
	"they":      "eles",
	"my":        "meu",
	"your":      "seu",
	"his":       "dele",
	"her":       "dela",
	"our":       "nosso",
	"their":     "deles",

	// verbs
	"am":     "sou",
	"is":     "é",
	"are":    "são",
	"was":    "era",
	"were":   "eram",
	"be":     "ser",
	"have":   "ter",
	"has":    "tem",
	"had":    "tinha",
	"do":     "fazer",
	"does":   "faz",
	"did":    "fez",
	"will":   "vai",
	"can":    "pode",
	"could":  "poderia",
	"should": "deveria",
	"must":   "deve",
	"go":     "ir",
	"come":   "vir",
	"see":    "ver",
	"know":   "saber",
	"think":  "pensar",
	"want":   "querer",
	"need":   "precisar",
	"like":   "gostar",
	"eat":    "comer",
	"drink":  "beber",
	"sleep":  "dormir",
	"study":  "estudar",
	"play":   "jogar",
	"walk":   "caminhar",
	"run":    "correr",
	"speak":  "falar",
	"talk":   "conversar",
	"listen": "escutar",
	"read":   "ler",
	"write":  "escrever",
	"help":   "ajudar",
	"give":   "dar",
	"take":   "pegar",
	"make":   "fazer",
	"find":   "encontrar",
	"look":   "olhar",
	"feel":   "sentir",
	"say":    "dizer",
	"ask":    "perguntar",

	// question words
	"what":  "o que",
	"where": "onde",
	"when":  "quando",
	"why":   "por que",
	"how":   "como",
	"who":   "quem",
	"which": "qual",

	// time and place
	"today":     "hoje",
	"tomorrow":  "amanhã",
	"yesterday": "ontem",
	"now":       "agora",
	"later":     "mais tarde",
	"before":    "antes",
	"after":     "depois",
	"always":    "sempre",
	"never":     "nunca",
	"sometimes": "às vezes",
	"here":      "aqui",
	"there":     "lá",
	"home":      "casa",
	"work":      "trabalho",
	"school":    "escola",

	// adjectives
	"good":      "bom",
	"bad":       "ruim",
	"great":     "ótimo",
	"beautiful": "bonito",
	"nice":      "legal",
	"fine":      "bem",
	"big":       "grande",
	"small":     "pequeno",
	"new":       "novo",
	"old":       "velho",
	"hot":       "quente",
	"cold":      "frio",
	"fast":      "rápido",
	"slow":      "lento",
	"easy":      "fácil",
	"difficult": "difícil",
	"happy":     "feliz",
	"sad":       "triste",
	"tired":     "cansado",
	"important": "importante",
	"right":     "certo",
	"wrong":     "errado",

	// numbers
	"one":   "um",
	"two":   "dois",
	"three": "três",
	"four":  "quatro",
	"five":  "cinco",
	"first": "primeiro",
	"last":  "último",

	// nouns
	"time":    "tempo",
	"day":     "dia",
	"night":   "noite",
	"morning": "manhã",
	"week":    "semana",
	"year":    "ano",
	"house":   "casa",
	"car":     "carro",
	"food":    "comida",
	"water":   "água",
	"money":   "dinheiro",
	"friend":  "amigo",
	"family":  "família",
	"people":  "pessoas",
	"world":   "mundo",
	"city":    "cidade",
	"love":    "amor",
	"life":    "vida",
	"music":   "música",
	"movie":   "filme",
	"book":    "livro",
	"dog":     "cachorro",
	"cat":     "gato",
	"problem": "problema",
	"thing":   "coisa",

	// connectors and adverbs
	"and":     "e",
	"or":      "ou",
	"but":     "mas",
	"because": "porque",
	"if":      "se",
	"with":    "com",
	"without": "sem",
	"for":     "para",
	"to":      "para",
	"from":    "de",
	"of":      "de",
	"in":      "em",
	"on":      "em",
	"about":   "sobre",
	"very":    "muito",
	"more":    "mais",
	"less":    "menos",
	"all":     "todos",
	"some":    "alguns",
	"only":    "apenas",
	"also":    "também",
	"still":   "ainda",
	"maybe":   "talvez",
	"really":  "realmente",
}

// Dictionary is a phrase-substitution fallback translator. Only en->pt has a
// phrasebook; other pairs return the input unchanged.
type Dictionary struct {
	pairs map[string]*phrasebook
}

type phrasebook struct {
	entries map[string]string
	re      *regexp.Regexp
}

// NewDictionary builds the fallback dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{pairs: map[string]*phrasebook{
		"en>pt": newPhrasebook(enPT),
	}}
}

func newPhrasebook(entries map[string]string) *phrasebook {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	// Longer phrases must win over the words inside them.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return &phrasebook{
		entries: entries,
		re:      regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
	}
}

// Supports reports whether a phrasebook exists for src->dst.
func (d *Dictionary) Supports(src, dst string) bool {
	_, ok := d.pairs[NormalizeLang(src)+">"+NormalizeLang(dst)]
	return ok
}

// Translate replaces known whole words and phrases, case-insensitively, in a
// single pass so substituted text is never re-translated.
func (d *Dictionary) Translate(text, src, dst string) string {
	pb, ok := d.pairs[NormalizeLang(src)+">"+NormalizeLang(dst)]
	if !ok {
		return text
	}
	return pb.re.ReplaceAllStringFunc(text, func(m string) string {
		if out, ok := pb.entries[strings.ToLower(m)]; ok {
			return out
		}
		return m
	})
}
