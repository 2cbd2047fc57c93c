package signal

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
)

// EntityType identifies a category of sensitive data.
type EntityType string

const (
	EntityAadhaar     EntityType = "aadhaar"
	EntityPAN         EntityType = "pan"
	EntityEmail       EntityType = "email"
	EntityPhone       EntityType = "phone"
	EntityPassport    EntityType = "passport"
	EntityPassword    EntityType = "password"
	EntityBankAccount EntityType = "bank_account"
	EntityIFSC        EntityType = "ifsc"
	EntityCVV         EntityType = "cvv"
	EntityCreditCard  EntityType = "credit_card"
)

// Finding is one occurrence of sensitive data.
type Finding struct {
	Type  EntityType
	Value string
	Start int
	End   int
}

var (
	aadhaarRe  = regexp.MustCompile(`\b\d{12}\b`)
	panRe      = regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`)
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe    = regexp.MustCompile(`(?:\+91[\-\s]?|0)?[6-9]\d{9}\b`)
	passportRe = regexp.MustCompile(`\b[A-Z][0-9]{7}\b`)
	passwordRe = regexp.MustCompile(`(?i)(password|passwd|pwd|passcode|pass:)\s*[:#\-]?\s*([^\s,;]{4,40})`)
	bankRe     = regexp.MustCompile(`\b\d{9,18}\b`)
	ifscRe     = regexp.MustCompile(`\b[A-Z]{4}0[A-Z0-9]{6}\b`)
	cvvRe      = regexp.MustCompile(`\b\d{3,4}\b`)
	cardRe     = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	cardSepRe  = regexp.MustCompile(`[ -]`)
)

// entityWeights is the evidence weight of one entity type in the sensitive score.
var entityWeights = map[EntityType]float64{
	EntityCreditCard:  0.55,
	EntityAadhaar:     0.45,
	EntityPassword:    0.45,
	EntityPAN:         0.40,
	EntityPassport:    0.35,
	EntityCVV:         0.35,
	EntityBankAccount: 0.30,
	EntityIFSC:        0.25,
	EntityPhone:       0.15,
	EntityEmail:       0.12,
}

// keywordContext scales the sensitive score when the text also talks about sensitive topics.
const keywordContext = 0.15

// Detect finds sensitive entities in text, sorted by position.
func Detect(text string) []Finding {
	var out []Finding
	simple := []struct {
		typ EntityType
		re  *regexp.Regexp
	}{
		{EntityAadhaar, aadhaarRe},
		{EntityPAN, panRe},
		{EntityEmail, emailRe},
		{EntityPhone, phoneRe},
		{EntityPassport, passportRe},
		{EntityBankAccount, bankRe},
		{EntityIFSC, ifscRe},
	}
	for _, p := range simple {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			out = append(out, Finding{Type: p.typ, Value: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}

	// Password: only the value group is sensitive.
	for _, sub := range passwordRe.FindAllStringSubmatchIndex(text, -1) {
		if sub[4] >= 0 {
			out = append(out, Finding{Type: EntityPassword, Value: text[sub[4]:sub[5]], Start: sub[4], End: sub[5]})
		}
	}

	// CVV: 3-4 digits only count when "cvv" or "card" is within 10 chars.
	for _, loc := range cvvRe.FindAllStringIndex(text, -1) {
		lo := max(0, loc[0]-10)
		hi := min(len(text), loc[1]+10)
		near := strings.ToLower(text[lo:hi])
		if strings.Contains(near, "cvv") || strings.Contains(near, "card") {
			out = append(out, Finding{Type: EntityCVV, Value: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}

	// Credit cards must pass the Luhn check.
	for _, loc := range cardRe.FindAllStringIndex(text, -1) {
		candidate := cardSepRe.ReplaceAllString(text[loc[0]:loc[1]], "")
		if LuhnValid(candidate) {
			out = append(out, Finding{Type: EntityCreditCard, Value: candidate, Start: loc[0], End: loc[1]})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// LuhnValid reports whether a 13-19 digit number passes the Luhn checksum.
func LuhnValid(number string) bool {
	digits := make([]int, 0, len(number))
	for _, c := range number {
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	parity := len(digits) % 2
	for i, d := range digits {
		if i%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

// EntityTypes returns the distinct entity types in findings, sorted.
func EntityTypes(findings []Finding) []string {
	seen := make(map[EntityType]bool)
	var types []string
	for _, f := range findings {
		if !seen[f.Type] {
			seen[f.Type] = true
			types = append(types, string(f.Type))
		}
	}
	sort.Strings(types)
	return types
}

// Sensitive is the DLP extractor: a noisy-or over detected entity types,
// nudged upward when sensitive keywords surround them.
type Sensitive struct {
	heuristic *Heuristic
}

// NewSensitive creates the DLP extractor.
func NewSensitive(cfg Config) *Sensitive {
	return &Sensitive{heuristic: NewHeuristic(cfg)}
}

// Name implements Extractor.
func (s *Sensitive) Name() string { return "sensitive" }

// Score implements Extractor.
func (s *Sensitive) Score(ctx context.Context, in Input) (float64, error) {
	if in.Data == nil {
		return 0, &ExtractionError{Extractor: s.Name(), Path: in.Path, Err: errors.New("no content")}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if bytes.IndexByte(in.Data, 0) >= 0 {
		// Binary content carries no text entities.
		return 0, nil
	}

	types := EntityTypes(Detect(string(in.Data)))
	if len(types) == 0 {
		return 0, nil
	}

	ws := make([]float64, 0, len(types)+1)
	for _, t := range types {
		ws = append(ws, entityWeights[EntityType(t)])
	}
	if s.heuristic.KeywordHits(in.Data) > 0 {
		ws = append(ws, keywordContext)
	}
	return noisyOr(ws...), nil
}

// Entities implements EntityReporter.
func (s *Sensitive) Entities(in Input) []string {
	if in.Data == nil || bytes.IndexByte(in.Data, 0) >= 0 {
		return nil
	}
	return EntityTypes(Detect(string(in.Data)))
}
