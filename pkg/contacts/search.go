package contacts

import (
	"regexp"
	"sort"
	"strings"

	"github.com/niva-app/agenda-engine/internal/models"
)

// Confidence labels how sure the resolver is about a guest match.
type Confidence string

const (
	ConfidenceExact Confidence = "exact"
	ConfidenceHigh  Confidence = "high"
	ConfidenceLow   Confidence = "low"
	ConfidenceNone  Confidence = "none"
)

// Field weights and thresholds for the ranked matcher.
const (
	emailLocalWeight = 0.9
	companyWeight    = 0.7
	substringScore   = 0.8
	usageBoostStep   = 0.03
	usageBoostCap    = 0.15

	exactThreshold      = 0.9
	highThreshold       = 0.7
	lowThreshold        = 0.5
	suggestionThreshold = 0.2

	// A runner-up within this margin of a non-exact top hit makes the
	// resolution ambiguous regardless of the top score's band.
	ambiguityMargin = 0.05
)

var honorificPattern = regexp.MustCompile(`^(mr|mrs|ms|dr|prof)\.?\s+`)

// NormalizeName lowercases a name, strips a leading honorific, and
// collapses whitespace.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = honorificPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Match is one scored search result.
type Match struct {
	Contact *models.Contact
	Score   float64
}

// SearchOptions tune Search. Zero values mean no limit and no score floor.
type SearchOptions struct {
	Limit    int
	MinScore float64
}

// Search ranks contacts against the query. Name and aliases count at full
// weight, the email local part at 0.9, company at 0.7; the best field score
// gets a usage boost of at most 0.15.
func (s *Store) Search(query string, opts SearchOptions) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.searchLocked(query, opts), nil
}

func (s *Store) searchLocked(query string, opts SearchOptions) []Match {
	q := NormalizeName(query)
	if q == "" {
		return nil
	}

	var matches []Match
	for _, c := range s.byID {
		score := scoreContact(c, q)
		if score < opts.MinScore || score <= 0 {
			continue
		}
		matches = append(matches, Match{Contact: s.snapshot(c), Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Contact.UsageCount != matches[j].Contact.UsageCount {
			return matches[i].Contact.UsageCount > matches[j].Contact.UsageCount
		}
		return matches[i].Contact.ID < matches[j].Contact.ID
	})

	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches
}

func scoreContact(c *models.Contact, normalizedQuery string) float64 {
	best := similarity(normalizedQuery, NormalizeName(c.Name))
	for _, alias := range c.Aliases {
		if s := similarity(normalizedQuery, NormalizeName(alias)); s > best {
			best = s
		}
	}
	local := c.Email
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	if s := similarity(normalizedQuery, NormalizeName(local)) * emailLocalWeight; s > best {
		best = s
	}
	if c.Company != "" {
		if s := similarity(normalizedQuery, NormalizeName(c.Company)) * companyWeight; s > best {
			best = s
		}
	}
	if best <= 0 {
		return 0
	}
	boost := usageBoostStep * float64(c.UsageCount)
	if boost > usageBoostCap {
		boost = usageBoostCap
	}
	return best + boost
}

// similarity scores two normalized strings in [0,1]: exact match 1.0,
// substring containment 0.8, otherwise the LCS ratio 2*LCS/(len(a)+len(b)).
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(b, a) || strings.Contains(a, b) {
		return substringScore
	}
	return 2.0 * float64(lcsLength(a, b)) / float64(len(a)+len(b))
}

// lcsLength computes the longest common subsequence length with a rolling
// single-row table.
func lcsLength(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Resolution is the outcome of resolving one guest token.
type Resolution struct {
	Input        string            `json:"input"`
	Email        string            `json:"email,omitempty"`
	Contact      *models.Contact   `json:"contact,omitempty"`
	Confidence   Confidence        `json:"confidence"`
	Alternatives []*models.Contact `json:"alternatives,omitempty"`
	Suggestions  []*models.Contact `json:"suggestions,omitempty"`
}

// ResolveGuest maps a free-text name or email token to a contact. A valid
// email resolves exactly even when no contact is known for it. Near-tied
// name candidates demote the match to low confidence with the runners-up
// listed as alternatives.
func (s *Store) ResolveGuest(guest string) (*Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.resolveGuestLocked(guest), nil
}

func (s *Store) resolveGuestLocked(guest string) *Resolution {
	guest = strings.TrimSpace(guest)
	res := &Resolution{Input: guest, Confidence: ConfidenceNone}
	if guest == "" {
		return res
	}

	if ValidEmail(guest) {
		email := NormalizeEmail(guest)
		res.Email = email
		res.Confidence = ConfidenceExact
		if c, ok := s.byEmail[email]; ok {
			res.Contact = s.snapshot(c)
		}
		return res
	}

	matches := s.searchLocked(guest, SearchOptions{Limit: 5})
	if len(matches) == 0 || matches[0].Score < lowThreshold {
		return res
	}

	top := matches[0]
	res.Email = top.Contact.Email
	res.Contact = top.Contact
	contested := top.Score < exactThreshold && len(matches) > 1 &&
		matches[1].Score >= lowThreshold &&
		top.Score-matches[1].Score < ambiguityMargin
	switch {
	case top.Score >= exactThreshold:
		res.Confidence = ConfidenceExact
	case top.Score >= highThreshold && !contested:
		res.Confidence = ConfidenceHigh
	default:
		res.Confidence = ConfidenceLow
		for _, m := range matches[1:] {
			if m.Score >= lowThreshold {
				res.Alternatives = append(res.Alternatives, m.Contact)
			}
		}
	}
	return res
}

// GuestResolution buckets the outcomes of ResolveGuests, preserving input
// order within each bucket.
type GuestResolution struct {
	Resolved   []*Resolution `json:"resolved"`
	Unresolved []*Resolution `json:"unresolved"`
	Ambiguous  []*Resolution `json:"ambiguous"`
}

// ResolveGuests resolves a list of guest tokens. Exact and high confidence
// results land in Resolved; low confidence in Ambiguous; everything else in
// Unresolved with up to three suggestions.
func (s *Store) ResolveGuests(guests []string) (*GuestResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	out := &GuestResolution{}
	for _, g := range guests {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		res := s.resolveGuestLocked(g)
		switch {
		case res.Confidence == ConfidenceExact || res.Confidence == ConfidenceHigh:
			out.Resolved = append(out.Resolved, res)
		case res.Confidence == ConfidenceLow:
			// A low-confidence pick needs user confirmation even when it
			// has no runner-up.
			out.Ambiguous = append(out.Ambiguous, res)
		default:
			for _, m := range s.searchLocked(g, SearchOptions{Limit: 3, MinScore: suggestionThreshold}) {
				res.Suggestions = append(res.Suggestions, m.Contact)
			}
			out.Unresolved = append(out.Unresolved, res)
		}
	}
	return out, nil
}

// SplitGuestString splits a comma-separated guest string into tokens.
func SplitGuestString(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SuggestOptions tune Suggest.
type SuggestOptions struct {
	Limit         int
	ExcludeEmails []string
}

// Suggest returns completion candidates for a partial guest token. An
// empty partial yields the most recently used contacts.
func (s *Store) Suggest(partial string, opts SuggestOptions) ([]*models.Contact, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	excluded := make(map[string]bool, len(opts.ExcludeEmails))
	for _, e := range opts.ExcludeEmails {
		excluded[NormalizeEmail(e)] = true
	}

	if strings.TrimSpace(partial) == "" {
		all, err := s.All(SortByRecent)
		if err != nil {
			return nil, err
		}
		var out []*models.Contact
		for _, c := range all {
			if excluded[c.Email] {
				continue
			}
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
		return out, nil
	}

	matches, err := s.Search(partial, SearchOptions{MinScore: suggestionThreshold})
	if err != nil {
		return nil, err
	}
	var out []*models.Contact
	for _, m := range matches {
		if excluded[m.Contact.Email] {
			continue
		}
		out = append(out, m.Contact)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
