package index

import (
	"sort"
	"strings"
)

// Substring match weights. Title hits dominate, exact tag hits beat
// partial ones, id hits sit in between.
const (
	scoreTitleExact = 15
	scoreTitle      = 10
	scoreTagExact   = 8
	scoreID         = 6
	scoreTag        = 4
)

// SearchOptions narrows a search before scoring.
type SearchOptions struct {
	Type  string   // exact record type
	Tags  []string // every listed tag must be present
	Scope string   // exact scope name
	Limit int      // 0 means no limit
}

// Hit is one scored search result.
type Hit struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// Search scores indexed entries by weighted substring match over title,
// tags and id. An empty query yields no hits.
func (c *Cache) Search(query string, opts SearchOptions) ([]Hit, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}
	entries, err := c.All()
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, e := range entries {
		if !matchesFilters(e, opts) {
			continue
		}
		s := score(e, tokens)
		if s > 0 {
			hits = append(hits, Hit{Entry: e, Score: s})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Entry.Updated.Equal(hits[j].Entry.Updated) {
			return hits[i].Entry.Updated.After(hits[j].Entry.Updated)
		}
		return hits[i].Entry.ID < hits[j].Entry.ID
	})
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

func matchesFilters(e Entry, opts SearchOptions) bool {
	if opts.Type != "" && e.Type != opts.Type {
		return false
	}
	if opts.Scope != "" && e.Scope != opts.Scope {
		return false
	}
	for _, want := range opts.Tags {
		found := false
		for _, tag := range e.Tags {
			if strings.EqualFold(tag, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func score(e Entry, tokens []string) float64 {
	title := strings.ToLower(e.Title)
	id := strings.ToLower(e.ID)
	var total float64
	for _, tok := range tokens {
		if title == tok {
			total += scoreTitleExact
		} else if strings.Contains(title, tok) {
			total += scoreTitle
		}
		best := 0.0
		for _, tag := range e.Tags {
			lt := strings.ToLower(tag)
			switch {
			case lt == tok && best < scoreTagExact:
				best = scoreTagExact
			case strings.Contains(lt, tok) && best < scoreTag:
				best = scoreTag
			}
		}
		total += best
		if strings.Contains(id, tok) {
			total += scoreID
		}
	}
	return total
}
