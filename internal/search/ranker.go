// Package search ranks visitors for search-as-you-type and duplicate detection.
package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"visitorlog/internal/config"
	"visitorlog/internal/identity"
	"visitorlog/internal/model"
)

// Priority orders how a candidate matched; lower is better.
type Priority int

const (
	PriorityExactName Priority = iota + 1
	PriorityNamePrefix
	PriorityEmail
	PriorityCompany
	PriorityNameContains
	// priorityNone marks a candidate that does not qualify at all.
	priorityNone Priority = 0
)

// Source returns every visitor whose name, email or company contains the query.
type Source interface {
	SearchVisitors(ctx context.Context, query string) ([]model.Candidate, error)
}

// Result is one ranked hit.
type Result struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	Phone         string            `json:"phone"`
	Company       string            `json:"company"`
	BadgeNumber   string            `json:"badge_number,omitempty"`
	StaffContact  string            `json:"staff_contact,omitempty"`
	LastVisitAt   *time.Time        `json:"last_visit_at,omitempty"`
	SuggestedType model.VisitorType `json:"suggested_type"`
	Priority      Priority          `json:"priority"`

	// wholeWord is set when a name prefix ends on a word boundary ("John" in
	// "John Smith" but not in "Johnny"). It ranks ahead of recency.
	wholeWord bool
}

// Ranker produces bounded, ranked result lists.
type Ranker struct {
	source       Source
	defaultLimit int
	maxLimit     int
}

func NewRanker(source Source, policy config.Policy) *Ranker {
	return &Ranker{source: source, defaultLimit: policy.SearchDefaultLimit, maxLimit: policy.SearchMaxLimit}
}

// Search ranks visitors matching query. A blank query yields an empty list.
// A limit of zero or less selects the default.
func (r *Ranker) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []Result{}, nil
	}
	switch {
	case limit <= 0:
		limit = r.defaultLimit
	case r.maxLimit > 0 && limit > r.maxLimit:
		limit = r.maxLimit
	}

	candidates, err := r.source.SearchVisitors(ctx, q)
	if err != nil {
		return nil, err
	}
	return Rank(q, candidates, limit), nil
}

// Rank orders candidates by match priority, then most recent visit, then name.
func Rank(query string, candidates []model.Candidate, limit int) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		p := Score(query, c.Visitor)
		if p == priorityNone {
			continue
		}
		r := toResult(c, p)
		r.wholeWord = p == PriorityNamePrefix && prefixEndsWord(strings.TrimSpace(c.Visitor.Name), query)
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.wholeWord != b.wholeWord {
			return a.wholeWord
		}
		if !sameVisitTime(a.LastVisitAt, b.LastVisitAt) {
			return visitedLater(a.LastVisitAt, b.LastVisitAt)
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Score returns how v matches query, or zero when it does not qualify.
func Score(query string, v model.Visitor) Priority {
	q := strings.TrimSpace(query)
	if q == "" {
		return priorityNone
	}
	switch {
	case identity.NameEquals(v.Name, q):
		return PriorityExactName
	case identity.HasPrefixFold(strings.TrimSpace(v.Name), q):
		return PriorityNamePrefix
	case v.Email != "" && identity.ContainsFold(v.Email, q):
		return PriorityEmail
	case v.Company != "" && identity.ContainsFold(v.Company, q):
		return PriorityCompany
	case identity.ContainsFold(v.Name, q):
		return PriorityNameContains
	}
	return priorityNone
}

// SuggestedType is contractor for anyone with contractor training on record.
func SuggestedType(v model.Visitor) model.VisitorType {
	if v.TrainingType == model.TrainingContractor || v.ContractorOrientationCompleted {
		return model.VisitorContractor
	}
	return model.VisitorGeneral
}

func toResult(c model.Candidate, p Priority) Result {
	v := c.Visitor
	return Result{
		ID:            v.ID,
		Name:          v.Name,
		Email:         v.Email,
		Phone:         v.Phone,
		Company:       v.Company,
		BadgeNumber:   v.BadgeNumber,
		StaffContact:  v.StaffContact,
		LastVisitAt:   c.LastVisitAt,
		SuggestedType: SuggestedType(v),
		Priority:      p,
	}
}

func prefixEndsWord(name, query string) bool {
	q := strings.TrimSpace(query)
	if len(name) <= len(q) {
		return len(name) == len(q)
	}
	next := name[len(q)]
	return next == ' ' || next == '-' || next == ',' || next == '.'
}

func sameVisitTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// visitedLater puts visitors who never visited last.
func visitedLater(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
