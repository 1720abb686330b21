package vo

import "sort"

// EmailTier caps daily sends for accounts that have sent on at most Days distinct days.
type EmailTier struct {
	Days  int
	Limit int
}

// EmailTierTable picks a daily ceiling from account tenure.
type EmailTierTable struct {
	tiers        []EmailTier
	defaultLimit int
}

// NewEmailTierTable sorts tiers ascending by threshold.
func NewEmailTierTable(tiers []EmailTier, defaultLimit int) EmailTierTable {
	cp := append([]EmailTier(nil), tiers...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Days < cp[j].Days })
	return EmailTierTable{tiers: cp, defaultLimit: defaultLimit}
}

func DefaultEmailTierTable() EmailTierTable {
	return NewEmailTierTable([]EmailTier{
		{Days: 3, Limit: 30},
		{Days: 7, Limit: 70},
		{Days: 14, Limit: 200},
		{Days: 30, Limit: 500},
		{Days: 60, Limit: 1000},
		{Days: 90, Limit: 2000},
	}, 500)
}

// CeilingFor returns the first tier whose threshold is >= daysWithSends, else the default.
func (t EmailTierTable) CeilingFor(daysWithSends int) int {
	for _, tier := range t.tiers {
		if daysWithSends <= tier.Days {
			return tier.Limit
		}
	}
	return t.defaultLimit
}
