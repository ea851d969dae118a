package redirect

// Shadow reports a rule that can never match because an earlier rule
// matches everything it would.
type Shadow struct {
	RuleID     int64 `json:"rule_id"`
	ShadowedBy int64 `json:"shadowed_by"`
}

// Shadowed finds exact rules preceded by a duplicate exact rule or by a
// regex rule that matches their source. Regex rules are not checked against
// each other.
func (s *Store) Shadowed(rules []Rule) []Shadow {
	shadows := []Shadow{}
	for j, rule := range rules {
		if rule.Regex {
			continue
		}
		for _, earlier := range rules[:j] {
			if s.matches(earlier, rule.Source) {
				shadows = append(shadows, Shadow{RuleID: rule.ID, ShadowedBy: earlier.ID})
				break
			}
		}
	}
	return shadows
}
