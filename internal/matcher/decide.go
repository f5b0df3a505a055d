package matcher

import "github.com/starford/tgmonitor/internal/models"

// Verdict is the routing outcome for one message.
type Verdict int

const (
	Drop Verdict = iota
	Forward
)

func (v Verdict) String() string {
	if v == Forward {
		return "forward"
	}
	return "drop"
}

// Reason explains which step of the routing policy produced a Verdict.
type Reason string

const (
	ReasonUserExcluded    Reason = "user_excluded"
	ReasonUserMonitored   Reason = "user_monitored"
	ReasonContentExcluded Reason = "content_excluded"
	ReasonContentMatched  Reason = "content_matched"
	ReasonNoMatch         Reason = "no_match"
)

// Sender is the identity the user rules are evaluated against.
type Sender struct {
	ID        int64
	Usernames []string
}

// Decision is the outcome of Decide. Rules holds the rules that drive the
// notification style and keyword list; it is empty when Verdict is Drop.
type Decision struct {
	Verdict        Verdict
	Reason         Reason
	Rules          []models.KeywordRule
	UserMatches    []models.KeywordRule
	ContentMatches []models.KeywordRule
}

// Decide applies the routing policy:
//
//  1. a sender matched by an exclude user rule is dropped and content is not evaluated;
//  2. a sender matched by monitor user rules is forwarded with exactly those rules;
//  3. otherwise any matching exclude content rule drops the message;
//  4. otherwise matching monitor content rules forward it, and no match drops it.
func (rs *RuleSet) Decide(sender Sender, body string) Decision {
	d := Decision{UserMatches: rs.MatchUser(sender.ID, sender.Usernames)}

	if hasAction(d.UserMatches, models.ActionExclude) {
		d.Reason = ReasonUserExcluded
		return d
	}
	if monitors := withAction(d.UserMatches, models.ActionMonitor); len(monitors) > 0 {
		d.Verdict, d.Reason, d.Rules = Forward, ReasonUserMonitored, monitors
		return d
	}

	d.ContentMatches = rs.MatchText(body)
	if hasAction(d.ContentMatches, models.ActionExclude) {
		d.Reason = ReasonContentExcluded
		return d
	}
	if monitors := withAction(d.ContentMatches, models.ActionMonitor); len(monitors) > 0 {
		d.Verdict, d.Reason, d.Rules = Forward, ReasonContentMatched, monitors
		return d
	}
	d.Reason = ReasonNoMatch
	return d
}

func hasAction(rules []models.KeywordRule, a models.Action) bool {
	for _, r := range rules {
		if r.Action == a {
			return true
		}
	}
	return false
}

func withAction(rules []models.KeywordRule, a models.Action) []models.KeywordRule {
	var out []models.KeywordRule
	for _, r := range rules {
		if r.Action == a {
			out = append(out, r)
		}
	}
	return out
}
