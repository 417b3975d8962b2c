// Package matcher maps worker output markers to lifecycle states.
package matcher

import (
	"regexp"

	"github.com/loykin/rigwatch/internal/process"
)

// Matcher inspects a chunk of worker output and names the state it implies.
type Matcher interface {
	Match(text string) (process.State, bool)
}

// Rule moves a worker to State when Pattern occurs in its output.
type Rule struct {
	Pattern *regexp.Regexp
	State   process.State
}

// Rules is an ordered Matcher: the first rule with a hit wins, regardless of
// where in the text the hits occur.
type Rules []Rule

func (r Rules) Match(text string) (process.State, bool) {
	for _, rule := range r {
		if rule.Pattern.MatchString(text) {
			return rule.State, true
		}
	}
	return 0, false
}

var (
	node = Rules{
		{regexp.MustCompile(`SYNCHRONIZED OK|You are now synchronized`), process.StateAlive},
		{regexp.MustCompile(`Synced \d+/\d+`), process.StateSyncing},
	}
	p2pool = Rules{
		{regexp.MustCompile(`SideChain SYNCHRONIZED`), process.StateAlive},
		{regexp.MustCompile(`couldn't connect to monerod|no connections to monerod`), process.StateSyncing},
	}
	xmrig = Rules{
		{regexp.MustCompile(`new job`), process.StateAlive},
		{regexp.MustCompile(`no active pools`), process.StateNotMining},
	}
	proxy = Rules{
		{regexp.MustCompile(`new job|accepted`), process.StateAlive},
		{regexp.MustCompile(`no active pools`), process.StateNotMining},
	}
)

// For returns the markers of kind, or nil for kinds without output.
func For(kind process.Kind) Matcher {
	switch kind {
	case process.KindNode:
		return node
	case process.KindP2Pool:
		return p2pool
	case process.KindXmrig:
		return xmrig
	case process.KindProxy:
		return proxy
	}
	return nil
}
