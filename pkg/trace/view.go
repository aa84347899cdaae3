package trace

import (
	"sort"
	"time"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
)

// View is the reconstructed, read-only picture of one trace. It is derived
// from the ledger on every call and never stored.
type View struct {
	TraceID               string          `json:"trace_id"`
	EventChain            []Event         `json:"event_chain"`
	AgentRoutingTree      RoutingTree     `json:"agent_routing_tree"`
	JurisdictionHops      []string        `json:"jurisdiction_hops"`
	RLRewardSnapshot      *RewardSnapshot `json:"rl_reward_snapshot"`
	ContextFingerprint    string          `json:"context_fingerprint"`
	NonceVerification     bool            `json:"nonce_verification"`
	SignatureVerification bool            `json:"signature_verification"`
}

// Event is a ledger entry annotated with its own signature check.
type Event struct {
	ledger.Entry
	SignatureValid bool `json:"signature_valid"`
}

// RoutingTree maps each agent to the agents it handed the trace to.
type RoutingTree struct {
	Root     string              `json:"root"`
	Children map[string][]string `json:"children"`
}

// RewardSnapshot is the latest feedback recorded against a trace.
type RewardSnapshot struct {
	Sequence     uint64    `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	Rating       int       `json:"rating"`
	FeedbackType string    `json:"feedback_type"`
	Reward       float64   `json:"reward"`
}

// treeBuilder accumulates parent->child edges in arrival order.
type treeBuilder struct {
	root     string
	current  string
	children map[string]map[string]struct{}
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{children: make(map[string]map[string]struct{})}
}

// observe records a routing decision to agent. The first agent becomes the
// root; each later agent that differs from the most recent one becomes its
// child.
func (b *treeBuilder) observe(agent string) {
	if agent == "" {
		return
	}
	if b.root == "" {
		b.root = agent
		b.current = agent
		return
	}
	if agent == b.current {
		return
	}
	set, ok := b.children[b.current]
	if !ok {
		set = make(map[string]struct{})
		b.children[b.current] = set
	}
	set[agent] = struct{}{}
	b.current = agent
}

func (b *treeBuilder) tree() RoutingTree {
	out := RoutingTree{Root: b.root, Children: make(map[string][]string, len(b.children))}
	for parent, set := range b.children {
		kids := make([]string, 0, len(set))
		for k := range set {
			kids = append(kids, k)
		}
		sort.Strings(kids)
		out.Children[parent] = kids
	}
	return out
}

// appendHop adds j unless it repeats the previous hop.
func appendHop(hops []string, j string) []string {
	if j == "" {
		return hops
	}
	if n := len(hops); n > 0 && hops[n-1] == j {
		return hops
	}
	return append(hops, j)
}
