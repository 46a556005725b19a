package delegation

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Canonical agent names. Every delegation resolves to one of these.
const (
	AgentEngineer       = "engineer"
	AgentQA             = "qa"
	AgentDocumentation  = "documentation"
	AgentResearch       = "research"
	AgentSecurity       = "security"
	AgentOps            = "ops"
	AgentVersionControl = "version-control"
	AgentDataEngineer   = "data-engineer"
)

// CanonicalAgents lists every valid agent name, in display order.
func CanonicalAgents() []string {
	return []string{
		AgentEngineer,
		AgentQA,
		AgentDocumentation,
		AgentResearch,
		AgentSecurity,
		AgentOps,
		AgentVersionControl,
		AgentDataEngineer,
	}
}

// IsCanonicalAgent reports whether name is a canonical agent name.
func IsCanonicalAgent(name string) bool {
	switch name {
	case AgentEngineer, AgentQA, AgentDocumentation, AgentResearch,
		AgentSecurity, AgentOps, AgentVersionControl, AgentDataEngineer:
		return true
	}
	return false
}

// agentAliases maps lowercased input names to canonical names.
var agentAliases = map[string]string{
	"doc":        AgentDocumentation,
	"docs":       AgentDocumentation,
	"documenter": AgentDocumentation,
	"writer":     AgentDocumentation,

	"eng":       AgentEngineer,
	"dev":       AgentEngineer,
	"developer": AgentEngineer,
	"engineer":  AgentEngineer,

	"test":    AgentQA,
	"testing": AgentQA,
	"tester":  AgentQA,
	"quality": AgentQA,

	"researcher":  AgentResearch,
	"investigate": AgentResearch,
	"analyst":     AgentResearch,

	"devops":     AgentOps,
	"operations": AgentOps,

	"sec": AgentSecurity,

	"git":             AgentVersionControl,
	"vcs":             AgentVersionControl,
	"versioner":       AgentVersionControl,
	"version control": AgentVersionControl,

	"data":          AgentDataEngineer,
	"database":      AgentDataEngineer,
	"data engineer": AgentDataEngineer,
}

// NormalizeAgent resolves an agent name or alias to its canonical form.
// Input is case-insensitive and may carry a trailing " Agent" suffix.
func NormalizeAgent(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, " agent")
	n = strings.TrimSpace(n)
	if n == "" {
		return "", false
	}

	if IsCanonicalAgent(n) {
		return n, true
	}
	if canonical, ok := agentAliases[n]; ok {
		return canonical, true
	}

	// Accept space/underscore separated forms of hyphenated names.
	hyphenated := strings.NewReplacer(" ", "-", "_", "-").Replace(n)
	if IsCanonicalAgent(hyphenated) {
		return hyphenated, true
	}
	return "", false
}

// AgentKeywords describes the keyword profile for one agent.
type AgentKeywords struct {
	Agent    string
	Keywords []string
	Priority int // 1..10, also the tie breaker
}

// keywordTable is the static agent-keyword table used for scoring.
// Keywords are matched case-insensitively; multi-word phrases require an
// exact substring match, single words require a word-boundary match.
var keywordTable = []AgentKeywords{
	{
		Agent:    AgentQA,
		Priority: 8,
		Keywords: []string{"unit test", "integration test", "test coverage", "test", "tests", "testing", "qa", "quality", "verify", "validate", "coverage"},
	},
	{
		Agent:    AgentSecurity,
		Priority: 7,
		Keywords: []string{"security audit", "security", "vulnerability", "auth", "authentication", "authorization", "encrypt", "encryption", "cve", "exploit"},
	},
	{
		Agent:    AgentResearch,
		Priority: 6,
		Keywords: []string{"root cause", "investigate", "research", "explore", "analyze", "analysis", "compare", "evaluate", "study", "benchmark"},
	},
	{
		Agent:    AgentOps,
		Priority: 6,
		Keywords: []string{"ci/cd pipeline", "deploy", "deployment", "docker", "kubernetes", "infrastructure", "provision", "terraform", "monitoring", "rollout"},
	},
	{
		Agent:    AgentDataEngineer,
		Priority: 6,
		Keywords: []string{"data pipeline", "database", "schema", "migration", "etl", "sql", "query", "warehouse", "dataset"},
	},
	{
		Agent:    AgentDocumentation,
		Priority: 5,
		Keywords: []string{"api documentation", "document", "documentation", "readme", "docs", "changelog", "guide", "tutorial"},
	},
	{
		Agent:    AgentVersionControl,
		Priority: 4,
		Keywords: []string{"version bump", "branch", "merge", "commit", "rebase", "tag", "release", "git"},
	},
	{
		Agent:    AgentEngineer,
		Priority: 5,
		Keywords: []string{"rate limiting", "implement", "build", "create", "develop", "fix", "refactor", "code", "api", "endpoint", "function", "bug"},
	},
}

var (
	boundaryCache   = make(map[string]*regexp.Regexp)
	boundaryCacheMu sync.Mutex
)

func boundaryRegexp(word string) *regexp.Regexp {
	boundaryCacheMu.Lock()
	defer boundaryCacheMu.Unlock()
	if re, ok := boundaryCache[word]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	boundaryCache[word] = re
	return re
}

// ScoreAgents scores every agent in the keyword table against the task
// text and returns per-agent normalized scores. Agents with no keyword
// match are absent from the result.
func ScoreAgents(task string) map[string]float64 {
	lower := strings.ToLower(task)
	scores := make(map[string]float64)

	for _, entry := range keywordTable {
		keywords := make([]string, len(entry.Keywords))
		copy(keywords, entry.Keywords)
		sort.Slice(keywords, func(i, j int) bool { return len(keywords[i]) > len(keywords[j]) })

		var matched float64
		for _, kw := range keywords {
			words := strings.Fields(kw)
			if len(words) > 1 {
				if strings.Contains(lower, kw) {
					matched += float64(len(words))*0.5 + 1.0
				}
			} else if boundaryRegexp(kw).MatchString(task) {
				matched += 1.0
			}
		}

		if matched > 0 {
			scores[entry.Agent] = matched / 3.0 * float64(entry.Priority) / 10.0
		}
	}
	return scores
}

// BestAgent picks the highest-scoring agent for the task, breaking ties
// by declared table priority. ok is false when nothing matched.
func BestAgent(task string) (agent string, score float64, ok bool) {
	scores := ScoreAgents(task)
	if len(scores) == 0 {
		return "", 0, false
	}

	for _, entry := range keywordTable {
		s, hit := scores[entry.Agent]
		if !hit {
			continue
		}
		if !ok || s > score || (s == score && entry.Priority > tablePriority(agent)) {
			agent, score, ok = entry.Agent, s, true
		}
	}
	return agent, score, ok
}

func tablePriority(agent string) int {
	for _, entry := range keywordTable {
		if entry.Agent == agent {
			return entry.Priority
		}
	}
	return 0
}
