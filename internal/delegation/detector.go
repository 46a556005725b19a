package delegation

import (
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Detector parses agent-spawn requests out of free-form PM output.
// Two surface forms are recognized:
//
//	**<Agent>**: <task>     (task runs until a blank line or next **...** block)
//	Task(<description>)     (one line; agent inferred from keywords)
type Detector struct{}

// NewDetector creates a detector.
func NewDetector() *Detector {
	return &Detector{}
}

var (
	markdownHeader = regexp.MustCompile(`\*\*([A-Za-z][A-Za-z /_-]*?)\*\*:`)
	taskToolForm   = regexp.MustCompile(`Task\(([^)\n]+)\)`)
	blankLine      = regexp.MustCompile(`\n[ \t]*\n`)
	taskToolLine   = regexp.MustCompile(`\n[ \t]*Task\(`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// Detect returns every delegation found in the text, markdown form first,
// in order of appearance.
func (d *Detector) Detect(text string) []Delegation {
	var out []Delegation
	out = append(out, d.detectMarkdown(text)...)
	out = append(out, d.detectTaskTool(text)...)
	return out
}

func (d *Detector) detectMarkdown(text string) []Delegation {
	locs := markdownHeader.FindAllStringSubmatchIndex(text, -1)
	if locs == nil {
		return nil
	}

	var out []Delegation
	for i, loc := range locs {
		name := text[loc[2]:loc[3]]

		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segment := text[loc[1]:end]
		if idx := blankLine.FindStringIndex(segment); idx != nil {
			segment = segment[:idx[0]]
		}
		// A Task(...) line starts the task-tool form, not a continuation.
		if idx := taskToolLine.FindStringIndex(segment); idx != nil {
			segment = segment[:idx[0]]
		}

		task := strings.TrimSpace(spaceRun.ReplaceAllString(segment, " "))
		if task == "" {
			continue
		}

		agent, ok := NormalizeAgent(name)
		if !ok {
			// Bold labels are everywhere in prose ("**Note**:"); only a
			// recognized agent name makes this a delegation.
			log.Debug().Str("name", name).Msg("skipping unrecognized agent label")
			continue
		}

		out = append(out, Delegation{
			Agent:      agent,
			Task:       task,
			Source:     SourceDetectorMarkdown,
			Confidence: 0.9,
			Timestamp:  time.Now(),
		})
	}
	return out
}

func (d *Detector) detectTaskTool(text string) []Delegation {
	matches := taskToolForm.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}

	var out []Delegation
	for _, m := range matches {
		task := strings.TrimSpace(m[1])
		if task == "" {
			continue
		}
		out = append(out, Delegation{
			Agent:      d.SuggestAgentForTask(task),
			Task:       task,
			Source:     SourceDetectorTaskTool,
			Confidence: 0.7,
			Timestamp:  time.Now(),
		})
	}
	return out
}

// SuggestAgentForTask picks an agent for a task by keyword scoring,
// defaulting to engineer when nothing matches.
func (d *Detector) SuggestAgentForTask(task string) string {
	if agent, _, ok := BestAgent(task); ok {
		return agent
	}
	return AgentEngineer
}
