package usecase

import (
	"encoding/json"
	"path"
	"regexp"

	"appforge/internal/domain/model"
)

// The generator's stdout is a stream of newline-delimited JSON events, but
// not every stage transition arrives as a structured event: some are only
// observable as bracketed markers inside natural-language assistant text.
// Both forms feed the same stage-update path.

type generatorEvent struct {
	Type  string `json:"type"`
	Stage string `json:"stage,omitempty"`
	Path  string `json:"path,omitempty"`
	Text  string `json:"text,omitempty"`
}

// stageSignal is one stage-affecting observation extracted from a line.
// detailOnly signals refine the current stage's detail without changing it.
type stageSignal struct {
	stage      model.Stage
	detail     string
	detailOnly bool
}

var stageMarkerRe = regexp.MustCompile(`\[stage:([a-z]+)\]`)

func parseLine(line string) []stageSignal {
	var ev generatorEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		// Not JSON; the line may still carry inline markers.
		return scanMarkers(line)
	}

	switch ev.Type {
	case "stage":
		if s := model.Stage(ev.Stage); s.Known() && !s.Terminal() {
			return []stageSignal{{stage: s}}
		}
	case "file", "tool_use":
		if ev.Path != "" {
			return []stageSignal{{detail: path.Base(ev.Path), detailOnly: true}}
		}
	case "message", "assistant":
		return scanMarkers(ev.Text)
	}
	return nil
}

func scanMarkers(text string) []stageSignal {
	var out []stageSignal
	for _, m := range stageMarkerRe.FindAllStringSubmatch(text, -1) {
		if s := model.Stage(m[1]); s.Known() && !s.Terminal() {
			out = append(out, stageSignal{stage: s})
		}
	}
	return out
}
