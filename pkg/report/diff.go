package report

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	OpEqual  = "equal"
	OpInsert = "insert"
	OpDelete = "delete"
)

type Fragment struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

// StepDiff describes how refine step Step changed the previous answer.
type StepDiff struct {
	Step      int        `json:"step"`
	Changed   bool       `json:"changed"`
	Fragments []Fragment `json:"fragments,omitempty"`
}

// ChainDiff compares every answer of a refine chain with the one before it.
// The seed answer has nothing to compare against and is skipped.
func ChainDiff(chain []string) []StepDiff {
	if len(chain) < 2 {
		return nil
	}

	dmp := diffmatchpatch.New()
	steps := make([]StepDiff, 0, len(chain)-1)
	for i := 1; i < len(chain); i++ {
		before, after := chain[i-1], chain[i]
		step := StepDiff{Step: i}
		if strings.TrimSpace(before) == strings.TrimSpace(after) {
			steps = append(steps, step)
			continue
		}

		diffs := dmp.DiffMain(before, after, false)
		diffs = dmp.DiffCleanupSemantic(diffs)
		step.Changed = true
		for _, d := range diffs {
			step.Fragments = append(step.Fragments, Fragment{Op: opName(d.Type), Text: d.Text})
		}
		steps = append(steps, step)
	}
	return steps
}

func opName(t diffmatchpatch.Operation) string {
	switch t {
	case diffmatchpatch.DiffInsert:
		return OpInsert
	case diffmatchpatch.DiffDelete:
		return OpDelete
	}
	return OpEqual
}
