package correct

import (
	"sort"
	"strings"

	"github.com/ppiankov/grounder/internal/model"
	"github.com/ppiankov/grounder/internal/treepath"
	"github.com/ppiankov/grounder/internal/validate"
	"go.uber.org/zap"
)

// applied is the result of applying one round of actions
type applied struct {
	data        map[string]any
	corrections []model.Correction
	uncorrected []string               // paths in data
	prior       *model.GroundingReport // report with paths mapped onto data
}

// tracker follows claim paths of the round's starting record through removals
type tracker struct {
	cur  map[string]string // original path -> path in the working tree
	gone map[string]string // original path -> removed path that swallowed it
}

func newTracker(verdicts []model.Verdict) *tracker {
	t := &tracker{cur: make(map[string]string, len(verdicts)), gone: make(map[string]string)}
	for _, v := range verdicts {
		t.cur[v.Path] = v.Path
	}
	return t
}

func (t *tracker) removed(target string) {
	for orig, cur := range t.cur {
		shifted, ok := treepath.Shift(cur, target)
		if !ok {
			t.gone[orig] = target
			delete(t.cur, orig)
			continue
		}
		t.cur[orig] = shifted
	}
}

func rank(s model.VerdictStatus) int {
	switch s {
	case model.StatusSupported:
		return 2
	case model.StatusPartial:
		return 1
	}
	return 0
}

type decision struct {
	kind  string // correct | remove
	value any
}

// apply turns the model's actions into a new record tree. Rewrites go first;
// removals follow in descending path order so earlier indices stay valid.
// Any action that fails to apply, breaks the schema, or makes a numeric or
// quote claim check worse leaves the claim as it was.
func (c *Corrector) apply(round int, rec model.Record, report *model.GroundingReport, failing []model.Verdict, actions []action, source string) applied {
	decisions := make(map[string]decision)
	for _, a := range actions {
		v, ok := resolve(a.ClaimID, failing)
		if !ok {
			c.log.Debug("correction for unknown claim ignored", zap.Any("claim_id", a.ClaimID))
			continue
		}
		kind := normalizeAction(a.Action)
		if kind == "" {
			continue
		}
		if _, dup := decisions[v.Path]; dup {
			continue
		}
		decisions[v.Path] = decision{kind: kind, value: a.Value}
	}

	data := treepath.CloneMap(rec.Data)
	track := newTracker(report.Verdicts)
	done := make(map[string]bool)
	var out applied

	checker := c.validator.Checker(source)
	for _, v := range failing {
		d, ok := decisions[v.Path]
		if !ok || d.kind != "correct" {
			continue
		}
		text, _ := d.value.(string)
		text = strings.TrimSpace(text)
		if text == "" || text == v.Text {
			continue
		}
		if validate.Fast(v.Kind) {
			check := checker.Check(model.Claim{Path: v.Path, Kind: v.Kind, Text: text})
			if rank(check.Status) < rank(v.Status) {
				c.log.Debug("rewrite rejected: checks worse than original",
					zap.String("claim_path", v.Path),
					zap.String("verdict", string(check.Status)))
				continue
			}
		}
		next, ok := c.tryEdit(data, func(tree any) (any, error) { return treepath.Set(tree, v.Path, text) })
		if !ok {
			continue
		}
		data = next
		done[v.Path] = true
		out.corrections = append(out.corrections, model.Correction{
			Round:     round,
			Path:      v.Path,
			Kind:      v.Kind,
			Original:  v.Text,
			Action:    model.ActionCorrected,
			Corrected: text,
		})
	}

	var removals []model.Verdict
	for _, v := range failing {
		if d, ok := decisions[v.Path]; ok && d.kind == "remove" {
			removals = append(removals, v)
		}
	}
	sort.SliceStable(removals, func(i, j int) bool { return treepath.Compare(removals[i].Path, removals[j].Path) > 0 })

	for _, v := range removals {
		cur, alive := track.cur[v.Path]
		if !alive {
			continue
		}
		// drop the field itself, or its list element when the schema needs the field
		targets := []string{cur}
		if el, ok := treepath.Element(cur); ok && el != cur {
			targets = append(targets, el)
		}
		for _, target := range targets {
			next, ok := c.tryEdit(data, func(tree any) (any, error) { return treepath.Delete(tree, target) })
			if !ok {
				continue
			}
			data = next
			track.removed(target)
			done[v.Path] = true
			out.corrections = append(out.corrections, model.Correction{
				Round:    round,
				Path:     v.Path,
				Kind:     v.Kind,
				Original: v.Text,
				Action:   model.ActionRemoved,
				Removed:  target,
			})
			break
		}
	}

	// claims that disappeared with a removed element are recorded too
	for _, v := range report.Verdicts {
		target, gone := track.gone[v.Path]
		if !gone || done[v.Path] {
			continue
		}
		done[v.Path] = true
		out.corrections = append(out.corrections, model.Correction{
			Round:    round,
			Path:     v.Path,
			Kind:     v.Kind,
			Original: v.Text,
			Action:   model.ActionRemoved,
			Removed:  target,
		})
	}

	for _, v := range failing {
		if done[v.Path] {
			continue
		}
		if cur, alive := track.cur[v.Path]; alive {
			out.uncorrected = append(out.uncorrected, cur)
		}
	}

	prior := *report
	prior.Verdicts = nil
	for _, v := range report.Verdicts {
		cur, alive := track.cur[v.Path]
		if !alive {
			continue
		}
		v.Path = cur
		prior.Verdicts = append(prior.Verdicts, v)
	}
	out.prior = &prior
	out.data = data
	return out
}

// tryEdit applies edit to a copy of data and keeps it only if the result
// still conforms to the record schema
func (c *Corrector) tryEdit(data map[string]any, edit func(tree any) (any, error)) (map[string]any, bool) {
	root, err := edit(treepath.CloneMap(data))
	if err != nil {
		c.log.Debug("edit failed", zap.Error(err))
		return nil, false
	}
	next, ok := root.(map[string]any)
	if !ok {
		return nil, false
	}
	if err := c.validator.Conforms(next); err != nil {
		c.log.Debug("edit rejected by schema", zap.Error(err))
		return nil, false
	}
	return next, true
}
