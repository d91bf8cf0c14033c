// Package assessor scores threat events, preferring an LLM reasoning service
// and degrading to a deterministic rule when it is unavailable.
package assessor

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/metrics"
	"github.com/Wikid82/argus/backend/internal/models"
)

const (
	ProviderName  = "ai_engine"
	ModelLLM      = "llm"
	ModelFallback = "rule_fallback"
	FallbackRule  = "rule_engine"

	blockThreshold = 80
)

// degradeMarkers flag a reason text produced by a reasoning service that
// itself fell back to rules.
var degradeMarkers = []string{"规则降级", "AI服务", "(rule fallback)"}

// Provenance records how a score was produced. It is stored on the event under
// extra_json.ai_assessment.
type Provenance struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Degraded      bool   `json:"degraded"`
	AssessedAt    string `json:"assessed_at"`
	Fallback      string `json:"fallback,omitempty"`
	DegradeReason string `json:"degrade_reason,omitempty"`
}

// Assessment is the final, bounded score of one event.
type Assessment struct {
	Score         int
	Reason        string
	ActionSuggest string
	Provenance    Provenance
}

// Assessor combines a Reasoner with the rule fallback.
type Assessor struct {
	reasoner Reasoner
	now      func() time.Time
}

// New returns an Assessor. A nil reasoner means every assessment is rule based.
func New(r Reasoner) *Assessor {
	return &Assessor{reasoner: r, now: time.Now}
}

// RuleAssess is the deterministic fallback: 50 plus 10 per attack, capped at 100.
func RuleAssess(ip string, attackCount int) Assessment {
	if attackCount < 1 {
		attackCount = 1
	}
	score := clamp(50 + attackCount*10)
	action := models.ActionMonitor
	if score >= blockThreshold {
		action = models.ActionBlock
	}
	return Assessment{
		Score:         score,
		Reason:        "detected " + strconv.Itoa(attackCount) + " attacks from " + ip + " (rule fallback)",
		ActionSuggest: action,
	}
}

// Assess scores one event. It never fails: any reasoning problem yields the
// rule result with the provenance marked degraded.
func (a *Assessor) Assess(ctx context.Context, ip, label string, attackCount int) Assessment {
	if strings.TrimSpace(ip) == "" {
		ip = "unknown"
	}
	if strings.TrimSpace(label) == "" {
		label = "unknown"
	}
	if attackCount < 1 {
		attackCount = 1
	}

	fallback := RuleAssess(ip, attackCount)
	model := ModelLLM
	degraded := false
	degradeReason := ""

	var op *Opinion
	if a.reasoner == nil {
		degradeReason = "reasoner_not_configured"
	} else {
		var err error
		op, err = a.reasoner.Assess(ctx, Request{IP: ip, Label: label, AttackCount: attackCount})
		if err != nil {
			op = nil
			degradeReason = err.Error()
		} else if op == nil {
			degradeReason = "ai_result_empty"
		}
	}

	if op == nil {
		op = &Opinion{Score: fallback.Score, Reason: fallback.Reason, ActionSuggest: fallback.ActionSuggest}
		degraded = true
	}
	if op.Degraded {
		degraded = true
	}
	if op.Model != "" {
		model = op.Model
	}

	reason := strings.TrimSpace(op.Reason)
	for _, m := range degradeMarkers {
		if reason != "" && strings.Contains(reason, m) {
			degraded = true
			break
		}
	}
	if degraded && model == ModelLLM {
		model = ModelFallback
	}
	if reason == "" {
		reason = fallback.Reason
	}

	action := op.ActionSuggest
	if action == "" {
		action = fallback.ActionSuggest
	}

	prov := Provenance{
		Provider:   ProviderName,
		Model:      model,
		Degraded:   degraded,
		AssessedAt: a.now().UTC().Format(time.RFC3339),
	}
	if degraded {
		prov.Fallback = FallbackRule
		prov.DegradeReason = degradeReason
		logger.Log().WithField("ip", ip).WithField("reason", degradeReason).Debug("risk assessment degraded to rules")
	}
	metrics.IncAssessment(model, degraded)

	return Assessment{
		Score:         clampScore(op.Score, fallback.Score),
		Reason:        reason,
		ActionSuggest: NormalizeAction(action),
		Provenance:    prov,
	}
}

// NormalizeAction maps free-form suggestions onto BLOCK or MONITOR.
func NormalizeAction(v string) string {
	if strings.ToUpper(strings.TrimSpace(v)) == models.ActionBlock {
		return models.ActionBlock
	}
	return models.ActionMonitor
}

func clampScore(v interface{}, def int) int {
	score := def
	switch n := v.(type) {
	case int:
		score = n
	case float64:
		if !math.IsNaN(n) && !math.IsInf(n, 0) {
			score = int(n)
		}
	case json.Number:
		if f, err := n.Float64(); err == nil {
			score = int(f)
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			score = int(f)
		}
	}
	return clamp(score)
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
