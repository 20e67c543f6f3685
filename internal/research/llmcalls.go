package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperifyio/deepresearch/internal/llm"
	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/session"
)

// Model routing: planning and judging go to the reasoning model; query
// generation, extraction, and report writing go to the default model.
// Request settings may override either identifier.

func (o *Orchestrator) reasonOpts(sess *session.Session) llm.Options {
	model := o.ReasonModel
	if sess.Settings.ReasonModel != "" {
		model = sess.Settings.ReasonModel
	}
	return llm.Options{Model: model, ContextWindow: o.ReasonCtx}
}

func (o *Orchestrator) defaultOpts(sess *session.Session) llm.Options {
	model := o.DefaultModel
	if sess.Settings.DefaultModel != "" {
		model = sess.Settings.DefaultModel
	}
	return llm.Options{Model: model, ContextWindow: o.DefaultCtx}
}

func conversation(system, user string) message.List {
	return message.List{
		{Role: message.RoleSystem, Content: system},
		{Role: message.RoleUser, Content: user},
	}
}

// generateInitialPlan returns the raw plan, reasoning spans included.
func (o *Orchestrator) generateInitialPlan(ctx context.Context, sess *session.Session, userQuery string) (string, error) {
	msgs := conversation(systemSearchGuide,
		fmt.Sprintf("User Query: %s\n\n%s", userQuery, initialSearchPlanPrompt))
	return o.Provider.Generate(ctx, msgs, o.reasonOpts(sess))
}

func (o *Orchestrator) generateSearchQueries(ctx context.Context, sess *session.Session, plan string) (llm.ListResult, error) {
	msgs := conversation(systemResearchPlanner,
		fmt.Sprintf("Research Plan: %s\n\n%s", plan, generateSearchQueriesPrompt))
	return o.Provider.GenerateAndParseList(ctx, msgs, o.defaultOpts(sess))
}

// isPageUseful asks for a bare Yes/No verdict. Anything other than a
// clear yes counts as no.
func (o *Orchestrator) isPageUseful(ctx context.Context, sess *session.Session, pageText string) bool {
	msgs := conversation(systemRelevanceJudge,
		fmt.Sprintf(isPageUsefulPrompt, sess.UserQuery, pageText))
	answer, err := o.Provider.Generate(ctx, msgs, o.reasonOpts(sess))
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}

func (o *Orchestrator) extractContext(ctx context.Context, sess *session.Session, searchQuery, pageText string) string {
	msgs := conversation(systemExtractor,
		fmt.Sprintf(extractContextPrompt, sess.UserQuery, searchQuery, pageText))
	out, err := o.Provider.Generate(ctx, msgs, o.defaultOpts(sess))
	if err != nil {
		return ""
	}
	return out
}

// judgeAndRefinePlan evaluates the accumulated contexts against the
// current plan and returns the raw next plan, or a plan whose stripped
// body is the done sentinel when research should stop.
func (o *Orchestrator) judgeAndRefinePlan(ctx context.Context, sess *session.Session, userQuery, currentPlan, combinedContexts string) (string, error) {
	user := fmt.Sprintf("User Query: %s\nCurrent Plan: %s\nCombined Contexts: %s\n\n%s",
		userQuery, currentPlan, combinedContexts, judgeAndRefinePrompt)
	return o.Provider.Generate(ctx, conversation(systemPlanJudge, user), o.reasonOpts(sess))
}

func (o *Orchestrator) generateFinalReport(ctx context.Context, sess *session.Session, plan string) (string, error) {
	system := systemReportWriter
	if sess.SystemInstruction != "" {
		system += fmt.Sprintf(" There is also some extra system instructions: %s", sess.SystemInstruction)
	}
	user := fmt.Sprintf("User Query: %s\n\nGathered Relevant Contexts:\n%s",
		sess.UserQuery, strings.Join(sess.AggregatedData.AggregatedContexts, "\n"))
	if plan != "" && !strings.HasPrefix(plan, "Error:") {
		user += fmt.Sprintf("\n\nWriting plan from a planning agent:\n%s", plan)
	}
	user += fmt.Sprintf("\n\nWriting Instructions:%s", finalReportPrompt)
	return o.Provider.Generate(ctx, conversation(system, user), o.defaultOpts(sess))
}
