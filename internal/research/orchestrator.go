// Package research runs the iterative deep-research loop: plan, search,
// fetch, judge, refine, and finally report. The orchestrator owns all
// session mutation; parallelism happens only inside the link fan-out,
// bounded by the fetch scheduler.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/deepresearch/internal/llm"
	"github.com/hyperifyio/deepresearch/internal/message"
	"github.com/hyperifyio/deepresearch/internal/search"
	"github.com/hyperifyio/deepresearch/internal/session"
)

var thinkRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes reasoning spans for internal control flow. The raw
// text, spans included, is what goes out on the wire.
func StripThink(s string) string {
	return strings.TrimSpace(thinkRE.ReplaceAllString(s, ""))
}

// PageFetcher retrieves one URL as distilled text. Error conditions come
// back as fallback strings, never as a Go error.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) string
}

// SessionStore is the persistence surface the orchestrator needs. Save
// updates the session document; Snapshot also records a history entry.
type SessionStore interface {
	Save(ctx context.Context, sess *session.Session) error
	Snapshot(ctx context.Context, sess *session.Session, iteration int) error
}

// Orchestrator wires the research loop together. It is logically
// single-threaded: only the link fan-out runs concurrent goroutines, and
// their results are folded back in on the main loop.
type Orchestrator struct {
	Provider llm.Provider
	Searcher search.Searcher
	Fetcher  PageFetcher
	Store    SessionStore

	DefaultModel string
	ReasonModel  string
	DefaultCtx   int
	ReasonCtx    int

	// MaxResults caps links per search query when the request does not
	// carry its own max_search_items.
	MaxResults int

	// OperationWaitTime is an optional pause between iterations.
	OperationWaitTime time.Duration

	// VerboseWebParse emits extracted-context previews into the stream.
	VerboseWebParse bool

	// EventBuffer bounds the progress channel. Zero means 64.
	EventBuffer int

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

func (o *Orchestrator) clock() func() time.Time {
	if o.now != nil {
		return o.now
	}
	return time.Now
}

func (o *Orchestrator) pause(ctx context.Context, d time.Duration) {
	if o.sleep != nil {
		o.sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Run executes the research loop for an already-persisted session and
// returns a bounded channel of content chunks. The channel closes when
// the run reaches a terminal state; the caller frames the chunks for the
// wire and appends the done sentinel itself.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, msgs message.List) <-chan string {
	size := o.EventBuffer
	if size <= 0 {
		size = 64
	}
	out := make(chan string, size)
	go func() {
		defer close(out)
		o.run(ctx, sess, msgs, out)
	}()
	return out
}

// emit delivers one chunk, giving up when the client is gone.
func (o *Orchestrator) emit(ctx context.Context, out chan<- string, text string) bool {
	select {
	case out <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

// persist saves without a history entry. Storage failures are logged and
// the run continues in memory.
func (o *Orchestrator) persist(ctx context.Context, sess *session.Session) {
	if err := o.Store.Save(ctx, sess); err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("session save failed, continuing in memory")
	}
}

func (o *Orchestrator) snapshot(ctx context.Context, sess *session.Session, iteration int) error {
	if err := o.Store.Snapshot(ctx, sess, iteration); err != nil {
		log.Warn().Err(err).Str("session_id", sess.SessionID).Int("iteration", iteration).
			Msg("session snapshot failed")
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, sess *session.Session, msgs message.List, out chan<- string) {
	maxIterations := sess.Settings.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 15
	}
	userQuery := sess.UserQuery

	fail := func(detail string) {
		o.finishError(ctx, sess, out, detail)
	}

	// S_PLAN: skipped when the request seeded an initial plan.
	currentPlan := StripThink(sess.AggregatedData.LastPlan)
	if currentPlan == "" {
		if !o.emit(ctx, out, "<think>Generating initial research plan...</think>") {
			o.finishInterrupted(ctx, sess)
			return
		}
		planRaw, err := o.generateInitialPlan(ctx, sess, userQuery)
		if err != nil || strings.TrimSpace(planRaw) == "" {
			if err != nil {
				log.Warn().Err(err).Msg("initial plan generation failed")
			}
			o.emit(ctx, out, "Error: Failed to generate initial research plan.")
			fail("Error: Failed to generate initial research plan.")
			return
		}
		o.emit(ctx, out, planRaw)
		sess.AggregatedData.LastPlan = planRaw
		o.persist(ctx, sess)
		currentPlan = StripThink(planRaw)
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if ctx.Err() != nil {
			o.finishInterrupted(ctx, sess)
			return
		}
		label := fmt.Sprintf("Iteration %d/%d", iteration+1, maxIterations)
		if !o.emit(ctx, out, fmt.Sprintf("<think>%s. Current plan:\n%s</think>", label, currentPlan)) {
			o.finishInterrupted(ctx, sess)
			return
		}
		sess.CurrentIteration = iteration
		sess.AggregatedData.CurrentIterationData = map[string]any{
			"number": iteration + 1,
			"status": "starting plan",
		}
		o.persist(ctx, sess)

		o.emit(ctx, out, fmt.Sprintf("<think>%s: Generating search queries...</think>", label))
		queries, err := o.generateSearchQueries(ctx, sess, currentPlan)
		if err != nil {
			log.Warn().Err(err).Msg("search query generation failed")
		}
		if queries.Done || len(queries.Items) == 0 {
			o.emit(ctx, out, fmt.Sprintf(
				"<think>%s: No new search queries generated or <done> received. Moving to judge/report phase.</think>",
				label))
			_ = o.snapshot(ctx, sess, iteration)
			break
		}

		queriesJSON := mustJSON(queries.Items)
		o.emit(ctx, out, fmt.Sprintf(
			"<think>%s: Generated search queries: %s</think>\nGenerated search queries: %s",
			label, queriesJSON, queriesJSON))
		sess.AggregatedData.AllSearchQueries = append(sess.AggregatedData.AllSearchQueries, queries.Items...)
		sess.AggregatedData.CurrentIterationData["search_queries"] = queries.Items
		o.persist(ctx, sess)

		// URL dedup is scoped to this iteration: the first query to
		// surface a link owns it.
		seen := make(map[string]bool)
		for qi, query := range queries.Items {
			if ctx.Err() != nil {
				o.finishInterrupted(ctx, sess)
				return
			}
			queryLabel := fmt.Sprintf("Query %d/%d ('%s')", qi+1, len(queries.Items), query)
			o.emit(ctx, out, fmt.Sprintf("<think>%s: Performing search for %s...</think>", label, queryLabel))
			sess.AggregatedData.CurrentIterationData["current_query"] = query
			o.persist(ctx, sess)

			links, err := o.Searcher.Search(ctx, query)
			if err != nil {
				log.Warn().Err(err).Str("query", query).Msg("search failed")
			}
			links = o.capLinks(sess, links)
			fresh := links[:0:0]
			for _, link := range links {
				if !seen[link] {
					seen[link] = true
					fresh = append(fresh, link)
				}
			}
			if len(fresh) == 0 {
				o.emit(ctx, out, fmt.Sprintf("No links found for %s.", queryLabel))
				continue
			}

			o.emit(ctx, out, fmt.Sprintf(
				"<think>%s: Found %d links for %s. Processing them...</think>\nFound %d links for '%s': %s",
				label, len(fresh), queryLabel, len(fresh), query, mustJSON(fresh)))
			sess.AggregatedData.CurrentIterationData["found_links"] = fresh
			o.persist(ctx, sess)

			o.processLinks(ctx, sess, out, label, queryLabel, query, fresh)
		}

		o.emit(ctx, out, fmt.Sprintf("<think>%s: Judging search results and planning next steps...</think>", label))
		sess.AggregatedData.CurrentIterationData["status"] = "judging results"
		o.persist(ctx, sess)

		if iteration+1 >= maxIterations {
			_ = o.snapshot(ctx, sess, iteration)
			break
		}

		combined := strings.Join(sess.AggregatedData.AggregatedContexts, "\n")
		nextPlanRaw, err := o.judgeAndRefinePlan(ctx, sess, userQuery, currentPlan, combined)
		if err != nil || strings.TrimSpace(nextPlanRaw) == "" {
			if err != nil {
				log.Warn().Err(err).Msg("plan refinement failed")
			}
			o.emit(ctx, out, fmt.Sprintf("<think>%s: Failed to get next plan. Ending research.</think>", label))
			_ = o.snapshot(ctx, sess, iteration)
			break
		}
		o.emit(ctx, out, nextPlanRaw)
		currentPlan = StripThink(nextPlanRaw)
		sess.AggregatedData.LastPlan = nextPlanRaw
		sess.AggregatedData.CurrentIterationData["next_plan"] = nextPlanRaw
		_ = o.snapshot(ctx, sess, iteration)

		if currentPlan == llm.DoneSentinel {
			o.emit(ctx, out, fmt.Sprintf("<think>%s: Next plan is <done>. Concluding research phase.</think>", label))
			break
		}

		if o.OperationWaitTime > 0 {
			o.pause(ctx, o.OperationWaitTime)
		}
	}

	if ctx.Err() != nil {
		o.finishInterrupted(ctx, sess)
		return
	}

	// S_REPORT.
	o.emit(ctx, out, "<think>Research phase concluded. Generating final report...</think>")
	sess.AggregatedData.CurrentIterationData = map[string]any{"status": "generating report"}
	o.persist(ctx, sess)

	planForReport := sess.AggregatedData.LastPlan
	report, err := o.generateFinalReport(ctx, sess, planForReport)
	if err != nil {
		log.Warn().Err(err).Msg("final report generation failed")
		report = ""
	}
	if len(report) < 200 {
		report = o.reportFallbackEnvelope(report, userQuery, sess.AggregatedData.AggregatedContexts)
	}
	sess.AggregatedData.FinalReportContent = report

	now := o.clock()().UTC()
	sess.Status = session.StatusCompleted
	sess.EndTime = &now
	sess.CurrentIteration = maxIterations
	if err := o.snapshot(context.WithoutCancel(ctx), sess, maxIterations); err != nil {
		o.finishError(ctx, sess, out, fmt.Sprintf("An error occurred: %v", err))
		return
	}
	o.emit(ctx, out, report)
	o.emit(ctx, out, "Research session completed.")
}

// capLinks applies the per-query result cap from the request settings,
// falling back to the configured default.
func (o *Orchestrator) capLinks(sess *session.Session, links []string) []string {
	limit := sess.Settings.MaxSearchItems
	if limit <= 0 {
		limit = o.MaxResults
	}
	if limit > 0 && len(links) > limit {
		return links[:limit]
	}
	return links
}

type linkOutcome struct {
	link    string
	status  []string
	context string
}

// processLinks fans out over the deduplicated link set. Task-level
// parallelism is unbounded here; the fetch scheduler enforces the real
// concurrency, per-domain, and cooldown disciplines. Each link's context
// is folded into the aggregate as its task completes.
func (o *Orchestrator) processLinks(ctx context.Context, sess *session.Session, out chan<- string, label, queryLabel, query string, links []string) {
	results := make(chan linkOutcome, len(links))
	g, gctx := errgroup.WithContext(ctx)
	for li, link := range links {
		o.emit(ctx, out, fmt.Sprintf("<think>%s: Processing Link %d/%d (%s) for %s...</think>",
			label, li+1, len(links), link, queryLabel))
		g.Go(func() error {
			results <- o.processLink(gctx, sess, query, link)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for res := range results {
		for _, status := range res.status {
			o.emit(ctx, out, status)
		}
		if res.context == "" {
			continue
		}
		o.emit(ctx, out, res.context)
		sess.AggregatedData.AggregatedContexts = append(sess.AggregatedData.AggregatedContexts, res.context)
		o.persist(ctx, sess)
	}
}

// processLink fetches one page, judges its usefulness, and extracts the
// relevant context. Any failure makes the link contribute nothing; it
// never aborts the iteration.
func (o *Orchestrator) processLink(ctx context.Context, sess *session.Session, query, link string) linkOutcome {
	res := linkOutcome{link: link}
	res.status = append(res.status, fmt.Sprintf("Fetching content from: %s\n\n", link))

	pageText := o.Fetcher.Fetch(ctx, link)
	if strings.TrimSpace(pageText) == "" {
		log.Warn().Str("link", link).Msg("no content fetched from link")
		return res
	}

	useful := o.isPageUseful(ctx, sess, pageText)
	verdict := "No"
	if useful {
		verdict = "Yes"
	}
	res.status = append(res.status, fmt.Sprintf("Page usefulness for %s: %s\n\n", link, verdict))
	if !useful {
		return res
	}

	extracted := o.extractContext(ctx, sess, query, pageText)
	if extracted == "" {
		log.Debug().Str("link", link).Msg("no context extracted from useful page")
		return res
	}
	if o.VerboseWebParse {
		res.status = append(res.status, fmt.Sprintf(
			"Extracted context from %s (first 200 chars): %s\n\n", link, truncate(extracted, 200)))
	}
	res.context = session.FormatContext(link, extracted)
	return res
}

func (o *Orchestrator) finishInterrupted(ctx context.Context, sess *session.Session) {
	now := o.clock()().UTC()
	sess.Status = session.StatusInterrupted
	sess.EndTime = &now
	iteration := sess.CurrentIteration
	if iteration < 0 {
		iteration = 0
	}
	_ = o.snapshot(context.WithoutCancel(ctx), sess, iteration)
}

func (o *Orchestrator) finishError(ctx context.Context, sess *session.Session, out chan<- string, detail string) {
	now := o.clock()().UTC()
	sess.Status = session.StatusError
	if sess.EndTime == nil {
		sess.EndTime = &now
	}
	sess.LastError = detail
	_ = o.snapshot(context.WithoutCancel(ctx), sess, -1)
	o.emit(ctx, out, fmt.Sprintf("<think>Error encountered: %s</think>\n%s", detail, detail))
}

// reportFallbackEnvelope wraps a missing or too-short report into a
// self-contained retry package the user can paste into another model.
func (o *Orchestrator) reportFallbackEnvelope(report, userQuery string, contexts []string) string {
	var b strings.Builder
	b.WriteString(report)
	b.WriteString("\n\nThese are the writing prompt, please copy it and try again with anothor model")
	b.WriteString("\n\n---\n\n---\n\n")
	b.WriteString(fmt.Sprintf("User Query: %s\n\nGathered Relevant Contexts:\n", userQuery))
	b.WriteString(strings.Join(contexts, "\n\n"))
	b.WriteString("\n\nYou are an expert researcher and report writer. Based on the gathered " +
		"contexts above and the original query, write a comprehensive, " +
		"well-structured, and detailed report that addresses the query " +
		"thoroughly.\n\n---\n\n---")
	return b.String()
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
