package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

// FlowConfig holds the wait budgets of the publish protocol. Every
// state has a bounded budget; none blocks forever.
type FlowConfig struct {
	ComposerPolls       int
	ComposerInterval    time.Duration
	EditorReadyPolls    int
	EditorReadyInterval time.Duration
	GenerationPolls     int
	GenerationInterval  time.Duration
	ConfirmPolls        int
	ConfirmInterval     time.Duration
	ConfirmMinPolls     int
	SettleDelay         time.Duration
}

func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		ComposerPolls:       15,
		ComposerInterval:    time.Second,
		EditorReadyPolls:    30,
		EditorReadyInterval: time.Second,
		GenerationPolls:     30,
		GenerationInterval:  2 * time.Second,
		ConfirmPolls:        20,
		ConfirmInterval:     500 * time.Millisecond,
		ConfirmMinPolls:     3,
		SettleDelay:         1500 * time.Millisecond,
	}
}

// PublishFlow executes the publish protocol against a borrowed session:
// OpenComposer, AcquireMedia, AwaitEditorReady, SetTitle, SetBody,
// AttachCatalogItem, Submit, AwaitConfirmation. The states are strictly
// ordered; there are no backward transitions.
type PublishFlow struct {
	clock  ports.Clock
	logger *slog.Logger
	cfg    FlowConfig
}

func NewPublishFlow(clock ports.Clock, logger *slog.Logger, cfg FlowConfig) *PublishFlow {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishFlow{clock: clock, logger: logger, cfg: cfg}
}

// Run performs one publish attempt for the task. The returned result is
// populated even on failure so the orchestrator can account for it.
func (f *PublishFlow) Run(ctx context.Context, session ports.Session, task domain.Task, media domain.MediaSet) (domain.AttemptResult, error) {
	start := f.clock.Now()
	result := domain.AttemptResult{
		AttemptID: uuid.NewString(),
		TaskID:    task.ID,
	}
	finish := func(err error) (domain.AttemptResult, error) {
		result.Duration = f.clock.Now().Sub(start)
		if err != nil {
			result.ErrorClass = domain.Classify(err)
			result.ErrorReason = domain.RedactReason(err)
		}
		return result, err
	}

	if err := f.openComposer(ctx, session); err != nil {
		return finish(fmt.Errorf("open composer: %w", err))
	}
	if err := f.acquireMedia(ctx, session, task, media); err != nil {
		return finish(fmt.Errorf("acquire media: %w", err))
	}
	if err := f.awaitEditorReady(ctx, session); err != nil {
		return finish(fmt.Errorf("await editor: %w", err))
	}

	mismatch, err := f.setTitle(ctx, session, task)
	if err != nil {
		return finish(fmt.Errorf("set title: %w", err))
	}
	result.TitleMismatch = mismatch

	if err := f.setBody(ctx, session, task.Body); err != nil {
		return finish(fmt.Errorf("set body: %w", err))
	}

	if task.CatalogItemID != "" {
		// Secondary enrichment: failure here is logged and swallowed,
		// the publish itself proceeds without the attachment.
		if err := f.attachCatalogItem(ctx, session, task.CatalogItemID); err != nil {
			f.logger.Warn("catalog item attach failed", "task", task.ID, "catalog_item", task.CatalogItemID, "error", err)
		}
	}

	if err := session.Act(ctx, ports.Action{Kind: ports.ActClick, Target: ports.AffordanceComposerSubmit}); err != nil {
		return finish(fmt.Errorf("submit: %w", err))
	}

	outcome, artifact, err := f.awaitConfirmation(ctx, session)
	result.Confirmation = outcome
	result.ArtifactRef = artifact
	if err != nil {
		return finish(fmt.Errorf("confirm publish: %w", err))
	}

	result.Success = true
	return finish(nil)
}

func (f *PublishFlow) openComposer(ctx context.Context, session ports.Session) error {
	if err := session.Navigate(ctx, ports.TargetComposer); err != nil {
		return err
	}
	return f.pollPresent(ctx, session, ports.AffordanceComposerUpload, f.cfg.ComposerPolls, f.cfg.ComposerInterval)
}

func (f *PublishFlow) acquireMedia(ctx context.Context, session ports.Session, task domain.Task, media domain.MediaSet) error {
	if media.UseGeneration {
		return f.runGeneration(ctx, session, task.Title)
	}
	if len(media.Files) == 0 {
		return domain.ErrMediaUnresolved
	}
	return session.Act(ctx, ports.Action{
		Kind:   ports.ActAttachFiles,
		Target: ports.AffordanceComposerUpload,
		Files:  media.Files,
	})
}

// runGeneration drives the platform's built-in text-to-image facility:
// the title text seeds the generator, then we poll for its ready
// signal.
func (f *PublishFlow) runGeneration(ctx context.Context, session ports.Session, title string) error {
	steps := []ports.Action{
		{Kind: ports.ActClick, Target: ports.AffordanceGeneratorOpen},
		{Kind: ports.ActFill, Target: ports.AffordanceGeneratorPrompt, Value: title},
		{Kind: ports.ActClick, Target: ports.AffordanceGeneratorStart},
	}
	for _, step := range steps {
		if err := session.Act(ctx, step); err != nil {
			return err
		}
	}
	if err := f.pollPresent(ctx, session, ports.AffordanceGeneratorReady, f.cfg.GenerationPolls, f.cfg.GenerationInterval); err != nil {
		return fmt.Errorf("generation did not finish: %w", err)
	}
	return nil
}

func (f *PublishFlow) awaitEditorReady(ctx context.Context, session ports.Session) error {
	for i := 0; i < f.cfg.EditorReadyPolls; i++ {
		obs, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbePresent, Target: ports.AffordanceEditorTitle})
		if err != nil {
			return err
		}
		if obs.Present {
			return nil
		}

		notice, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbeText, Target: ports.AffordanceNoticeError})
		if err != nil {
			return err
		}
		if notice.Present {
			return fmt.Errorf("upload rejected: %s", notice.Value)
		}

		if err := f.clock.Sleep(ctx, f.cfg.EditorReadyInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("editor not ready after %d polls", f.cfg.EditorReadyPolls)
}

// setTitle applies the truncation policy, writes the field, and
// verifies it by reading back. On mismatch it retries once with the
// slower keystroke strategy; a second mismatch is reported, not fatal.
func (f *PublishFlow) setTitle(ctx context.Context, session ports.Session, task domain.Task) (bool, error) {
	title := domain.TruncateTitle(task.Title)
	if title != task.Title {
		f.logger.Info("title truncated", "task", task.ID, "length", domain.TextLength(title))
	}

	strategies := []ports.ActionKind{ports.ActFill, ports.ActType}
	for _, strategy := range strategies {
		if err := session.Act(ctx, ports.Action{Kind: ports.ActClick, Target: ports.AffordanceEditorTitle}); err != nil {
			return false, err
		}
		if err := session.Act(ctx, ports.Action{Kind: strategy, Target: ports.AffordanceEditorTitle, Value: title}); err != nil {
			return false, err
		}

		obs, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbeText, Target: ports.AffordanceEditorTitle})
		if err != nil {
			return false, err
		}
		if obs.Value == title {
			return false, nil
		}
		f.logger.Warn("title readback mismatch", "task", task.ID, "strategy", strategy)
	}
	return true, nil
}

// setBody types the tokenized body in order. Tag segments wait for the
// suggestion affordance and pick the first entry when it shows up;
// otherwise the literal text stands.
func (f *PublishFlow) setBody(ctx context.Context, session ports.Session, body string) error {
	if err := session.Act(ctx, ports.Action{Kind: ports.ActClick, Target: ports.AffordanceEditorBody}); err != nil {
		return err
	}

	for _, segment := range domain.TokenizeBody(body) {
		if err := session.Act(ctx, ports.Action{Kind: ports.ActType, Target: ports.AffordanceEditorBody, Value: segment.Text}); err != nil {
			return err
		}
		if !segment.IsTag {
			continue
		}

		if err := f.clock.Sleep(ctx, f.cfg.SettleDelay); err != nil {
			return err
		}
		obs, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbePresent, Target: ports.AffordanceTopicSuggestion})
		if err != nil {
			return err
		}
		if obs.Present {
			if err := session.Act(ctx, ports.Action{Kind: ports.ActClick, Target: ports.AffordanceTopicSuggestion}); err != nil {
				return err
			}
			if err := session.Act(ctx, ports.Action{Kind: ports.ActType, Target: ports.AffordanceEditorBody, Value: " "}); err != nil {
				return err
			}
		}
	}
	return nil
}

// pollPresent waits for an affordance to appear, one observation per
// interval, up to the poll budget.
func (f *PublishFlow) pollPresent(ctx context.Context, session ports.Session, target string, polls int, interval time.Duration) error {
	for i := 0; i < polls; i++ {
		obs, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbePresent, Target: target})
		if err != nil {
			return err
		}
		if obs.Present {
			return nil
		}
		if err := f.clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s not present after %d polls", target, polls)
}

func (f *PublishFlow) attachCatalogItem(ctx context.Context, session ports.Session, catalogItemID string) error {
	if err := session.Act(ctx, ports.Action{Kind: ports.ActClick, Target: ports.AffordanceCatalogOpen}); err != nil {
		return err
	}
	if err := session.Act(ctx, ports.Action{Kind: ports.ActFill, Target: ports.AffordanceCatalogSearch, Value: catalogItemID}); err != nil {
		return err
	}
	if err := session.Act(ctx, ports.Action{Kind: ports.ActPress, Target: ports.AffordanceCatalogSearch, Value: "enter"}); err != nil {
		return err
	}
	if err := f.clock.Sleep(ctx, f.cfg.SettleDelay); err != nil {
		return err
	}

	obs, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbePresent, Target: ports.AffordanceCatalogFirstItem})
	if err != nil {
		return err
	}
	if !obs.Present {
		return fmt.Errorf("no catalog result for %s", catalogItemID)
	}
	if err := session.Act(ctx, ports.Action{Kind: ports.ActClick, Target: ports.AffordanceCatalogFirstItem}); err != nil {
		return err
	}
	return session.Act(ctx, ports.Action{Kind: ports.ActClick, Target: ports.AffordanceCatalogConfirm})
}

// awaitConfirmation polls the weak signals the platform leaves behind
// after submit. Navigation or a success notice confirms; an error
// notice denies; submit-affordance disappearance after a minimum number
// of polls, or an exhausted budget, is Ambiguous.
func (f *PublishFlow) awaitConfirmation(ctx context.Context, session ports.Session) (domain.ConfirmationOutcome, string, error) {
	for i := 1; i <= f.cfg.ConfirmPolls; i++ {
		location, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbeText, Target: ports.AffordanceSuccessLocation})
		if err != nil {
			return domain.ConfirmationAmbiguous, "", err
		}
		if location.Present {
			return domain.ConfirmationConfirmed, location.Value, nil
		}

		notice, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbePresent, Target: ports.AffordanceNoticeSuccess})
		if err != nil {
			return domain.ConfirmationAmbiguous, "", err
		}
		if notice.Present {
			return domain.ConfirmationConfirmed, "", nil
		}

		failure, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbeText, Target: ports.AffordanceNoticeError})
		if err != nil {
			return domain.ConfirmationAmbiguous, "", err
		}
		if failure.Present {
			return domain.ConfirmationDenied, "", fmt.Errorf("platform rejected publish: %s", failure.Value)
		}

		if i >= f.cfg.ConfirmMinPolls {
			submit, err := session.Observe(ctx, ports.Probe{Kind: ports.ProbePresent, Target: ports.AffordanceComposerSubmit})
			if err != nil {
				return domain.ConfirmationAmbiguous, "", err
			}
			if !submit.Present {
				return domain.ConfirmationAmbiguous, "", nil
			}
		}

		if err := f.clock.Sleep(ctx, f.cfg.ConfirmInterval); err != nil {
			return domain.ConfirmationAmbiguous, "", err
		}
	}
	return domain.ConfirmationAmbiguous, "", nil
}
