package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

func testFlowConfig() FlowConfig {
	return FlowConfig{
		ComposerPolls:       3,
		ComposerInterval:    10 * time.Millisecond,
		EditorReadyPolls:    5,
		EditorReadyInterval: 10 * time.Millisecond,
		GenerationPolls:     5,
		GenerationInterval:  10 * time.Millisecond,
		ConfirmPolls:        6,
		ConfirmInterval:     10 * time.Millisecond,
		ConfirmMinPolls:     3,
		SettleDelay:         10 * time.Millisecond,
	}
}

func newTestFlow() (*PublishFlow, *fakeClock) {
	clock := newFakeClock()
	return NewPublishFlow(clock, nil, testFlowConfig()), clock
}

func TestPublishFlowHappyPath(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = happyObserve

	task := testTask("rec-1", "acct-a", time.Now())
	media := domain.MediaSet{Files: []string{"/media/a.png", "/media/b.png"}}

	result, err := flow.Run(context.Background(), session, task, media)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.ConfirmationConfirmed, result.Confirmation)
	assert.Equal(t, "https://example.com/explore/abc123", result.ArtifactRef)
	assert.NotEmpty(t, result.AttemptID)
	assert.False(t, result.TitleMismatch)

	assert.Equal(t, []string{ports.TargetComposer}, session.navigated)

	attaches := session.actionsOf(ports.ActAttachFiles)
	require.Len(t, attaches, 1)
	assert.Equal(t, media.Files, attaches[0].Files)

	fills := session.actionsOf(ports.ActFill)
	require.NotEmpty(t, fills)
	assert.Equal(t, ports.AffordanceEditorTitle, fills[0].Target)
	assert.Equal(t, task.Title, fills[0].Value)
}

func TestPublishFlowTypesBodySegmentsInOrder(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		if probe.Target == ports.AffordanceTopicSuggestion {
			return ports.Observation{Present: true}, nil
		}
		return happyObserve(probe, call)
	}

	task := testTask("rec-1", "acct-a", time.Now())
	task.Body = "abc #tag1 def#tag2ghi"

	_, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.NoError(t, err)

	var typed []string
	for _, action := range session.actionsOf(ports.ActType) {
		if action.Target == ports.AffordanceEditorBody {
			typed = append(typed, action.Value)
		}
	}
	// Each tag is followed by a suggestion pick and a separating space.
	assert.Equal(t, []string{"abc ", "#tag1", " ", " def", "#tag2ghi", " "}, typed)

	var picks int
	for _, action := range session.actionsOf(ports.ActClick) {
		if action.Target == ports.AffordanceTopicSuggestion {
			picks++
		}
	}
	assert.Equal(t, 2, picks)
}

func TestPublishFlowGenerationMode(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		if probe.Target == ports.AffordanceGeneratorReady {
			// Ready on the second poll.
			return ports.Observation{Present: call >= 2}, nil
		}
		return happyObserve(probe, call)
	}

	task := testTask("rec-1", "acct-a", time.Now())
	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{UseGeneration: true})
	require.NoError(t, err)
	assert.True(t, result.Success)

	fills := session.actionsOf(ports.ActFill)
	require.NotEmpty(t, fills)
	assert.Equal(t, ports.AffordanceGeneratorPrompt, fills[0].Target)
	assert.Equal(t, task.Title, fills[0].Value)
	assert.Empty(t, session.actionsOf(ports.ActAttachFiles))
}

func TestPublishFlowTitleMismatchIsNotFatal(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		if probe.Kind == ports.ProbeText && probe.Target == ports.AffordanceEditorTitle {
			return ports.Observation{Present: true, Value: "something else"}, nil
		}
		return happyObserve(probe, call)
	}

	task := testTask("rec-1", "acct-a", time.Now())
	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.TitleMismatch)

	// Both write strategies were tried before giving up on the readback.
	var titleWrites []ports.ActionKind
	for _, action := range session.actions {
		if action.Target == ports.AffordanceEditorTitle && action.Kind != ports.ActClick {
			titleWrites = append(titleWrites, action.Kind)
		}
	}
	assert.Equal(t, []ports.ActionKind{ports.ActFill, ports.ActType}, titleWrites)
}

func TestPublishFlowDeniedOnErrorNotice(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		switch probe.Target {
		case ports.AffordanceSuccessLocation, ports.AffordanceNoticeSuccess:
			return ports.Observation{}, nil
		case ports.AffordanceNoticeError:
			return ports.Observation{Present: true, Value: "content violates community policy"}, nil
		}
		return happyObserve(probe, call)
	}

	task := testTask("rec-1", "acct-a", time.Now())
	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.Error(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, domain.ConfirmationDenied, result.Confirmation)
	assert.Equal(t, domain.ErrorFatal, result.ErrorClass)
}

func TestPublishFlowAmbiguousWhenSubmitDisappears(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		switch probe.Target {
		case ports.AffordanceSuccessLocation, ports.AffordanceNoticeSuccess, ports.AffordanceNoticeError:
			return ports.Observation{}, nil
		case ports.AffordanceComposerSubmit:
			return ports.Observation{Present: false}, nil
		}
		return happyObserve(probe, call)
	}

	task := testTask("rec-1", "acct-a", time.Now())
	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.ConfirmationAmbiguous, result.Confirmation)
	assert.Empty(t, result.ArtifactRef)
	// Disappearance only counts after the minimum poll floor.
	assert.GreaterOrEqual(t, session.calls["present:"+ports.AffordanceComposerSubmit], 1)
	assert.GreaterOrEqual(t, session.calls["text:"+ports.AffordanceSuccessLocation], testFlowConfig().ConfirmMinPolls)
}

func TestPublishFlowAmbiguousOnBudgetExhaustion(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		switch probe.Target {
		case ports.AffordanceSuccessLocation, ports.AffordanceNoticeSuccess, ports.AffordanceNoticeError:
			return ports.Observation{}, nil
		case ports.AffordanceComposerSubmit:
			return ports.Observation{Present: true}, nil
		}
		return happyObserve(probe, call)
	}

	task := testTask("rec-1", "acct-a", time.Now())
	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.ConfirmationAmbiguous, result.Confirmation)
	assert.Equal(t, testFlowConfig().ConfirmPolls, session.calls["text:"+ports.AffordanceSuccessLocation])
}

func TestPublishFlowComposerNeverAppears(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(ports.Probe, int) (ports.Observation, error) {
		return ports.Observation{}, nil
	}

	task := testTask("rec-1", "acct-a", time.Now())
	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, err.Error(), "open composer")

	// The upload affordance is observed once per poll until the budget
	// runs out, and nothing is typed into a composer that never came up.
	assert.Equal(t, testFlowConfig().ComposerPolls, session.calls["present:"+ports.AffordanceComposerUpload])
	assert.Empty(t, session.actionsOf(ports.ActFill))
}

func TestPublishFlowEditorNeverReady(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		switch {
		case probe.Target == ports.AffordanceComposerUpload:
			return ports.Observation{Present: true}, nil
		case probe.Target == ports.AffordanceEditorTitle:
			return ports.Observation{}, nil
		}
		return ports.Observation{}, nil
	}

	task := testTask("rec-1", "acct-a", time.Now())
	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, err.Error(), "editor not ready")
}

func TestPublishFlowUploadRejected(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		switch probe.Target {
		case ports.AffordanceComposerUpload:
			return ports.Observation{Present: true}, nil
		case ports.AffordanceEditorTitle:
			return ports.Observation{}, nil
		case ports.AffordanceNoticeError:
			return ports.Observation{Present: true, Value: "image format not supported"}, nil
		}
		return ports.Observation{}, nil
	}

	task := testTask("rec-1", "acct-a", time.Now())
	_, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.bmp"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload rejected")
}

func TestPublishFlowCatalogAttachFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		if probe.Target == ports.AffordanceCatalogFirstItem {
			return ports.Observation{Present: false}, nil
		}
		return happyObserve(probe, call)
	}

	task := testTask("rec-1", "acct-a", time.Now())
	task.CatalogItemID = "SKU-42"

	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.NoError(t, err)
	assert.True(t, result.Success)

	presses := session.actionsOf(ports.ActPress)
	require.Len(t, presses, 1)
	assert.Equal(t, ports.AffordanceCatalogSearch, presses[0].Target)
}

func TestPublishFlowTruncatesLongTitle(t *testing.T) {
	t.Parallel()

	long := "an unreasonably long title that keeps going"
	want := domain.TruncateTitle(long)

	flow, _ := newTestFlow()
	session := newFakeSession()
	session.observeFn = func(probe ports.Probe, call int) (ports.Observation, error) {
		if probe.Kind == ports.ProbeText && probe.Target == ports.AffordanceEditorTitle {
			return ports.Observation{Present: true, Value: want}, nil
		}
		return happyObserve(probe, call)
	}

	task := testTask("rec-1", "acct-a", time.Now())
	task.Title = long

	result, err := flow.Run(context.Background(), session, task, domain.MediaSet{Files: []string{"/media/a.png"}})
	require.NoError(t, err)
	assert.False(t, result.TitleMismatch)

	fills := session.actionsOf(ports.ActFill)
	require.NotEmpty(t, fills)
	assert.Equal(t, want, fills[0].Value)
	assert.Equal(t, domain.TitleLimit, domain.TextLength(fills[0].Value))
}
