package ports

import (
	"context"

	"github.com/bnema/redpost/internal/domain"
)

// Affordance names the flow observes and acts on. The automation driver
// maps them to whatever the target page currently looks like; the
// orchestration layer never sees a selector.
const (
	AffordanceComposerUpload   = "composer.upload"
	AffordanceComposerSubmit   = "composer.submit"
	AffordanceEditorTitle      = "editor.title"
	AffordanceEditorBody       = "editor.body"
	AffordanceTopicSuggestion  = "editor.topic_suggestion"
	AffordanceGeneratorOpen    = "generator.open"
	AffordanceGeneratorPrompt  = "generator.prompt"
	AffordanceGeneratorStart   = "generator.start"
	AffordanceGeneratorReady   = "generator.ready"
	AffordanceCatalogOpen      = "catalog.open"
	AffordanceCatalogSearch    = "catalog.search"
	AffordanceCatalogFirstItem = "catalog.first_item"
	AffordanceCatalogConfirm   = "catalog.confirm"
	AffordanceNoticeSuccess    = "notice.success"
	AffordanceNoticeError      = "notice.error"
	AffordanceSuccessLocation  = "confirmation.navigation"
	AffordanceLoginChallenge   = "login.challenge"

	TargetComposer = "composer"
)

type ProbeKind string

const (
	ProbePresent ProbeKind = "present"
	ProbeText    ProbeKind = "text"
)

type Probe struct {
	Kind   ProbeKind
	Target string
}

type Observation struct {
	Present bool
	Value   string
}

type ActionKind string

const (
	ActClick       ActionKind = "click"
	ActFill        ActionKind = "fill"
	ActType        ActionKind = "type"
	ActPress       ActionKind = "press"
	ActAttachFiles ActionKind = "attach_files"
)

type Action struct {
	Kind   ActionKind
	Target string
	Value  string
	Files  []string
}

// Session is one authenticated automation context bound to one account
// identity. The publish flow borrows it for a single task and must not
// retain it afterward.
type Session interface {
	Navigate(ctx context.Context, target string) error
	Observe(ctx context.Context, probe Probe) (Observation, error)
	Act(ctx context.Context, action Action) error
	Close(ctx context.Context) error
}

// SessionOpener creates sessions for account identities. Implementations
// are the farm and local browser backends; exclusivity per account is
// the session pool's job, not theirs.
type SessionOpener interface {
	OpenSession(ctx context.Context, account domain.Account) (Session, error)
}

// Connector is the low-level driver capability the backends build on:
// attach to a running browser by its debug endpoint, or launch one on a
// persistent local profile.
type Connector interface {
	Connect(ctx context.Context, debugURL string) (Session, error)
	Launch(ctx context.Context, profileDir string) (Session, error)
}
