package application

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/bnema/redpost/internal/domain"
)

// Extensions the platform accepts for uploads.
var mediaExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// MediaResolver turns a task into an ordered media plan under one of
// the three source modes. Fallback between modes is orchestrator
// policy; the resolver only signals what it found.
type MediaResolver struct {
	fs  afero.Fs
	dir string
}

func NewMediaResolver(fs afero.Fs, dir string) *MediaResolver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &MediaResolver{fs: fs, dir: dir}
}

func (r *MediaResolver) Resolve(task domain.Task, mode domain.SourceMode) (domain.MediaSet, error) {
	switch mode {
	case domain.SourceCatalogDirectory:
		return r.resolveFromDirectory(task)
	case domain.SourceExternalAttachment:
		return r.resolveFromAttachments(task)
	case domain.SourceGeneratedFromText:
		return domain.MediaSet{UseGeneration: true}, nil
	}
	return domain.MediaSet{}, fmt.Errorf("unsupported media source mode %q", mode)
}

// resolveFromDirectory scans the configured directory for files named
// after the task's catalog item id: the id alone, or id[-_]<index>.
// Exact matches come first. Directories selected explicitly are
// authoritative, so an empty result is fatal for the task.
func (r *MediaResolver) resolveFromDirectory(task domain.Task) (domain.MediaSet, error) {
	id := strings.TrimSpace(task.CatalogItemID)
	if id == "" {
		return domain.MediaSet{}, fmt.Errorf("task %s has no catalog item id: %w", task.ID, domain.ErrMediaUnresolved)
	}

	infos, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return domain.MediaSet{}, fmt.Errorf("media directory %s unreadable: %w", r.dir, domain.ErrMediaUnresolved)
	}

	pattern := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(id) + `[-_]\d+$`)

	var exact, indexed []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !allowedExtension(ext) {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		switch {
		case strings.EqualFold(stem, id):
			exact = append(exact, filepath.Join(r.dir, name))
		case pattern.MatchString(stem):
			indexed = append(indexed, filepath.Join(r.dir, name))
		}
	}
	sort.Strings(indexed)

	files := append(exact, indexed...)
	if len(files) == 0 {
		return domain.MediaSet{}, fmt.Errorf("no files for catalog item %s in %s: %w", id, r.dir, domain.ErrMediaUnresolved)
	}
	return domain.MediaSet{Files: files}, nil
}

// resolveFromAttachments uses media references pre-fetched onto the
// task by the record-store collaborator. An empty set is not fatal: the
// caller is expected to re-resolve under the generation mode.
func (r *MediaResolver) resolveFromAttachments(task domain.Task) (domain.MediaSet, error) {
	files := make([]string, 0, len(task.MediaRefs))
	for _, ref := range task.MediaRefs {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		ok, err := afero.Exists(r.fs, ref)
		if err != nil || !ok {
			continue
		}
		files = append(files, ref)
	}
	if len(files) == 0 {
		return domain.MediaSet{}, fmt.Errorf("task %s: %w", task.ID, domain.ErrNoAttachments)
	}
	return domain.MediaSet{Files: files}, nil
}

func allowedExtension(ext string) bool {
	for _, allowed := range mediaExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
