package domain

type SourceMode string

const (
	SourceCatalogDirectory   SourceMode = "catalog_directory"
	SourceExternalAttachment SourceMode = "external_attachment"
	SourceGeneratedFromText  SourceMode = "generated_from_text"
)

// MediaSet is the resolved media plan for one task: either a concrete
// ordered file set, or an instruction to drive the platform's built-in
// generation facility.
type MediaSet struct {
	Files         []string
	UseGeneration bool
}
