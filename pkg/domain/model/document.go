package model

// DocumentMetadata is the citation metadata of a document chunk
type DocumentMetadata struct {
	Title           string
	Author          string
	Chapter         string
	Themes          []string
	SourceReference string
}

// DocumentChunk is a text chunk yielded by the document-processing collaborator
type DocumentChunk struct {
	Content    string
	SourceFile string
	Index      int
	Metadata   DocumentMetadata
}

// VectorMetadata returns the metadata stored alongside the chunk embedding
func (c *DocumentChunk) VectorMetadata() map[string]any {
	meta := map[string]any{
		MetaContent:         c.Content,
		MetaSourceFile:      c.SourceFile,
		MetaSourceReference: c.Metadata.SourceReference,
		MetaThemes:          append([]string{}, c.Metadata.Themes...),
	}
	if c.Metadata.Title != "" {
		meta[MetaTitle] = c.Metadata.Title
	}
	if c.Metadata.Author != "" {
		meta[MetaAuthor] = c.Metadata.Author
	}
	if c.Metadata.Chapter != "" {
		meta[MetaChapter] = c.Metadata.Chapter
	}
	return meta
}

// ThemeClassification is the result of theme classification
type ThemeClassification struct {
	Themes     []string
	Confidence map[string]float64
}
