package document

// Document is a loaded text document
type Document struct {
	// Path is the local path or gs:// URL the document was read from
	Path    string
	Title   string
	Content string
}

// supportedExtensions lists the formats read as plain text
var supportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}
