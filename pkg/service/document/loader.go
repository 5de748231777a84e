package document

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
	"github.com/secmon-lab/hypomnema/pkg/utils/safe"
	"google.golang.org/api/iterator"
)

const gcsScheme = "gs://"

// Loader reads documents from a local directory or a Cloud Storage prefix
type Loader struct {
	storage *storage.Client
}

// LoaderOption is a functional option for Loader
type LoaderOption func(*Loader)

// WithStorageClient enables gs:// sources
func WithStorageClient(client *storage.Client) LoaderOption {
	return func(l *Loader) {
		l.storage = client
	}
}

// NewLoader creates a document loader
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns every supported document under source, ordered by path.
// Unsupported formats are skipped with a warning.
func (l *Loader) Load(ctx context.Context, source string) ([]*Document, error) {
	if strings.HasPrefix(source, gcsScheme) {
		return l.loadGCS(ctx, source)
	}
	return l.loadDir(ctx, source)
}

func (l *Loader) loadDir(ctx context.Context, dir string) ([]*Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat document directory", goerr.T(model.TagValidation), goerr.V("dir", dir))
	}
	if !info.IsDir() {
		return nil, goerr.New("document source is not a directory", goerr.T(model.TagValidation), goerr.V("dir", dir))
	}

	var docs []*Document
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isSupported(p) {
			logging.From(ctx).Warn("skipping unsupported document", "path", p)
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return goerr.Wrap(err, "failed to read document", goerr.V("path", p))
		}
		docs = append(docs, newDocument(p, string(data)))
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to walk document directory", goerr.V("dir", dir))
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (l *Loader) loadGCS(ctx context.Context, source string) ([]*Document, error) {
	if l.storage == nil {
		return nil, goerr.New("cloud storage client is not configured", goerr.T(model.TagValidation), goerr.V("source", source))
	}

	bucket, prefix, err := parseGCSURL(source)
	if err != nil {
		return nil, err
	}

	var docs []*Document
	it := l.storage.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list objects", goerr.V("bucket", bucket), goerr.V("prefix", prefix))
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		if !isSupported(attrs.Name) {
			logging.From(ctx).Warn("skipping unsupported document", "object", attrs.Name)
			continue
		}

		content, err := l.readObject(ctx, bucket, attrs.Name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, newDocument(gcsScheme+bucket+"/"+attrs.Name, content))
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (l *Loader) readObject(ctx context.Context, bucket, name string) (string, error) {
	r, err := l.storage.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open object", goerr.V("bucket", bucket), goerr.V("object", name))
	}
	defer safe.Close(ctx, r)

	data, err := io.ReadAll(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read object", goerr.V("bucket", bucket), goerr.V("object", name))
	}
	return string(data), nil
}

// parseGCSURL splits gs://bucket/prefix
func parseGCSURL(source string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(source, gcsScheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", goerr.New("bucket name is missing", goerr.T(model.TagValidation), goerr.V("source", source))
	}
	return bucket, prefix, nil
}

func isSupported(name string) bool {
	return supportedExtensions[strings.ToLower(path.Ext(name))]
}

func newDocument(p, content string) *Document {
	base := path.Base(filepath.ToSlash(p))
	title := strings.TrimSuffix(base, path.Ext(base))
	return &Document{Path: p, Title: title, Content: content}
}
