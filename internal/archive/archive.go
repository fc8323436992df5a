// Package archive turns provider archives on disk into loading contexts.
//
// A provider archive is a zip file with a .jar or .zip extension holding a
// META-INF/services/ directory. Each file in that directory is named after a
// contract and lists one provider name per line; text after '#' is ignored.
package archive

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/stacklok/provider-registry/internal/loader"
	"github.com/stacklok/provider-registry/internal/source"
)

// ServicesDir is the archive directory holding provider declarations
const ServicesDir = "META-INF/services/"

// Extensions lists the accepted archive file extensions
var Extensions = []string{".jar", ".zip"}

// ErrInvalidArchive is the sentinel wrapped by every *ValidationError
var ErrInvalidArchive = errors.New("invalid provider archive")

// ValidationError explains why a file is not a provider archive
type ValidationError struct {
	Path   string
	Reason string
	Err    error
}

// Error implements error
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrInvalidArchive, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidArchive, e.Path, e.Reason)
}

// Unwrap returns the sentinel and the underlying cause
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidArchive}
	}
	return []error{ErrInvalidArchive, e.Err}
}

// Archive is a validated provider archive and the declarations it carries
type Archive struct {
	// Path is the absolute path of the archive file
	Path string

	// Declarations maps contract names to declared provider names
	Declarations map[string][]string
}

// Contracts returns the sorted contract names the archive declares providers for
func (a *Archive) Contracts() []string {
	out := make([]string, 0, len(a.Declarations))
	for contract := range a.Declarations {
		out = append(out, contract)
	}
	slices.Sort(out)
	return out
}

// Validate checks that path is a regular file with an archive extension that
// opens as a zip and contains a provider declaration directory.
func Validate(path string) error {
	_, err := Read(path)
	return err
}

// Read validates path and parses its provider declarations
func Read(path string) (*Archive, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ValidationError{Path: path, Reason: "cannot resolve path", Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, &ValidationError{Path: abs, Reason: "cannot stat file", Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &ValidationError{Path: abs, Reason: "not a regular file"}
	}
	if !hasArchiveExtension(abs) {
		return nil, &ValidationError{Path: abs, Reason: "unsupported extension " + filepath.Ext(abs)}
	}

	zr, err := zip.OpenReader(abs)
	if err != nil {
		return nil, &ValidationError{Path: abs, Reason: "not a zip archive", Err: err}
	}
	defer func() { _ = zr.Close() }()

	declarations, found, err := readDeclarations(&zr.Reader)
	if err != nil {
		return nil, &ValidationError{Path: abs, Reason: "unreadable provider declarations", Err: err}
	}
	if !found {
		return nil, &ValidationError{Path: abs, Reason: "no " + ServicesDir + " directory"}
	}

	return &Archive{Path: abs, Declarations: declarations}, nil
}

func hasArchiveExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(Extensions, ext)
}

// readDeclarations parses every META-INF/services/<contract> entry. found
// reports whether the services directory exists, as an explicit entry or
// implied by files below it.
func readDeclarations(zr *zip.Reader) (map[string][]string, bool, error) {
	declarations := make(map[string][]string)
	found := false

	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, ServicesDir) {
			continue
		}
		found = true

		contract := strings.TrimPrefix(f.Name, ServicesDir)
		if contract == "" || strings.Contains(contract, "/") || f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, false, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		providers, err := parseProviders(rc)
		_ = rc.Close()
		if err != nil {
			return nil, false, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		if len(providers) > 0 {
			declarations[contract] = append(declarations[contract], providers...)
		}
	}
	return declarations, found, nil
}

// parseProviders reads one provider name per line, dropping comments,
// blank lines and repeated names.
func parseProviders(r io.Reader) ([]string, error) {
	var providers []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		name := strings.TrimSpace(line)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		providers = append(providers, name)
	}
	return providers, scanner.Err()
}

// Option configures the loading context built for an archive
type Option func(*openOptions)

type openOptions struct {
	parent *loader.Context
	name   string
}

// WithParent sets the parent of the archive context. Defaults to loader.Default().
func WithParent(parent *loader.Context) Option {
	return func(o *openOptions) {
		o.parent = parent
	}
}

// WithName overrides the context name. Defaults to the archive file name.
func WithName(name string) Option {
	return func(o *openOptions) {
		o.name = name
	}
}

// Open validates the archive at path and builds a loading context from it
func Open(path string, opts ...Option) (*loader.Context, error) {
	a, err := Read(path)
	if err != nil {
		return nil, err
	}
	return a.Context(opts...), nil
}

// Context builds a loading context declaring the archive's providers.
// Every call returns a distinct context.
func (a *Archive) Context(opts ...Option) *loader.Context {
	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.parent == nil {
		o.parent = loader.Default()
	}
	if o.name == "" {
		o.name = filepath.Base(a.Path)
	}
	return loader.New(o.name, o.parent,
		loader.WithOrigin(a.Path),
		loader.WithDeclarations(a.Declarations))
}

// OpenURL is Open for file:// URLs
func OpenURL(rawURL string, opts ...Option) (*loader.Context, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid archive URL %q: %w", rawURL, err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("unsupported archive URL scheme %q", u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return nil, fmt.Errorf("remote archive URL host %q is not supported", u.Host)
	}
	if u.Path == "" {
		return nil, fmt.Errorf("archive URL %q has no path", rawURL)
	}
	return Open(filepath.FromSlash(u.Path), opts...)
}

// NewSource validates the archive at path and binds a new Source to it
func NewSource(path string, opts ...Option) (*source.Source, error) {
	lc, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return source.New(lc)
}
