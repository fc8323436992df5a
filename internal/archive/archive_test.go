package archive

import (
	"archive/zip"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/provider-registry/internal/loader"
)

const greeterContract = "example.Greeter"

// writeArchive creates a zip file at dir/name holding the given entries.
// Names ending in "/" become directory entries.
func writeArchive(t *testing.T, dir, name string, entries map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for entry, content := range entries {
		w, err := zw.Create(entry)
		require.NoError(t, err)
		if content != "" {
			_, err = w.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func providerArchive(t *testing.T, dir, name string, providers string) string {
	t.Helper()

	return writeArchive(t, dir, name, map[string]string{
		"META-INF/":                           "",
		ServicesDir:                           "",
		ServicesDir + greeterContract:         providers,
		"com/example/EnglishGreeter.class":    "cafebabe",
		"META-INF/MANIFEST.MF":                "Manifest-Version: 1.0\n",
		ServicesDir + "example.Unrelated/xyz": "ignored\n",
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	notZip := filepath.Join(dir, "broken.jar")
	require.NoError(t, os.WriteFile(notZip, []byte("not a zip"), 0o600))

	dirNamedJar := filepath.Join(dir, "folder.jar")
	require.NoError(t, os.Mkdir(dirNamedJar, 0o700))

	tests := []struct {
		name       string
		path       string
		wantReason string
	}{
		{
			name: "jar with services directory",
			path: providerArchive(t, dir, "plugin.jar", "example.English\n"),
		},
		{
			name: "zip with services directory",
			path: providerArchive(t, dir, "plugin.zip", "example.English\n"),
		},
		{
			name: "extension is case insensitive",
			path: providerArchive(t, dir, "PLUGIN.JAR", "example.English\n"),
		},
		{
			name: "services directory implied by its files",
			path: writeArchive(t, dir, "implied.jar", map[string]string{
				ServicesDir + greeterContract: "example.English\n",
			}),
		},
		{
			name: "empty services directory is still a provider archive",
			path: writeArchive(t, dir, "empty.jar", map[string]string{ServicesDir: ""}),
		},
		{
			name:       "missing file",
			path:       filepath.Join(dir, "missing.jar"),
			wantReason: "cannot stat file",
		},
		{
			name:       "directory",
			path:       dirNamedJar,
			wantReason: "not a regular file",
		},
		{
			name:       "wrong extension",
			path:       providerArchive(t, dir, "plugin.txt", "example.English\n"),
			wantReason: "unsupported extension",
		},
		{
			name:       "not a zip",
			path:       notZip,
			wantReason: "not a zip archive",
		},
		{
			name: "no services directory",
			path: writeArchive(t, dir, "library.jar", map[string]string{
				"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\n",
			}),
			wantReason: "no META-INF/services/ directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(tt.path)
			if tt.wantReason == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidArchive)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Reason, tt.wantReason)
		})
	}
}

func TestValidationError_UnwrapsCause(t *testing.T) {
	t.Parallel()

	err := Validate(filepath.Join(t.TempDir(), "missing.jar"))
	require.ErrorIs(t, err, ErrInvalidArchive)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRead_Declarations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeArchive(t, dir, "plugin.jar", map[string]string{
		ServicesDir + greeterContract: "# greeters shipped by this plugin\n" +
			"example.English\n" +
			"\n" +
			"  example.French   # trailing comment\n" +
			"example.English\n",
		ServicesDir + "example.Farewell": "example.Goodbye",
		ServicesDir + "example.Empty":    "# nothing here\n",
	})

	a, err := Read(path)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(a.Path))
	assert.Equal(t, []string{"example.English", "example.French"}, a.Declarations[greeterContract])
	assert.Equal(t, []string{"example.Goodbye"}, a.Declarations["example.Farewell"])
	assert.NotContains(t, a.Declarations, "example.Empty")
	assert.Equal(t, []string{"example.Farewell", greeterContract}, a.Contracts())
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := providerArchive(t, dir, "plugin.jar", "example.English\nexample.French\n")

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		lc, err := Open(path)
		require.NoError(t, err)

		assert.Equal(t, "plugin.jar", lc.Name())
		assert.Same(t, loader.Default(), lc.Parent())
		assert.Equal(t, path, lc.Origin())
		assert.Equal(t, []string{"example.English", "example.French"}, lc.Providers(greeterContract))
		assert.Empty(t, lc.Providers("example.Unrelated/xyz"))
	})

	t.Run("custom parent and name", func(t *testing.T) {
		t.Parallel()

		parent := loader.New("plugins", nil)
		lc, err := Open(path, WithParent(parent), WithName("english"))
		require.NoError(t, err)

		assert.Equal(t, "english", lc.Name())
		assert.Same(t, parent, lc.Parent())
	})

	t.Run("every open is a distinct context", func(t *testing.T) {
		t.Parallel()

		a, err := Open(path)
		require.NoError(t, err)
		b, err := Open(path)
		require.NoError(t, err)
		assert.NotSame(t, a, b)
	})

	t.Run("invalid archive", func(t *testing.T) {
		t.Parallel()

		lc, err := Open(filepath.Join(dir, "missing.jar"))
		require.ErrorIs(t, err, ErrInvalidArchive)
		assert.Nil(t, lc)
	})
}

func TestOpenURL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := providerArchive(t, dir, "plugin.jar", "example.English\n")
	fileURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "file url", url: fileURL},
		{name: "localhost file url", url: "file://localhost" + filepath.ToSlash(path)},
		{name: "http url", url: "https://example.com/plugin.jar", wantErr: "unsupported archive URL scheme"},
		{name: "remote host", url: "file://fileserver/plugin.jar", wantErr: "not supported"},
		{name: "no path", url: "file://", wantErr: "has no path"},
		{name: "unparseable", url: "file://%zz", wantErr: "invalid archive URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lc, err := OpenURL(tt.url)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"example.English"}, lc.Providers(greeterContract))
		})
	}
}

func TestNewSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := providerArchive(t, dir, "plugin.jar", "example.English\n")

	src, err := NewSource(path)
	require.NoError(t, err)
	assert.Equal(t, "plugin.jar", src.Name())
	assert.Equal(t, path, src.Context().Origin())

	_, err = NewSource(filepath.Join(dir, "missing.jar"))
	require.ErrorIs(t, err, ErrInvalidArchive)
}
