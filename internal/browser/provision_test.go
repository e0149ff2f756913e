package browser

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func buildArchive(t *testing.T, entryPath string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(entryPath)
	require.NoError(t, err)
	_, err = f.Write([]byte("#!/bin/sh\necho chromedriver"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func fakeChrome(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

// stubCommands maps the probed binary base name to its --version output.
func stubCommands(p *Provisioner, outputs map[string]string, errs map[string]error) {
	p.runCommand = func(_ context.Context, name string, _ ...string) ([]byte, error) {
		base := filepath.Base(name)
		if err, ok := errs[base]; ok {
			return nil, err
		}
		return []byte(outputs[base]), nil
	}
}

func TestParseVersionOutput(t *testing.T) {
	t.Parallel()

	version, major, err := parseVersionOutput("Google Chrome 138.0.7204.183\n")
	require.NoError(t, err)
	require.Equal(t, "138.0.7204.183", version)
	require.Equal(t, 138, major)

	_, _, err = parseVersionOutput("")
	require.Error(t, err)

	_, _, err = parseVersionOutput("Google Chrome garbage")
	require.Error(t, err)
}

func TestResolveDownloadsNestedDriver(t *testing.T) {
	archive := buildArchive(t, "chromedriver-linux64/chromedriver")

	mux := http.NewServeMux()
	mux.HandleFunc("/lookup/LATEST_RELEASE_138", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "138.0.7204.183")
	})
	mux.HandleFunc("/storage/", func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "138.0.7204.183")
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	chrome := fakeChrome(t)
	p := New(Config{
		ChromePath:  chrome,
		DriverDir:   filepath.Join(t.TempDir(), "driver"),
		LookupBase:  srv.URL + "/lookup",
		StorageBase: srv.URL + "/storage",
	}, zap.NewNop())
	defer p.Close()
	stubCommands(p, map[string]string{
		"chrome":       "Google Chrome 138.0.7204.183",
		"chromedriver": "ChromeDriver 138.0.7204.183",
	}, nil)

	paths, err := p.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, chrome, paths.Browser)

	info, err := os.Stat(paths.Driver)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestResolveFallsBackOnLookupFailure(t *testing.T) {
	archive := buildArchive(t, "chromedriver")
	var requested string

	mux := http.NewServeMux()
	mux.HandleFunc("/lookup/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/storage/", func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := New(Config{
		ChromePath:  fakeChrome(t),
		DriverDir:   filepath.Join(t.TempDir(), "driver"),
		LookupBase:  srv.URL + "/lookup",
		StorageBase: srv.URL + "/storage",
	}, zap.NewNop())
	defer p.Close()
	stubCommands(p, map[string]string{
		"chrome":       "Google Chrome 138.0.7204.183",
		"chromedriver": "ChromeDriver 138.0.6906.100",
	}, nil)

	_, err := p.Resolve(context.Background())
	require.NoError(t, err)
	// Known-good version for major 138, not the best-guess pattern.
	require.Contains(t, requested, "138.0.6906.100")
}

func TestResolveBestGuessForUnknownMajor(t *testing.T) {
	archive := buildArchive(t, "chromedriver")
	var requested string

	mux := http.NewServeMux()
	mux.HandleFunc("/lookup/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/storage/", func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := New(Config{
		ChromePath:  fakeChrome(t),
		DriverDir:   filepath.Join(t.TempDir(), "driver"),
		LookupBase:  srv.URL + "/lookup",
		StorageBase: srv.URL + "/storage",
	}, zap.NewNop())
	defer p.Close()
	stubCommands(p, map[string]string{
		"chrome":       "Google Chrome 131.0.1234.56",
		"chromedriver": "ChromeDriver 131.0.6000.0",
	}, nil)

	_, err := p.Resolve(context.Background())
	require.NoError(t, err)
	require.Contains(t, requested, "131.0.6000.0")
}

func TestResolveDriverOverrideSkipsDownload(t *testing.T) {
	override := filepath.Join(t.TempDir(), "chromedriver")
	require.NoError(t, os.WriteFile(override, []byte("stub"), 0o755))

	p := New(Config{
		ChromePath: fakeChrome(t),
		DriverPath: override,
		DriverDir:  filepath.Join(t.TempDir(), "driver"),
		// Unroutable bases: any network call would fail the test.
		LookupBase:  "http://127.0.0.1:1/lookup",
		StorageBase: "http://127.0.0.1:1/storage",
	}, zap.NewNop())
	defer p.Close()
	stubCommands(p, map[string]string{"chrome": "Google Chrome 138.0.7204.183"}, nil)

	paths, err := p.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, override, paths.Driver)
}

func TestResolveErrors(t *testing.T) {
	t.Run("no chrome binary", func(t *testing.T) {
		p := New(Config{
			ChromeCandidates: []string{filepath.Join(t.TempDir(), "missing")},
		}, zap.NewNop())
		defer p.Close()

		_, err := p.Resolve(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "no chrome binary")
	})

	t.Run("version probe failure", func(t *testing.T) {
		p := New(Config{ChromePath: fakeChrome(t)}, zap.NewNop())
		defer p.Close()
		stubCommands(p, nil, map[string]error{"chrome": fmt.Errorf("exit status 1")})

		_, err := p.Resolve(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "probe chrome version")
	})

	t.Run("archive without driver", func(t *testing.T) {
		var buf bytes.Buffer
		w := zip.NewWriter(&buf)
		f, err := w.Create("LICENSE")
		require.NoError(t, err)
		_, err = f.Write([]byte("not a driver"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		mux := http.NewServeMux()
		mux.HandleFunc("/lookup/", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "138.0.7204.183")
		})
		mux.HandleFunc("/storage/", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(buf.Bytes())
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		p := New(Config{
			ChromePath:  fakeChrome(t),
			DriverDir:   filepath.Join(t.TempDir(), "driver"),
			LookupBase:  srv.URL + "/lookup",
			StorageBase: srv.URL + "/storage",
		}, zap.NewNop())
		defer p.Close()
		stubCommands(p, map[string]string{"chrome": "Google Chrome 138.0.7204.183"}, nil)

		_, err = p.Resolve(context.Background())
		require.Error(t, err)
		require.True(t, strings.Contains(err.Error(), "not found in archive"))
	})
}

func TestLegacyEndpointFamily(t *testing.T) {
	archive := buildArchive(t, "chromedriver")
	var lookupHit, downloadHit bool

	mux := http.NewServeMux()
	mux.HandleFunc("/legacy/LATEST_RELEASE_114", func(w http.ResponseWriter, _ *http.Request) {
		lookupHit = true
		fmt.Fprint(w, "114.0.5735.90")
	})
	mux.HandleFunc("/legacy/114.0.5735.90/chromedriver_linux64.zip", func(w http.ResponseWriter, _ *http.Request) {
		downloadHit = true
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := New(Config{
		ChromePath: fakeChrome(t),
		DriverDir:  filepath.Join(t.TempDir(), "driver"),
		LegacyBase: srv.URL + "/legacy",
	}, zap.NewNop())
	defer p.Close()
	stubCommands(p, map[string]string{
		"chrome":       "Chromium 114.0.5735.106",
		"chromedriver": "ChromeDriver 114.0.5735.90",
	}, nil)

	_, err := p.Resolve(context.Background())
	require.NoError(t, err)
	require.True(t, lookupHit)
	require.True(t, downloadHit)
}
