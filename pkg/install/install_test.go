package install

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPageFixture = `
<html><body><table>
<tr><td><a class="rowDefault" href="/nightly/2.0/Mac/Micro-Manager-2.0.3-20260829.dmg">newest</a></td></tr>
<tr><td><a class="rowDefault" href="/nightly/2.0/Mac/Micro-Manager-2.0.3-20260828.dmg">older</a></td></tr>
<tr><td><a class="rowOther" href="/not-a-build">ignored</a></td></tr>
</table></body></html>`

func skipUnlessSupportedPlatform(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		t.Skipf("install is only supported on windows and darwin, running on %s", runtime.GOOS)
	}
}

func TestParseVersionLinks(t *testing.T) {
	versions := parseVersionLinks(indexPageFixture)

	require.Len(t, versions, 2)
	assert.Equal(t, "/nightly/2.0/Mac/Micro-Manager-2.0.3-20260829.dmg", versions[0])
	assert.Equal(t, "/nightly/2.0/Mac/Micro-Manager-2.0.3-20260828.dmg", versions[1])
}

func TestParseVersionLinksEmptyPage(t *testing.T) {
	assert.Empty(t, parseVersionLinks("<html></html>"))
}

func TestDownloadIndexURL(t *testing.T) {
	skipUnlessSupportedPlatform(t)

	platform := "Mac"
	if runtime.GOOS == "windows" {
		platform = "Windows"
	}

	nightly, err := downloadIndexURL(DownloadURLBase, ChannelNightly)
	require.NoError(t, err)
	assert.Equal(t, DownloadURLBase+"/nightly/2.0/"+platform, nightly)

	ci, err := downloadIndexURL(DownloadURLBase, ChannelCI)
	require.NoError(t, err)
	assert.Equal(t, DownloadURLBase+"/ci/2.0/"+platform, ci)
}

func TestDownloadIndexURLUnsupportedPlatform(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("test requires an unsupported platform")
	}

	_, err := downloadIndexURL(DownloadURLBase, ChannelNightly)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestListAvailableVersions(t *testing.T) {
	skipUnlessSupportedPlatform(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(indexPageFixture))
	}))
	defer server.Close()

	installer := NewInstaller(InstallerOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	}, logging.NewNullLogger())

	versions, err := installer.ListAvailableVersions(context.Background())
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestListAvailableVersionsBadStatus(t *testing.T) {
	skipUnlessSupportedPlatform(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	installer := NewInstaller(InstallerOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	}, logging.NewNullLogger())

	_, err := installer.ListAvailableVersions(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
}

func TestDownloadInstallerWritesFileAndReportsProgress(t *testing.T) {
	skipUnlessSupportedPlatform(t)

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if filepath.Ext(r.URL.Path) == ".dmg" || filepath.Ext(r.URL.Path) == ".exe" {
			_, _ = w.Write(payload)
			return
		}
		_, _ = w.Write([]byte(indexPageFixture))
	}))
	defer server.Close()

	var lastDownloaded int64
	installer := NewInstaller(InstallerOptions{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Progress: func(downloaded, total int64) {
			lastDownloaded = downloaded
		},
	}, logging.NewNullLogger())

	installerPath, err := installer.DownloadInstaller(context.Background())
	require.NoError(t, err)
	defer os.Remove(installerPath)

	data, err := os.ReadFile(installerPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, int64(len(payload)), lastDownloaded)
}

func TestFindExistingInstallIn(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "Micro-Manager-2.0"), 0o755))

	found, err := FindExistingInstallIn([]string{base})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "Micro-Manager-2.0"), found)
}

func TestFindExistingInstallInPrefersUnversionedName(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "Micro-Manager"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(base, "Micro-Manager-2.0"), 0o755))

	found, err := FindExistingInstallIn([]string{base})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "Micro-Manager"), found)
}

func TestFindExistingInstallInNotFound(t *testing.T) {
	_, err := FindExistingInstallIn([]string{t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "dest")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "plugins", "Micro-Manager"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "plugins", "Micro-Manager", "core.jar"), []byte("jar"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "MMConfig_demo.cfg"), []byte("# config"), 0o644))

	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "plugins", "Micro-Manager", "core.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jar", string(data))

	data, err = os.ReadFile(filepath.Join(dst, "MMConfig_demo.cfg"))
	require.NoError(t, err)
	assert.Equal(t, "# config", string(data))
}
