package install

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/micro-manager/mmgocorex/pkg/errors"
	"github.com/micro-manager/mmgocorex/pkg/logging"
)

// DownloadURLBase is the root of the Micro-Manager build distribution site.
const DownloadURLBase = "https://download.micro-manager.org"

// Channel selects which build stream to install from.
type Channel string

const (
	ChannelNightly Channel = "nightly"
	ChannelCI      Channel = "ci"
)

// versionLinkRegexp matches build entries on the download index page.
var versionLinkRegexp = regexp.MustCompile(`class="rowDefault" href="([^"]+)`)

// installDirNames are the directory names probed when looking for an
// existing installation.
var installDirNames = []string{"Micro-Manager", "Micro-Manager-2.0"}

// InstallerOptions configures an Installer.
type InstallerOptions struct {
	// Channel is the build stream to download from. Defaults to nightly.
	Channel Channel

	// Destination is the directory to install into. Empty means the
	// platform default install location.
	Destination string

	// InstallLogPath, when set, is passed to the Windows installer as the
	// log file path. Ignored on other platforms.
	InstallLogPath string

	// BaseURL overrides the download site root. Defaults to DownloadURLBase.
	BaseURL string

	// HTTPClient overrides the HTTP client used for index scraping and
	// installer downloads.
	HTTPClient *http.Client

	// RunCommand overrides installer subprocess execution.
	RunCommand CommandRunner

	// Progress, when set, is called with download progress. When nil,
	// progress is logged at roughly half-percent steps.
	Progress func(downloaded, total int64)
}

// CommandRunner executes an external command, returning its combined error
// state. It exists so tests can intercept installer invocations.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Installer downloads and installs the Micro-Manager application.
type Installer interface {
	ListAvailableVersions(ctx context.Context) ([]string, error)
	DownloadInstaller(ctx context.Context) (string, error)
	DownloadAndInstall(ctx context.Context) (string, error)
}

// NewInstaller creates an Installer with the given options.
func NewInstaller(options InstallerOptions, logger logging.Logger) Installer {
	if options.Channel == "" {
		options.Channel = ChannelNightly
	}
	if options.BaseURL == "" {
		options.BaseURL = DownloadURLBase
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if options.RunCommand == nil {
		options.RunCommand = runCommand
	}
	return &installer{
		options: options,
		logger:  logger,
	}
}

type installer struct {
	options InstallerOptions
	logger  logging.Logger
}

// platformName reports the distribution platform for the current OS.
func platformName() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return "Windows", nil
	case "darwin":
		return "Mac", nil
	default:
		return "", errors.NewValidationError("unsupported OS", nil).WithContext("os", runtime.GOOS)
	}
}

// downloadIndexURL returns the index page URL for the configured channel and
// the current platform.
func downloadIndexURL(baseURL string, channel Channel) (string, error) {
	platform, err := platformName()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/2.0/%s", baseURL, channel, platform), nil
}

func (in *installer) ListAvailableVersions(ctx context.Context) ([]string, error) {
	indexURL, err := downloadIndexURL(in.options.BaseURL, in.options.Channel)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return nil, errors.NewInternalError("failed to build index request", err)
	}

	resp, err := in.options.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("failed to fetch download index", err).WithContext("url", indexURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewNetworkError("unexpected download index status", nil).
			WithContext("url", indexURL).
			WithContext("status", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewIOError("failed to read download index", err).WithContext("url", indexURL)
	}

	return parseVersionLinks(string(body)), nil
}

// parseVersionLinks extracts build links from the download index page.
func parseVersionLinks(page string) []string {
	matches := versionLinkRegexp.FindAllStringSubmatch(page, -1)
	versions := make([]string, 0, len(matches))
	for _, m := range matches {
		versions = append(versions, m[1])
	}
	return versions
}

// latestInstallerURL resolves the newest build on the index page to a full
// download URL. The index lists newest builds first.
func (in *installer) latestInstallerURL(ctx context.Context) (string, error) {
	versions, err := in.ListAvailableVersions(ctx)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", errors.NewNotFoundError("no builds found on download index", nil)
	}

	indexURL, err := downloadIndexURL(in.options.BaseURL, in.options.Channel)
	if err != nil {
		return "", err
	}

	return indexURL + "/" + path.Base(versions[0]), nil
}

func (in *installer) DownloadInstaller(ctx context.Context) (string, error) {
	installerURL, err := in.latestInstallerURL(ctx)
	if err != nil {
		return "", err
	}

	installerName := "mm_installer.dmg"
	if runtime.GOOS == "windows" {
		installerName = "mm_installer.exe"
	}
	installerPath := filepath.Join(os.TempDir(), installerName)

	in.logger.Infof("Downloading installer: %s", installerURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, installerURL, nil)
	if err != nil {
		return "", errors.NewInternalError("failed to build installer request", err)
	}

	resp, err := in.options.HTTPClient.Do(req)
	if err != nil {
		return "", errors.NewNetworkError("failed to download installer", err).WithContext("url", installerURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewNetworkError("unexpected installer download status", nil).
			WithContext("url", installerURL).
			WithContext("status", resp.Status)
	}

	out, err := os.Create(installerPath)
	if err != nil {
		return "", errors.NewIOError("failed to create installer file", err).WithContext("path", installerPath)
	}
	defer out.Close()

	progress := in.options.Progress
	if progress == nil {
		progress = in.logProgress()
	}

	reader := &progressReader{
		reader:   resp.Body,
		total:    resp.ContentLength,
		progress: progress,
	}

	if _, err := io.Copy(out, reader); err != nil {
		return "", errors.NewIOError("failed to write installer file", err).WithContext("path", installerPath)
	}

	in.logger.Infof("Installer downloaded to %s", installerPath)
	return installerPath, nil
}

// logProgress returns a progress callback that logs at roughly half-percent
// steps so large downloads do not flood the log.
func (in *installer) logProgress() func(downloaded, total int64) {
	var lastPercent float64
	return func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		percent := float64(downloaded) / float64(total) * 100
		if percent-lastPercent > 0.5 {
			in.logger.Infof("Downloading installer: %.2f%%", percent)
			lastPercent = percent
		}
	}
}

type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	progress   func(downloaded, total int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.downloaded += int64(n)
	if r.progress != nil {
		r.progress(r.downloaded, r.total)
	}
	return n, err
}

func (in *installer) DownloadAndInstall(ctx context.Context) (string, error) {
	installerPath, err := in.DownloadInstaller(ctx)
	if err != nil {
		return "", err
	}

	destination := in.options.Destination
	if destination == "" {
		destination, err = DefaultInstallLocation()
		if err != nil {
			return "", err
		}
	}

	if runtime.GOOS == "windows" {
		return destination, in.installWindows(ctx, installerPath, destination)
	}
	return destination, in.installMac(ctx, installerPath, destination)
}

// installWindows runs the graphical installer silently into the destination.
func (in *installer) installWindows(ctx context.Context, installerPath, destination string) error {
	args := []string{
		"/SP", "/VERYSILENT", "/SUPRESSMSGBOXES", "/CURRENTUSER",
		fmt.Sprintf("/DIR=%s", destination),
	}
	if in.options.InstallLogPath != "" {
		args = append(args, fmt.Sprintf("/LOG=%s", in.options.InstallLogPath))
	}

	in.logger.Infof("Running installer: %s", installerPath)
	if err := in.options.RunCommand(ctx, installerPath, args...); err != nil {
		return errors.NewProcessError("installer failed", err).WithContext("installer", installerPath)
	}
	return nil
}

// installMac mounts the disk image, copies the newest application bundle to
// the destination and unmounts again.
func (in *installer) installMac(ctx context.Context, installerPath, destination string) error {
	const volume = "/Volumes/Micro-Manager"

	// Unmount a stale image if one is still attached.
	_ = in.options.RunCommand(ctx, "hdiutil", "detach", volume)

	if err := in.options.RunCommand(ctx, "hdiutil", "attach", "-nobrowse", installerPath); err != nil {
		return errors.NewProcessError("failed to mount installer image", err).WithContext("installer", installerPath)
	}
	defer func() {
		_ = in.options.RunCommand(ctx, "hdiutil", "detach", volume)
		_ = os.Remove(installerPath)
	}()

	entries, err := os.ReadDir(volume)
	if err != nil {
		return errors.NewIOError("failed to read installer volume", err).WithContext("volume", volume)
	}

	var builds []string
	for _, entry := range entries {
		if strings.Contains(entry.Name(), "Micro-Manager") {
			builds = append(builds, entry.Name())
		}
	}
	if len(builds) == 0 {
		return errors.NewNotFoundError("no Micro-Manager build found in installer image", nil).WithContext("volume", volume)
	}
	sort.Strings(builds)
	latest := builds[len(builds)-1]

	in.logger.Infof("Installing %s to %s", latest, destination)
	if err := copyTree(filepath.Join(volume, latest), destination); err != nil {
		return errors.NewIOError("failed to copy application to destination", err).WithContext("destination", destination)
	}
	return nil
}

// copyTree recursively copies src into dst, creating directories as needed
// and overwriting existing files.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(srcPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, srcPath)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(dstPath, info.Mode())
		}

		srcFile, err := os.Open(srcPath)
		if err != nil {
			return err
		}
		defer srcFile.Close()

		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return err
		}

		dstFile, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer dstFile.Close()

		_, err = io.Copy(dstFile, srcFile)
		return err
	})
}

// DefaultInstallLocation reports where DownloadAndInstall places the
// application when no destination is configured.
func DefaultInstallLocation() (string, error) {
	platform, err := platformName()
	if err != nil {
		return "", err
	}

	if platform == "Windows" {
		programFiles := os.Getenv("PROGRAMFILES")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		return filepath.Join(programFiles, "Micro-Manager"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewIOError("failed to resolve home directory", err)
	}
	return filepath.Join(home, "Micro-Manager"), nil
}

// FindExistingInstall looks for an installation in the default auto-install
// locations for the current platform.
func FindExistingInstall() (string, error) {
	platform, err := platformName()
	if err != nil {
		return "", err
	}

	var base string
	if platform == "Windows" {
		base = os.Getenv("PROGRAMFILES")
		if base == "" {
			base = `C:\Program Files`
		}
	} else {
		base, err = os.UserHomeDir()
		if err != nil {
			return "", errors.NewIOError("failed to resolve home directory", err)
		}
	}

	return FindExistingInstallIn([]string{base})
}

// FindExistingInstallIn probes the given base directories for a
// Micro-Manager installation.
func FindExistingInstallIn(baseDirs []string) (string, error) {
	for _, base := range baseDirs {
		for _, name := range installDirNames {
			candidate := filepath.Join(base, name)
			info, err := os.Stat(candidate)
			if err == nil && info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", errors.NewNotFoundError("Micro-Manager not found in the default installation path", nil)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}
