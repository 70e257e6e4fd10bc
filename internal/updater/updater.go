// Package updater replaces the running binary with the latest GitHub release.
// Downloading is done with req and the swap with minio/selfupdate, which is
// atomic and rolls back on failure.
package updater

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/imroc/req/v3"
	"github.com/minio/selfupdate"

	"deezer-tagger/internal/version"
)

const (
	// GitHubAPI is the base of the releases endpoint.
	GitHubAPI = "https://api.github.com/"
	// BinaryName is the executable inside release archives.
	BinaryName = "deezer-tagger"
)

var (
	// ErrNoRepository is returned when no release repository is configured.
	ErrNoRepository = errors.New("no update repository configured")
	// ErrBadRepository is returned when the repository is not "owner/name".
	ErrBadRepository = errors.New(`update repository must look like "owner/name"`)
)

// ReleaseInfo contains information about a GitHub release
type ReleaseInfo struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
	HTMLURL string  `json:"html_url"`
}

// Asset represents a release asset (binary download)
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// UpdateResult contains the result of an update check
type UpdateResult struct {
	CurrentVersion string
	LatestVersion  string
	HasUpdate      bool
	ReleaseInfo    *ReleaseInfo
}

type Updater struct {
	HTTP       *req.Client
	Repository string // "owner/name"

	// apply is swapped in tests.
	apply func(io.Reader) error
}

// New returns an updater for the GitHub repository "owner/name".
func New(repository string) *Updater {
	c := req.NewClient().
		SetBaseURL(GitHubAPI).
		SetUserAgent(version.UserAgent()).
		SetCommonHeader("Accept", "application/vnd.github+json")
	return &Updater{HTTP: c, Repository: repository, apply: applyBinary}
}

// SetProxy routes update traffic through proxyURL (http, https or socks5).
func (u *Updater) SetProxy(proxyURL string) {
	if proxyURL != "" {
		u.HTTP.SetProxyURL(proxyURL)
	}
}

// CheckForUpdate fetches the latest release and compares it to the running version.
func (u *Updater) CheckForUpdate(ctx context.Context) (*UpdateResult, error) {
	if u.Repository == "" {
		return nil, ErrNoRepository
	}
	owner, name, ok := strings.Cut(u.Repository, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %q", ErrBadRepository, u.Repository)
	}

	// Path params are escaped one by one, so owner and name go in separately.
	var release ReleaseInfo
	resp, err := u.HTTP.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"owner": owner, "repo": name}).
		SetSuccessResult(&release).
		Get("repos/{owner}/{repo}/releases/latest")
	if err != nil {
		return nil, fmt.Errorf("failed to check for updates: %w", err)
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("failed to check for updates: %s", resp.Status)
	}

	currentVersion := version.Short()
	latestVersion := strings.TrimPrefix(release.TagName, "v")

	return &UpdateResult{
		CurrentVersion: currentVersion,
		LatestVersion:  latestVersion,
		HasUpdate:      compareVersions(currentVersion, latestVersion) < 0,
		ReleaseInfo:    &release,
	}, nil
}

// GetPlatformAsset returns the appropriate asset for the current platform
func (r *ReleaseInfo) GetPlatformAsset() (*Asset, error) {
	return r.assetFor(runtime.GOOS, runtime.GOARCH)
}

func (r *ReleaseInfo) assetFor(goos, goarch string) (*Asset, error) {
	ext := ".tar.gz"
	if goos == "windows" {
		ext = ".zip"
	}

	// deezer-tagger-v1.2.0-linux-amd64.tar.gz
	want := fmt.Sprintf("%s-%s-%s-%s%s", BinaryName, r.TagName, goos, goarch, ext)
	for i := range r.Assets {
		if r.Assets[i].Name == want {
			return &r.Assets[i], nil
		}
	}
	return nil, fmt.Errorf("no release found for %s/%s", goos, goarch)
}

// DownloadAndApply downloads asset, extracts the binary and swaps it in.
// progressFn, when set, is called as bytes arrive.
func (u *Updater) DownloadAndApply(ctx context.Context, asset *Asset, progressFn func(current, total int64)) error {
	var archive bytes.Buffer
	r := u.HTTP.R().SetContext(ctx).SetOutput(&archive)
	if progressFn != nil {
		r.SetDownloadCallback(func(info req.DownloadInfo) {
			total := asset.Size
			if info.Response != nil && info.Response.ContentLength > 0 {
				total = info.Response.ContentLength
			}
			progressFn(info.DownloadedSize, total)
		})
	}

	resp, err := r.Get(asset.BrowserDownloadURL)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("download returned %s", resp.Status)
	}
	data := archive.Bytes()

	var binary io.Reader
	if strings.HasSuffix(asset.Name, ".zip") {
		binary, err = extractFromZip(data, BinaryName+".exe")
	} else {
		binary, err = extractFromTarGz(data, BinaryName)
	}
	if err != nil {
		return fmt.Errorf("failed to extract binary: %w", err)
	}

	return u.apply(binary)
}

func applyBinary(binary io.Reader) error {
	if err := selfupdate.Apply(binary, selfupdate.Options{}); err != nil {
		if rerr := selfupdate.RollbackError(err); rerr != nil {
			return fmt.Errorf("update failed and rollback also failed: %w", rerr)
		}
		return fmt.Errorf("update failed (rolled back): %w", err)
	}
	return nil
}

// Archive structure: deezer-tagger-v{version}-{os}-{arch}/deezer-tagger.exe
func extractFromZip(data []byte, name string) (io.Reader, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, "/"+name) && f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, rc); err != nil {
			return nil, err
		}
		return &buf, nil
	}

	return nil, fmt.Errorf("binary not found in archive")
}

// Archive structure: deezer-tagger-v{version}-{os}-{arch}/deezer-tagger
func extractFromTarGz(data []byte, name string) (io.Reader, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		if strings.HasSuffix(header.Name, "/"+name) || header.Name == name {
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, tr); err != nil {
				return nil, err
			}
			return &buf, nil
		}
	}

	return nil, fmt.Errorf("binary not found in archive")
}

// compareVersions compares two semantic version strings
// Returns: 1 if v1 > v2, -1 if v1 < v2, 0 if equal
func compareVersions(v1, v2 string) int {
	v1 = strings.TrimPrefix(v1, "v")
	v2 = strings.TrimPrefix(v2, "v")

	// dev is older than any release
	if strings.HasPrefix(v1, "dev") {
		return -1
	}
	if strings.HasPrefix(v2, "dev") {
		return 1
	}

	parts1 := strings.Split(v1, ".")
	parts2 := strings.Split(v2, ".")

	for i := range max(len(parts1), len(parts2)) {
		var n1, n2 int
		if i < len(parts1) {
			fmt.Sscanf(parts1[i], "%d", &n1)
		}
		if i < len(parts2) {
			fmt.Sscanf(parts2[i], "%d", &n2)
		}

		if n1 > n2 {
			return 1
		}
		if n1 < n2 {
			return -1
		}
	}

	return 0
}
