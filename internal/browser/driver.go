package browser

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pranadao/prana-ticker/internal/metrics"
)

// newEndpointMajor is the first Chrome major served from the
// chrome-for-testing storage layout instead of the legacy bucket.
const newEndpointMajor = 115

// knownGoodVersions maps majors to driver versions that are known to work
// when the version-lookup endpoint is unavailable.
var knownGoodVersions = map[int]string{
	138: "138.0.6906.100",
}

// parseVersionOutput extracts the full version and major from `chrome
// --version` output such as "Google Chrome 138.0.7204.183".
func parseVersionOutput(out string) (string, int, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) == 0 {
		return "", 0, fmt.Errorf("empty chrome version output")
	}
	version := fields[len(fields)-1]
	majorText, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(majorText)
	if err != nil {
		return "", 0, fmt.Errorf("parse chrome major from %q: %w", version, err)
	}
	return version, major, nil
}

// platformSlug names the chrome-for-testing archive platform directory.
func platformSlug() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "mac-arm64"
		}
		return "mac-x64"
	case "windows":
		return "win64"
	default:
		return "linux64"
	}
}

// acquireDriver honors an existing override path, otherwise downloads,
// extracts and verifies a driver matching the browser major.
func (p *Provisioner) acquireDriver(ctx context.Context, major int) (string, error) {
	if p.cfg.DriverPath != "" {
		if _, err := os.Stat(p.cfg.DriverPath); err == nil {
			p.logger.Info("using driver override", zap.String("path", p.cfg.DriverPath))
			return p.cfg.DriverPath, nil
		}
		p.logger.Warn("driver override path does not exist",
			zap.String("path", p.cfg.DriverPath),
		)
	}

	driverPath, err := p.downloadDriver(ctx, major)
	metrics.ObserveDriverDownload(err == nil)
	if err != nil {
		return "", err
	}
	return driverPath, nil
}

func (p *Provisioner) downloadDriver(ctx context.Context, major int) (string, error) {
	if err := os.RemoveAll(p.cfg.DriverDir); err != nil {
		return "", fmt.Errorf("clear driver dir: %w", err)
	}
	if err := os.MkdirAll(p.cfg.DriverDir, 0o755); err != nil {
		return "", fmt.Errorf("create driver dir: %w", err)
	}

	downloadURL, version, err := p.resolveDownloadURL(ctx, major)
	if err != nil {
		return "", err
	}
	p.logger.Info("downloading chromedriver",
		zap.String("version", version),
		zap.String("url", downloadURL),
	)

	archivePath := filepath.Join(p.cfg.DriverDir, "chromedriver.zip")
	if err := p.fetchArchive(ctx, downloadURL, archivePath); err != nil {
		return "", err
	}

	driverPath := filepath.Join(p.cfg.DriverDir, "chromedriver")
	if err := extractDriver(archivePath, driverPath); err != nil {
		return "", err
	}
	if err := os.Remove(archivePath); err != nil {
		p.logger.Warn("remove driver archive", zap.Error(err))
	}
	if err := os.Chmod(driverPath, 0o755); err != nil {
		return "", fmt.Errorf("chmod driver: %w", err)
	}

	// Smoke-test before handing the path to session construction.
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	out, err := p.runCommand(probeCtx, driverPath, "--version")
	if err != nil {
		return "", fmt.Errorf("verify downloaded driver: %w", err)
	}
	p.logger.Info("chromedriver verified", zap.String("version", strings.TrimSpace(string(out))))

	return driverPath, nil
}

// resolveDownloadURL picks the endpoint family by major version and falls back
// to known-good versions when the lookup endpoint misbehaves.
func (p *Provisioner) resolveDownloadURL(ctx context.Context, major int) (string, string, error) {
	if major >= newEndpointMajor {
		version := p.lookupVersion(ctx, fmt.Sprintf("%s/LATEST_RELEASE_%d", p.cfg.LookupBase, major))
		if version == "" {
			version = fallbackVersion(major)
			p.logger.Warn("version lookup failed, using fallback",
				zap.Int("major", major),
				zap.String("version", version),
			)
		}
		url := fmt.Sprintf("%s/%s/%s/chromedriver-%s.zip",
			p.cfg.StorageBase, version, platformSlug(), platformSlug())
		return url, version, nil
	}

	// Pre-115 majors have no fallback table; the legacy lookup must succeed.
	version := p.lookupVersion(ctx, fmt.Sprintf("%s/LATEST_RELEASE_%d", p.cfg.LegacyBase, major))
	if version == "" {
		return "", "", fmt.Errorf("no driver release found for legacy chrome %d", major)
	}
	url := fmt.Sprintf("%s/%s/chromedriver_linux64.zip", p.cfg.LegacyBase, version)
	return url, version, nil
}

func (p *Provisioner) lookupVersion(ctx context.Context, url string) string {
	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		p.logger.Warn("driver version lookup failed", zap.String("url", url), zap.Error(err))
		return ""
	}
	if !resp.IsSuccess() {
		p.logger.Warn("driver version lookup rejected",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode()),
		)
		return ""
	}
	return strings.TrimSpace(resp.String())
}

func fallbackVersion(major int) string {
	if version, ok := knownGoodVersions[major]; ok {
		return version
	}
	return fmt.Sprintf("%d.0.6000.0", major)
}

func (p *Provisioner) fetchArchive(ctx context.Context, url, dest string) error {
	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("download driver archive: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("driver archive endpoint returned status %d", resp.StatusCode())
	}
	if err := os.WriteFile(dest, resp.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write driver archive: %w", err)
	}
	return nil
}

// extractDriver finds the chromedriver executable at any depth inside the
// archive and writes it to driverPath.
func extractDriver(archivePath, driverPath string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open driver archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.FileInfo().IsDir() || filepath.Base(file.Name) != "chromedriver" {
			continue
		}
		src, err := file.Open()
		if err != nil {
			return fmt.Errorf("open archive entry: %w", err)
		}
		defer src.Close()

		dst, err := os.OpenFile(driverPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
		if err != nil {
			return fmt.Errorf("create driver file: %w", err)
		}
		defer dst.Close()

		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("extract driver: %w", err)
		}
		return nil
	}
	return fmt.Errorf("chromedriver executable not found in archive")
}
