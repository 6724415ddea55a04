// Package depmanager locates or installs the yt-dlp and ffmpeg executables.
package depmanager

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"hozon/internal/config"
	"hozon/internal/errs"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryYTdlp   BinaryName = "yt-dlp"
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
)

const (
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
	archAMD64       = "amd64"
)

const (
	downloadTimeout    = 10 * time.Minute
	filePermExecutable = 0o755
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Manager resolves the executables used by the downloader.
type Manager struct {
	log      *slog.Logger
	cfg      config.DepManager
	platform Platform
	client   *http.Client
	lookPath func(string) (string, error)

	mu       sync.RWMutex
	binPaths map[BinaryName]string
}

// New creates a new dependency manager for the running platform.
func New(log *slog.Logger, cfg *config.Config) *Manager {
	return &Manager{
		log:      log.With(slog.String("package", "depmanager")),
		cfg:      cfg.DepManager,
		platform: Platform{OS: runtime.GOOS, Arch: runtime.GOARCH},
		client:   &http.Client{Timeout: downloadTimeout},
		lookPath: exec.LookPath,
		binPaths: make(map[BinaryName]string),
	}
}

// Resolve makes the executables available, either from PATH or by installing
// the missing ones into the bins directory.
func (m *Manager) Resolve(ctx context.Context) error {
	if m.cfg.UseSystemBinaries {
		return m.SetSystemBinaries(ctx)
	}

	return m.InstallAll(ctx)
}

// SetSystemBinaries looks the executables up in PATH. A missing ffmpeg only
// disables merging and audio extraction, so it is not an error.
func (m *Manager) SetSystemBinaries(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, binary := range []BinaryName{BinaryYTdlp, BinaryFFmpeg} {
		if binary == BinaryYTdlp && m.cfg.YTdlpPath != "" {
			continue
		}

		path, err := m.lookPath(string(binary))
		if err != nil {
			if binary == BinaryFFmpeg {
				m.log.WarnContext(ctx, "ffmpeg not found in PATH", slog.Any("error", err))

				continue
			}

			return fmt.Errorf("%w: %s in PATH: %w", errs.ErrBinaryNotFound, binary, err)
		}

		m.binPaths[binary] = path
	}

	m.log.InfoContext(ctx, "using system binaries", slog.Any("binaries", m.binPaths))

	return nil
}

// InstallAll downloads the binaries that are not yet in the bins directory.
// Downloads run concurrently; the first failure cancels the others.
func (m *Manager) InstallAll(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.BinsDir, filePermExecutable); err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, binary := range []BinaryName{BinaryFFmpeg, BinaryYTdlp} {
		if binary == BinaryYTdlp && m.cfg.YTdlpPath != "" {
			continue
		}

		if m.isBinaryExists(binary) {
			m.setBinaryPath(binary, m.GetBinaryPath(binary))
			m.log.DebugContext(ctx, "binary already exists", slog.String("binary", string(binary)))

			continue
		}

		g.Go(func() error {
			if err := m.downloadAndInstall(gctx, binary); err != nil {
				return fmt.Errorf("install %s: %w", binary, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err //nolint:wrapcheck
	}

	m.log.InfoContext(ctx, "all binaries are installed", slog.Any("binaries", m.binPaths))

	return nil
}

// GetBinaryPath returns where name lives inside the bins directory.
func (m *Manager) GetBinaryPath(name BinaryName) string {
	filename := string(name)
	if m.platform.OS == platformWindows {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.BinsDir, filename)
}

// YTdlpPath returns the yt-dlp executable. The configured override wins.
func (m *Manager) YTdlpPath() string {
	if m.cfg.YTdlpPath != "" {
		return m.cfg.YTdlpPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if path := m.binPaths[BinaryYTdlp]; path != "" {
		return path
	}

	return string(BinaryYTdlp)
}

// FFmpegDir returns the directory holding ffmpeg, or "" when it is unknown.
func (m *Manager) FFmpegDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	path := m.binPaths[BinaryFFmpeg]
	if path == "" {
		return ""
	}

	return filepath.Dir(path)
}

func (m *Manager) isBinaryExists(name BinaryName) bool {
	info, err := os.Stat(m.GetBinaryPath(name))

	return err == nil && info.Size() > 0
}

func (m *Manager) setBinaryPath(name BinaryName, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.binPaths[name] = path
}

func (m *Manager) downloadAndInstall(ctx context.Context, name BinaryName) error {
	url := m.getBinaryURL(name)
	if url == "" {
		return fmt.Errorf("%w: no download url for %s on %s, use system binaries",
			errs.ErrUnsupportedPlatform, name, m.platform)
	}

	log := m.log.With(slog.String("binary", string(name)))
	log.InfoContext(ctx, "downloading binary", slog.String("url", url))

	installed, err := m.downloadDependency(ctx, url, name)
	if err != nil {
		return fmt.Errorf("download dependency: %w", err)
	}

	for binary, path := range installed {
		if err := os.Chmod(path, filePermExecutable); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}

		m.setBinaryPath(binary, path)
	}

	log.InfoContext(ctx, "binary installed", slog.Any("paths", installed))

	return nil
}

func (m *Manager) getBinaryURL(name BinaryName) string {
	switch name {
	case BinaryYTdlp:
		return m.selectURL(m.cfg.YTdlpLinuxARM64, m.cfg.YTdlpLinuxAMD64)
	case BinaryFFmpeg, BinaryFFprobe:
		return m.selectURL(m.cfg.FFmpegLinuxARM64, m.cfg.FFmpegLinuxAMD64)
	}

	return ""
}

func (m *Manager) selectURL(linuxARM64, linuxAMD64 string) string {
	if m.platform.OS != platformLinux {
		return ""
	}

	switch m.platform.Arch {
	case archARM64:
		return linuxARM64
	case archAMD64:
		return linuxAMD64
	}

	return ""
}

// downloadDependency fetches url into the bins directory and returns the installed files.
func (m *Manager) downloadDependency(ctx context.Context, url string, name BinaryName) (map[BinaryName]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp(m.cfg.BinsDir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if !strings.HasSuffix(url, ".tar.xz") {
		binPath := m.GetBinaryPath(name)
		if err := os.Rename(tmpPath, binPath); err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}

		return map[BinaryName]string{name: binPath}, nil
	}

	targets := map[string]BinaryName{}
	for _, b := range m.archiveMembers(name) {
		targets[filepath.Base(m.GetBinaryPath(b))] = b
	}

	installed, err := m.extractFromTarXZ(tmpPath, targets)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	return installed, nil
}

func (m *Manager) archiveMembers(name BinaryName) []BinaryName {
	if name == BinaryFFmpeg {
		return []BinaryName{BinaryFFmpeg, BinaryFFprobe}
	}

	return []BinaryName{name}
}

func (m *Manager) extractFromTarXZ(path string, targets map[string]BinaryName) (map[BinaryName]string, error) {
	file, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("open tar.xz: %w", err)
	}
	defer file.Close()

	xzReader, err := xz.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create xz reader: %w", err)
	}

	return m.extractTarSelected(xzReader, targets)
}

// extractTarSelected copies the regular files whose base name is in targets
// into the bins directory. Directory structure inside the archive is ignored.
func (m *Manager) extractTarSelected(r io.Reader, targets map[string]BinaryName) (map[BinaryName]string, error) {
	tarReader := tar.NewReader(r)
	installed := make(map[BinaryName]string, len(targets))

	for len(installed) < len(targets) {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		binary, ok := targets[filepath.Base(header.Name)]
		if !ok {
			continue
		}

		if _, done := installed[binary]; done {
			continue
		}

		destPath := m.GetBinaryPath(binary)

		if err := writeFile(destPath, tarReader); err != nil {
			return nil, err
		}

		installed[binary] = destPath
	}

	if len(installed) == 0 {
		return nil, errors.New("no target files found in tar archive")
	}

	return installed, nil
}

func writeFile(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable) //nolint:gosec
	if err != nil {
		return fmt.Errorf("create dest file: %w", err)
	}

	if _, err := io.Copy(out, r); err != nil { //nolint:gosec
		_ = out.Close()

		return fmt.Errorf("extract file: %w", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close dest file: %w", err)
	}

	return nil
}
