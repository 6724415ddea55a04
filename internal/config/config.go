// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Job        Job
	Dir        Dir
	Storage    Storage
	DepManager DepManager
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"HOZON_APP_LOG_LEVEL" envDefault:"info"`
	// Downloader is "ytdlp", or "mock" to simulate downloads without any tool.
	Downloader string `env:"HOZON_APP_DOWNLOADER" envDefault:"ytdlp"`
}

// Job holds download session configuration.
type Job struct {
	Workers   int `env:"HOZON_JOB_WORKERS"    envDefault:"4"`
	QueueSize int `env:"HOZON_JOB_QUEUE_SIZE" envDefault:"100"`
	// PollInterval bounds one wait for a line of tool output.
	PollInterval time.Duration `env:"HOZON_JOB_POLL_INTERVAL" envDefault:"200ms"`
	// IdleTimeout terminates a fetch that printed nothing for this long. Zero disables it.
	IdleTimeout time.Duration `env:"HOZON_JOB_IDLE_TIMEOUT" envDefault:"30m"`
}

// Storage holds session snapshot retention configuration.
type Storage struct {
	TTL             time.Duration `env:"HOZON_STORAGE_TTL"              envDefault:"24h"`
	CleanupInterval time.Duration `env:"HOZON_STORAGE_CLEANUP_INTERVAL" envDefault:"1h"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"HOZON_HTTP_PORT"             envDefault:":8080"`
	HandlerTimeout  time.Duration `env:"HOZON_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"HOZON_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Dir holds directory paths for downloads, cache, and cookie file.
type Dir struct {
	// used when a request carries no destination folder
	Downloads string `env:"HOZON_DIR_DOWNLOAD" envDefault:"./data/downloads"`
	// yt-dlp cache (meta, sigs)
	Cache string `env:"HOZON_DIR_CACHE" envDefault:"./data/cache"`

	// must contain cookies.txt file
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"HOZON_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Downloads, err = filepath.Abs(c.Downloads); err != nil {
		return fmt.Errorf("downloads: %w", err)
	}

	if c.Cache, err = filepath.Abs(c.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where downloaded binaries are stored
	BinsDir string `env:"HOZON_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries looks binaries up in PATH instead of downloading them.
	UseSystemBinaries bool `env:"HOZON_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"false"`
	// YTdlpPath pins the yt-dlp executable and skips resolution for it.
	YTdlpPath string `env:"HOZON_DEPMANAGER_YTDLP_PATH" envDefault:""`

	// ffmpeg release archives per platform, ffmpeg and ffprobe are extracted from them.
	FFmpegLinuxARM64 string `env:"HOZON_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64 string `env:"HOZON_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll

	// yt-dlp binary URLs per platform.
	YTdlpLinuxARM64 string `env:"HOZON_DEPMANAGER_YTDLP_LINUX_ARM64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"` //nolint:lll
	YTdlpLinuxAMD64 string `env:"HOZON_DEPMANAGER_YTDLP_LINUX_AMD64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`         //nolint:lll
}

// SetAbsPaths converts the BinsDir and YTdlpPath paths to absolute paths.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	if d.YTdlpPath != "" {
		if d.YTdlpPath, err = filepath.Abs(d.YTdlpPath); err != nil {
			return fmt.Errorf("yt-dlp path: %w", err)
		}
	}

	return nil
}

// Proxy holds proxy configuration for tool invocations.
type Proxy struct {
	// List is a comma-separated list of proxy URLs in socks5h format
	List string `env:"HOZON_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"HOZON_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"HOZON_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the number of failures before a proxy is put into backoff
	MaxFailures int `env:"HOZON_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}
