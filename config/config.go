package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sjsage522/gridharvester/internal/filter"
	apperrors "sjsage522/gridharvester/pkg/errors"
)

// Config represents the application configuration
type Config struct {
	// Target page
	HarvestURL      string
	Filters         []filter.Dimension
	SearchButton    string
	ResultsTable    string
	RowSelector     string
	PagerSelector   string
	PageSizePattern string
	PageSize        string
	RaisePageSize   bool
	ResetPager      bool
	MaxFilters      int

	// Synchronization
	SettleTimeout time.Duration
	PollInterval  time.Duration

	// Browser
	BrowserBin      string
	BrowserProxy    string
	BrowserHeadless bool
	ViewportWidth   int
	ViewportHeight  int
	ScreenshotDir   string

	// Output
	Publisher            string
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamMaxLength int
	OutputFile           string

	// Memcache configuration
	MemcacheAddr  string
	CheckpointTTL time.Duration

	// Metrics endpoint, disabled when empty
	MetricsAddr string

	// Crawler configuration
	CrawlInterval time.Duration

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	filters := parseControls(getEnv("FILTER_CONTROLS", "state=#FormContentPlaceHolder_Panel_stateDropDownList"))
	filters = append(filters, parseFixed(getEnv("FIXED_FILTERS", "freelance=#FormContentPlaceHolder_Panel_freelanceDropDownList=1"))...)

	return &Config{
		HarvestURL:      getEnv("HARVEST_URL", "https://myaccount.rid.org/Public/Search/Member.aspx"),
		Filters:         filters,
		SearchButton:    getEnv("SEARCH_BUTTON", "#FormContentPlaceHolder_Panel_searchButtonStrip_searchButton"),
		ResultsTable:    getEnv("RESULTS_TABLE", "#FormContentPlaceHolder_Panel_resultsGrid"),
		RowSelector:     getEnv("ROW_SELECTOR", "tr.RowStyle"),
		PagerSelector:   getEnv("PAGER_SELECTOR", "tr.PagerStyle"),
		PageSizePattern: getEnv("PAGE_SIZE_PATTERN", `ctl00\$FormContentPlaceHolder\$Panel\$resultsGrid\$ctl\d+\$ctl\d+`),
		PageSize:        getEnv("PAGE_SIZE", ""),
		RaisePageSize:   getEnvBool("RAISE_PAGE_SIZE", true),
		ResetPager:      getEnvBool("RESET_PAGER", false),
		MaxFilters:      getEnvInt("MAX_FILTERS", 0),

		SettleTimeout: time.Duration(getEnvInt("SETTLE_TIMEOUT_SECONDS", 30)) * time.Second,
		PollInterval:  time.Duration(getEnvInt("POLL_INTERVAL_MS", 0)) * time.Millisecond,

		BrowserBin:      getEnv("BROWSER_BIN", ""),
		BrowserProxy:    getEnv("BROWSER_PROXY", ""),
		BrowserHeadless: getEnvBool("BROWSER_HEADLESS", true),
		ViewportWidth:   getEnvInt("VIEWPORT_WIDTH", 1280),
		ViewportHeight:  getEnvInt("VIEWPORT_HEIGHT", 900),
		ScreenshotDir:   getEnv("SCREENSHOT_DIR", ""),

		Publisher:            getEnv("PUBLISHER", "redis"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisStream:          getEnv("REDIS_STREAM", "harvest"),
		RedisStreamMaxLength: getEnvInt("REDIS_STREAM_MAX_LENGTH", 100000),
		OutputFile:           getEnv("OUTPUT_FILE", "harvest.jsonl"),

		MemcacheAddr:  getEnv("MEMCACHE_ADDR", ""),
		CheckpointTTL: time.Duration(getEnvInt("CHECKPOINT_TTL_HOURS", 24)) * time.Hour,

		MetricsAddr: getEnv("METRICS_ADDR", ""),

		CrawlInterval: time.Duration(getEnvInt("CRAWL_INTERVAL_SECONDS", 0)) * time.Second,
		Environment:   getEnv("HARVEST_ENVIRONMENT", "development"),
	}
}

// Validate rejects configurations the harvester cannot run with
func (c *Config) Validate() error {
	u, err := url.Parse(c.HarvestURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperrors.NewConfiguration(fmt.Sprintf("HARVEST_URL %q is not an absolute URL", c.HarvestURL), err)
	}

	enumerated := 0
	for _, f := range c.Filters {
		if f.Name == "" || f.Control == "" {
			return apperrors.NewConfiguration(fmt.Sprintf("filter %q needs a name and a selector", f.Name), nil)
		}
		if f.Fixed == "" {
			enumerated++
		}
	}
	if enumerated == 0 {
		return apperrors.NewConfiguration("FILTER_CONTROLS names no filter control", nil)
	}

	if c.SearchButton == "" || c.ResultsTable == "" || c.RowSelector == "" {
		return apperrors.NewConfiguration("SEARCH_BUTTON, RESULTS_TABLE and ROW_SELECTOR are required", nil)
	}
	if c.PageSizePattern != "" {
		if _, err := regexp.Compile(c.PageSizePattern); err != nil {
			return apperrors.NewConfiguration("PAGE_SIZE_PATTERN is not a valid regular expression", err)
		}
	}
	if c.MaxFilters < 0 {
		return apperrors.NewConfiguration("MAX_FILTERS must not be negative", nil)
	}
	if c.SettleTimeout <= 0 {
		return apperrors.NewConfiguration("SETTLE_TIMEOUT_SECONDS must be positive", nil)
	}
	if c.PollInterval < 0 {
		return apperrors.NewConfiguration("POLL_INTERVAL_MS must not be negative", nil)
	}

	switch c.Publisher {
	case "redis":
		if c.RedisAddr == "" || c.RedisStream == "" {
			return apperrors.NewConfiguration("REDIS_ADDR and REDIS_STREAM are required for the redis publisher", nil)
		}
	case "file":
		if c.OutputFile == "" {
			return apperrors.NewConfiguration("OUTPUT_FILE is required for the file publisher", nil)
		}
	default:
		return apperrors.NewConfiguration(fmt.Sprintf("unknown PUBLISHER %q", c.Publisher), nil)
	}

	if c.CrawlInterval < 0 {
		return apperrors.NewConfiguration("CRAWL_INTERVAL_SECONDS must not be negative", nil)
	}
	return nil
}

// parseControls parses "name=selector,name=selector"
func parseControls(s string) []filter.Dimension {
	var dims []filter.Dimension
	for _, part := range splitList(s) {
		name, selector, _ := strings.Cut(part, "=")
		dims = append(dims, filter.Dimension{
			Name:    strings.TrimSpace(name),
			Control: strings.TrimSpace(selector),
		})
	}
	return dims
}

// parseFixed parses "name=selector=value,..."; the value follows the last "="
func parseFixed(s string) []filter.Dimension {
	var dims []filter.Dimension
	for _, part := range splitList(s) {
		name, rest, _ := strings.Cut(part, "=")
		i := strings.LastIndex(rest, "=")
		if i < 0 {
			dims = append(dims, filter.Dimension{Name: strings.TrimSpace(name), Control: strings.TrimSpace(rest)})
			continue
		}
		dims = append(dims, filter.Dimension{
			Name:    strings.TrimSpace(name),
			Control: strings.TrimSpace(rest[:i]),
			Fixed:   strings.TrimSpace(rest[i+1:]),
		})
	}
	return dims
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return b
}
