// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Target    TargetConfig    `mapstructure:"target" yaml:"target"`
	Waits     WaitConfig      `mapstructure:"waits" yaml:"waits"`
	Workflow  WorkflowConfig  `mapstructure:"workflow" yaml:"workflow"`
	Fixtures  FixturesConfig  `mapstructure:"fixtures" yaml:"fixtures"`
	Scenarios ScenariosConfig `mapstructure:"scenarios" yaml:"scenarios"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser processes launched per session.
// Locale, Timezone and AcceptLanguage are emulated on every tab when set,
// e.g. "ja-JP", "Asia/Tokyo" and "ja,en;q=0.8".
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath       string        `mapstructure:"exec_path" yaml:"exec_path"`
	NoSandbox      bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	DisableDevShm  bool          `mapstructure:"disable_dev_shm" yaml:"disable_dev_shm"`
	WindowWidth    int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight   int           `mapstructure:"window_height" yaml:"window_height"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Locale         string        `mapstructure:"locale" yaml:"locale"`
	Timezone       string        `mapstructure:"timezone" yaml:"timezone"`
	AcceptLanguage string        `mapstructure:"accept_language" yaml:"accept_language"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Debug          bool          `mapstructure:"debug" yaml:"debug"`
}

// TargetConfig describes the UI contract of the application under test.
type TargetConfig struct {
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	LoginPath       string        `mapstructure:"login_path" yaml:"login_path"`
	LogoutPath      string        `mapstructure:"logout_path" yaml:"logout_path"`
	LandingMarker   string        `mapstructure:"landing_marker" yaml:"landing_marker"`
	CreatePath      string        `mapstructure:"create_path" yaml:"create_path"`
	PendingPath     string        `mapstructure:"pending_path" yaml:"pending_path"`
	IdentifierField string        `mapstructure:"identifier_field" yaml:"identifier_field"`
	SecretField     string        `mapstructure:"secret_field" yaml:"secret_field"`
	SubmitSelector  string        `mapstructure:"submit_selector" yaml:"submit_selector"`
	LogoutSelectors []string      `mapstructure:"logout_selectors" yaml:"logout_selectors"`
	RecordIDPattern string        `mapstructure:"record_id_pattern" yaml:"record_id_pattern"`
	Form            FormConfig    `mapstructure:"form" yaml:"form"`
	Pending         PendingConfig `mapstructure:"pending" yaml:"pending"`
}

// FormConfig names the fields of the record-creation form.
type FormConfig struct {
	TitleField       string `mapstructure:"title_field" yaml:"title_field"`
	DescriptionField string `mapstructure:"description_field" yaml:"description_field"`
	TypeField        string `mapstructure:"type_field" yaml:"type_field"`
	PriorityField    string `mapstructure:"priority_field" yaml:"priority_field"`
	DefaultType      string `mapstructure:"default_type" yaml:"default_type"`
	DefaultPriority  string `mapstructure:"default_priority" yaml:"default_priority"`
}

// PendingConfig holds the CSS selectors of the pending-items listing and its modal.
type PendingConfig struct {
	CardSelector    string `mapstructure:"card_selector" yaml:"card_selector"`
	TriggerSelector string `mapstructure:"trigger_selector" yaml:"trigger_selector"`
	ModalSelector   string `mapstructure:"modal_selector" yaml:"modal_selector"`
	CommentSelector string `mapstructure:"comment_selector" yaml:"comment_selector"`
	ConfirmSelector string `mapstructure:"confirm_selector" yaml:"confirm_selector"`
}

// WaitConfig is the wait policy shared by every session.
type WaitConfig struct {
	MaxWait       time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ClickSettle   time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
	FindRetries   int           `mapstructure:"find_retries" yaml:"find_retries"`
	FindInterval  time.Duration `mapstructure:"find_interval" yaml:"find_interval"`
	ModalWait     time.Duration `mapstructure:"modal_wait" yaml:"modal_wait"`
	PageLoadWait  time.Duration `mapstructure:"page_load_wait" yaml:"page_load_wait"`
	CreateRetries int           `mapstructure:"create_retries" yaml:"create_retries"`
}

// WorkflowConfig controls the scenario-level policies.
type WorkflowConfig struct {
	ApprovalComment        string `mapstructure:"approval_comment" yaml:"approval_comment"`
	AllowAnyFallback       bool   `mapstructure:"allow_any_fallback" yaml:"allow_any_fallback"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	ApproveLimit           int    `mapstructure:"approve_limit" yaml:"approve_limit"`
	LoginRetries           int    `mapstructure:"login_retries" yaml:"login_retries"`
	Parallelism            int    `mapstructure:"parallelism" yaml:"parallelism"`
	Strict                 bool   `mapstructure:"strict" yaml:"strict"`
}

// CredentialConfig is an actor as it appears in the configuration file.
type CredentialConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Identifier string `mapstructure:"identifier" yaml:"identifier"`
	Secret     string `mapstructure:"secret" yaml:"-"`
}

// OrganizationConfig groups the approvers and applicants of one organization.
type OrganizationConfig struct {
	Name       string             `mapstructure:"name" yaml:"name"`
	Approvers  []CredentialConfig `mapstructure:"approvers" yaml:"approvers"`
	Applicants []string           `mapstructure:"applicants" yaml:"applicants"`
}

// FixturesConfig is the static reference data used by the scenarios.
type FixturesConfig struct {
	DefaultSecret string               `mapstructure:"default_secret" yaml:"-"`
	Admin         CredentialConfig     `mapstructure:"admin" yaml:"admin"`
	Approvers     []CredentialConfig   `mapstructure:"approvers" yaml:"approvers"`
	Organizations []OrganizationConfig `mapstructure:"organizations" yaml:"organizations"`
}

// ScenariosConfig holds the per-scenario knobs.
type ScenariosConfig struct {
	Single   SingleScenarioConfig   `mapstructure:"single" yaml:"single"`
	Bulk     BulkScenarioConfig     `mapstructure:"bulk" yaml:"bulk"`
	MultiOrg MultiOrgScenarioConfig `mapstructure:"multi_org" yaml:"multi_org"`
}

// SingleScenarioConfig configures the create-then-approve-one scenario.
type SingleScenarioConfig struct {
	TitlePrefix string `mapstructure:"title_prefix" yaml:"title_prefix"`
}

// BulkScenarioConfig configures the bulk and multi-browser scenarios.
type BulkScenarioConfig struct {
	Count int `mapstructure:"count" yaml:"count"`
}

// MultiOrgScenarioConfig configures the multi-organization scenario.
type MultiOrgScenarioConfig struct {
	Organizations int   `mapstructure:"organizations" yaml:"organizations"`
	MinApplicants int   `mapstructure:"min_applicants" yaml:"min_applicants"`
	MaxApplicants int   `mapstructure:"max_applicants" yaml:"max_applicants"`
	Seed          int64 `mapstructure:"seed" yaml:"seed"`
}

// SecretFor returns the credential's secret, falling back to the fixture default.
func (f FixturesConfig) SecretFor(c CredentialConfig) string {
	if c.Secret != "" {
		return c.Secret
	}
	return f.DefaultSecret
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "approval-probe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.disable_dev_shm", true)
	v.SetDefault("browser.window_width", 1400)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.locale", "")
	v.SetDefault("browser.timezone", "")
	v.SetDefault("browser.accept_language", "")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.debug", false)

	// -- Target --
	v.SetDefault("target.base_url", "http://localhost:8080")
	v.SetDefault("target.login_path", "/login")
	v.SetDefault("target.logout_path", "/logout")
	v.SetDefault("target.landing_marker", "/dashboard")
	v.SetDefault("target.create_path", "/applications/create")
	v.SetDefault("target.pending_path", "/applications/my-approvals")
	v.SetDefault("target.identifier_field", "email")
	v.SetDefault("target.secret_field", "password")
	v.SetDefault("target.submit_selector", "//button[@type='submit']")
	v.SetDefault("target.logout_selectors", []string{
		"//a[contains(@href, 'logout')]",
		"//button[contains(text(), 'ログアウト')]",
		"//a[contains(text(), 'ログアウト')]",
		"//form[@action='/logout']//button",
		"//form[contains(@action, 'logout')]//*[@type='submit']",
	})
	v.SetDefault("target.record_id_pattern", `/applications/(\d+)`)
	v.SetDefault("target.form.title_field", "title")
	v.SetDefault("target.form.description_field", "description")
	v.SetDefault("target.form.type_field", "type")
	v.SetDefault("target.form.priority_field", "priority")
	v.SetDefault("target.form.default_type", "other")
	v.SetDefault("target.form.default_priority", "medium")
	v.SetDefault("target.pending.card_selector", ".card")
	v.SetDefault("target.pending.trigger_selector", "button[onclick*='approve']")
	v.SetDefault("target.pending.modal_selector", "#approvalModal")
	v.SetDefault("target.pending.comment_selector", "textarea[name='comment']")
	v.SetDefault("target.pending.confirm_selector", "#approvalSubmit")

	// -- Waits --
	v.SetDefault("waits.max_wait", "15s")
	v.SetDefault("waits.poll_interval", "250ms")
	v.SetDefault("waits.click_settle", "1500ms")
	v.SetDefault("waits.find_retries", 3)
	v.SetDefault("waits.find_interval", "1s")
	v.SetDefault("waits.modal_wait", "10s")
	v.SetDefault("waits.page_load_wait", "30s")
	v.SetDefault("waits.create_retries", 3)

	// -- Workflow --
	v.SetDefault("workflow.approval_comment", "approved by test")
	v.SetDefault("workflow.allow_any_fallback", false)
	v.SetDefault("workflow.max_consecutive_failures", 3)
	v.SetDefault("workflow.approve_limit", 100)
	v.SetDefault("workflow.login_retries", 1)
	v.SetDefault("workflow.parallelism", 1)
	v.SetDefault("workflow.strict", false)

	// -- Fixtures --
	v.SetDefault("fixtures.default_secret", "password")
	v.SetDefault("fixtures.admin.name", "admin")
	v.SetDefault("fixtures.admin.identifier", "admin@example.test")

	// -- Scenarios --
	v.SetDefault("scenarios.single.title_prefix", "T-")
	v.SetDefault("scenarios.bulk.count", 3)
	v.SetDefault("scenarios.multi_org.organizations", 3)
	v.SetDefault("scenarios.multi_org.min_applicants", 3)
	v.SetDefault("scenarios.multi_org.max_applicants", 5)
	v.SetDefault("scenarios.multi_org.seed", 0)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only ever read from the environment or the config file.
	v.BindEnv("fixtures.default_secret", "APPROVAL_PROBE_DEFAULT_SECRET")
	v.BindEnv("fixtures.admin.secret", "APPROVAL_PROBE_ADMIN_SECRET")
	v.BindEnv("target.base_url", "APPROVAL_PROBE_BASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("target configuration invalid: %w", err)
	}
	if err := c.Waits.Validate(); err != nil {
		return fmt.Errorf("waits configuration invalid: %w", err)
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive integers")
	}
	if c.Workflow.Parallelism <= 0 {
		return fmt.Errorf("workflow.parallelism must be a positive integer")
	}
	if c.Workflow.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("workflow.max_consecutive_failures must be a positive integer")
	}
	if c.Workflow.LoginRetries < 0 {
		return fmt.Errorf("workflow.login_retries must not be negative")
	}
	if c.Fixtures.Admin.Identifier == "" {
		return fmt.Errorf("fixtures.admin.identifier is required")
	}
	if err := c.Scenarios.MultiOrg.Validate(); err != nil {
		return fmt.Errorf("scenarios.multi_org configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the UI contract settings.
func (t *TargetConfig) Validate() error {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got %q", t.BaseURL)
	}
	if t.LoginPath == "" || t.LandingMarker == "" {
		return fmt.Errorf("login_path and landing_marker are required")
	}
	if t.IdentifierField == "" || t.SecretField == "" {
		return fmt.Errorf("identifier_field and secret_field are required")
	}
	if t.RecordIDPattern != "" {
		if _, err := regexp.Compile(t.RecordIDPattern); err != nil {
			return fmt.Errorf("record_id_pattern does not compile: %w", err)
		}
	}
	return nil
}

// Validate checks the wait policy.
func (w *WaitConfig) Validate() error {
	if w.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be a positive duration")
	}
	if w.PollInterval <= 0 || w.PollInterval > w.MaxWait {
		return fmt.Errorf("poll_interval must be positive and not exceed max_wait")
	}
	if w.FindRetries < 0 {
		return fmt.Errorf("find_retries must not be negative")
	}
	if w.FindInterval < 0 || w.ClickSettle < 0 {
		return fmt.Errorf("find_interval and click_settle must not be negative")
	}
	return nil
}

// Validate checks the MultiOrgScenarioConfig settings.
func (m *MultiOrgScenarioConfig) Validate() error {
	if m.Organizations <= 0 {
		return fmt.Errorf("organizations must be greater than 0")
	}
	if m.MinApplicants <= 0 || m.MaxApplicants < m.MinApplicants {
		return fmt.Errorf("min_applicants must be positive and not exceed max_applicants")
	}
	return nil
}

// URL joins a path onto the configured base URL.
func (t *TargetConfig) URL(path string) string {
	base, err := url.Parse(t.BaseURL)
	if err != nil {
		return t.BaseURL + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return t.BaseURL + path
	}
	return base.ResolveReference(ref).String()
}
