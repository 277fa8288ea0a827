package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env                       string // DEV (local; default), TEST, QA, PROD
		Build                     string
		Debug                     bool
		TestMode                  bool
		AppName                   string
		SecretKey                 string
		WorkDir                   string
		FrontendBaseURL           string
		TimeZone                  string
		PasswordResetTimeoutDelta time.Duration
		RollbarToken              string
		SendgridApiKey            string
		defaultFromEmail          string

		Server   ServerConfig
		Database DatabaseConfig
		CheckIn  CheckInConfig
	}

	ServerConfig struct {
		Host                   string
		Addr                   string
		DebugHost              string
		ShutdownTimeout        time.Duration
		SessionExpirationDelta time.Duration
		SessionCookieName      string
		SecureCookies          bool
		TrustedProxies         []*net.IPNet // X-Forwarded-For is only honoured from these
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	CheckInConfig struct {
		TrustedNetworks []*net.IPNet
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

// Location returns the time zone used to compute "today".
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// NewConfig loads the application configuration from the environment.
// Variables are prefixed by the env name, eg. DEV_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Rollbook")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:8000")
	v.SetDefault("timeZone", "")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server_host", "localhost")
	v.SetDefault("server_addr", ":8000")
	v.SetDefault("server_debugHost", "localhost:4000")
	v.SetDefault("server_shutdownTimeout", 5*time.Second)
	v.SetDefault("server_sessionExpirationDelta", 12*time.Hour)
	v.SetDefault("server_sessionCookieName", "rollbook_session")
	v.SetDefault("server_secureCookies", false)

	v.SetDefault("database_engine", "postgres")
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", 5432)
	v.SetDefault("database_name", "rollbook")
	v.SetDefault("database_user", "rollbook")
	v.SetDefault("database_password", "")
	v.SetDefault("database_adminUser", "")
	v.SetDefault("database_adminPassword", "")
	v.SetDefault("database_disableTLS", true)

	v.SetDefault("server_trustedProxies", "")
	v.SetDefault("checkin_trustedNetworks", "")

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		SecretKey:                 v.GetString("secretKey"),
		WorkDir:                   workDir,
		FrontendBaseURL:           strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		TimeZone:                  v.GetString("timeZone"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:                   v.GetString("server_host"),
			Addr:                   v.GetString("server_addr"),
			DebugHost:              v.GetString("server_debugHost"),
			ShutdownTimeout:        v.GetDuration("server_shutdownTimeout"),
			SessionExpirationDelta: v.GetDuration("server_sessionExpirationDelta"),
			SessionCookieName:      v.GetString("server_sessionCookieName"),
			SecureCookies:          v.GetBool("server_secureCookies"),
			TrustedProxies:         ParseNetworks(v.GetString("server_trustedProxies")),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database_engine"),
			Host:          v.GetString("database_host"),
			Port:          v.GetInt("database_port"),
			Name:          v.GetString("database_name"),
			User:          v.GetString("database_user"),
			Password:      v.GetString("database_password"),
			AdminUser:     v.GetString("database_adminUser"),
			AdminPassword: v.GetString("database_adminPassword"),
			DisableTLS:    v.GetBool("database_disableTLS"),
		},
		CheckIn: CheckInConfig{
			TrustedNetworks: ParseNetworks(v.GetString("checkin_trustedNetworks")),
		},
	}
}

// ParseNetworks parses a comma separated list of CIDRs, skipping invalid entries.
func ParseNetworks(s string) []*net.IPNet {
	var nets []*net.IPNet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		_, n, err := net.ParseCIDR(part)
		if err != nil {
			log.Printf("config: ignoring invalid network %q: %v", part, err)
			continue
		}
		nets = append(nets, n)
	}
	return nets
}
