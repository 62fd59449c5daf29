package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bojiang/toy-tunnel/internal/vpn"
)

// Конечная структура конфигурации приложения.
type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`   // 0.0.0.0
		HTTPPort string `mapstructure:"http_port"` // 5000
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warning|error|fatal
		Format string `mapstructure:"format"` // text|json
		File   string `mapstructure:"file"`   // путь/префикс файла, пусто: только stdout
	} `mapstructure:"logs"`

	Database struct {
		Driver string `mapstructure:"driver"` // sqlite|postgres|mysql
		DSN    string `mapstructure:"dsn"`    // для sqlite: путь к файлу
	} `mapstructure:"database"`

	VPN struct {
		Network         string `mapstructure:"network"`           // 10.7.0.0/16
		Gateway         string `mapstructure:"gateway"`           // пусто: весь network
		ReservedIPCount int    `mapstructure:"reserved_ip_count"` // адресов перед первым клиентом
		ListenPort      int    `mapstructure:"listen_port"`
		Keepalive       int    `mapstructure:"keepalive"` // 0: не писать PersistentKeepalive
		ExternalIP      string `mapstructure:"external_ip"`
	} `mapstructure:"vpn"`

	Endpoint struct {
		DiscoveryURL string        `mapstructure:"discovery_url"` // пусто: без обнаружения
		Timeout      time.Duration `mapstructure:"timeout"`
	} `mapstructure:"endpoint"`

	WireGuard struct {
		Interface      string        `mapstructure:"interface"`
		ConfigDir      string        `mapstructure:"config_dir"`
		Keygen         string        `mapstructure:"keygen"` // native|wg
		CommandTimeout time.Duration `mapstructure:"command_timeout"`
	} `mapstructure:"wireguard"`

	Auth struct {
		Issuer      string `mapstructure:"issuer"`    // https://securetoken.google.com/<project>
		ClientID    string `mapstructure:"client_id"` // для Firebase: project id
		EmailSuffix string `mapstructure:"email_suffix"`
	} `mapstructure:"auth"`

	Enrollment struct {
		Silent bool `mapstructure:"silent"` // выдача по X-Real-IP без входа
	} `mapstructure:"enrollment"`
}

const (
	KeygenNative = "native"
	KeygenTool   = "wg"
)

var ifaceName = regexp.MustCompile(`^[a-zA-Z0-9_=+.-]{1,15}$`)

// Load читает конфиг из env/файла с дефолтами.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile как Load, но с явным путём к yaml. Пустой путь означает поиск по стандартным каталогам.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "5000")

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
	v.SetDefault("logs.file", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "run/users.db")

	v.SetDefault("vpn.network", "10.7.0.0/16")
	v.SetDefault("vpn.gateway", "")
	v.SetDefault("vpn.reserved_ip_count", 10)
	v.SetDefault("vpn.listen_port", 51820)
	v.SetDefault("vpn.keepalive", 25)
	v.SetDefault("vpn.external_ip", "")

	v.SetDefault("endpoint.discovery_url", "http://checkip.amazonaws.com")
	v.SetDefault("endpoint.timeout", 10*time.Second)

	v.SetDefault("wireguard.interface", "wg0")
	v.SetDefault("wireguard.config_dir", "/etc/wireguard")
	v.SetDefault("wireguard.keygen", KeygenNative)
	v.SetDefault("wireguard.command_timeout", 30*time.Second)

	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.email_suffix", "")

	v.SetDefault("enrollment.silent", false)

	// старые имена переменных окружения продолжают работать
	_ = v.BindEnv("vpn.external_ip", "VPN_EXTERNAL_IP", "EXTERNAL_IP")
	_ = v.BindEnv("vpn.reserved_ip_count", "VPN_RESERVED_IP_COUNT", "RESERVED_IP_COUNT")
	_ = v.BindEnv("auth.email_suffix", "AUTH_EMAIL_SUFFIX", "EMAIL_SUFFIX")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "toy-tunnel"))
		}
		v.AddConfigPath("/etc/toy-tunnel")
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Topology собирает и проверяет адресное пространство VPN.
func (c *Config) Topology() (*vpn.Topology, error) {
	return vpn.NewTopology(vpn.Options{
		Network:    c.VPN.Network,
		Gateway:    c.VPN.Gateway,
		Reserved:   c.VPN.ReservedIPCount,
		ListenPort: c.VPN.ListenPort,
		Keepalive:  c.VPN.Keepalive,
	})
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server.address must not be empty")
	}
	if strings.TrimSpace(c.Server.HTTPPort) == "" {
		return errors.New("server.http_port must not be empty")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver %q: want sqlite, postgres or mysql", c.Database.Driver)
	}
	if !ifaceName.MatchString(c.WireGuard.Interface) {
		return fmt.Errorf("wireguard.interface %q is not a valid interface name", c.WireGuard.Interface)
	}
	if strings.TrimSpace(c.WireGuard.ConfigDir) == "" {
		return errors.New("wireguard.config_dir must not be empty")
	}
	switch c.WireGuard.Keygen {
	case KeygenNative, KeygenTool:
	default:
		return fmt.Errorf("wireguard.keygen %q: want %s or %s", c.WireGuard.Keygen, KeygenNative, KeygenTool)
	}
	if c.WireGuard.CommandTimeout < 0 {
		return errors.New("wireguard.command_timeout must not be negative")
	}
	if c.Auth.Issuer != "" && c.Auth.ClientID == "" {
		return errors.New("auth.client_id must be set together with auth.issuer")
	}
	if _, err := c.Topology(); err != nil {
		return err
	}
	return nil
}
