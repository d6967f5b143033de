package utils

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"time"

	errw "github.com/pkg/errors"
	"github.com/tidwall/jsonc"
)

const (
	DefaultPolicyPath       = "/etc/dbus-1/system.d/ble-provisioner.conf"
	DefaultInterpreter      = "python3"
	DefaultAdapter          = "hci0"
	DefaultBluetoothService = "bluetooth"
	DefaultReadyTimeout     = 5 * time.Second
	DefaultPackageTimeout   = 10 * time.Minute
	maxReadyTimeout         = 2 * time.Minute
)

var (
	// Can be overwritten via cli arguments.
	ConfigFilePath = "/etc/ble-provisioner.json"

	// DefaultGATTInterfaces are the bus interfaces a BLE client needs for
	// characteristic/descriptor access and object/property introspection.
	DefaultGATTInterfaces = []string{
		"org.bluez.GattCharacteristic1",
		"org.bluez.GattDescriptor1",
		"org.freedesktop.DBus.ObjectManager",
		"org.freedesktop.DBus.Properties",
	}

	// DefaultLinuxPackages are the bluetooth daemon, the stack library and
	// headers, and the distro's python bindings for the system bus.
	DefaultLinuxPackages = []string{"bluez", "libbluetooth-dev", "python3-dbus"}
	DefaultMacOSPackages = []string{"blueutil"}
	DefaultGroups        = []string{"bluetooth"}

	busNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)
	packageRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9+.@/_-]*$`)
	adapterRegex = regexp.MustCompile(`^hci[0-9]+$`)
	nameRegex    = regexp.MustCompile(`^[a-z_][a-z0-9_.-]*[$]?$`)
)

//nolint:recvcheck
type Tribool int

func (b Tribool) Get() bool {
	return b > 0
}

func (b Tribool) IsSet() bool {
	return b != 0
}

func (b Tribool) MarshalJSON() ([]byte, error) {
	if b == 1 {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

func (b *Tribool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*b = 1
	case "false":
		*b = -1
	default:
		*b = 0
	}
	return nil
}

// Config is the on-disk provisioning configuration. Every field is optional.
type Config struct {
	// The unprivileged account that will run the BLE client. Defaults to
	// $SUDO_USER, then the current user.
	User string `json:"user,omitempty"`
	// Interpreter binary (name or path) that receives network capabilities.
	Interpreter string `json:"interpreter,omitempty"`
	// Where the bus policy document is installed.
	PolicyPath string `json:"policy_path,omitempty"`
	// Strict policy adds an explicit root rule and a default deny.
	StrictPolicy Tribool `json:"strict_policy,omitempty"`

	Adapter          string `json:"adapter,omitempty"`
	BluetoothService string `json:"bluetooth_service,omitempty"`

	ReadyTimeout   Timeout `json:"ready_timeout,omitempty"`
	CommandTimeout Timeout `json:"command_timeout,omitempty"`
	PackageTimeout Timeout `json:"package_timeout,omitempty"`

	LinuxPackages  []string `json:"linux_packages,omitempty"`
	MacOSPackages  []string `json:"macos_packages,omitempty"`
	GATTInterfaces []string `json:"gatt_interfaces,omitempty"`
	Groups         []string `json:"groups,omitempty"`

	LockPath string `json:"lock_path,omitempty"`
}

// DefaultConfig returns a fresh copy of the default configuration, with the
// user left unresolved.
func DefaultConfig() Config {
	return Config{
		Interpreter:      DefaultInterpreter,
		PolicyPath:       DefaultPolicyPath,
		Adapter:          DefaultAdapter,
		BluetoothService: DefaultBluetoothService,
		ReadyTimeout:     Timeout(DefaultReadyTimeout),
		CommandTimeout:   Timeout(DefaultCommandTimeout),
		PackageTimeout:   Timeout(DefaultPackageTimeout),
		LinuxPackages:    slices.Clone(DefaultLinuxPackages),
		MacOSPackages:    slices.Clone(DefaultMacOSPackages),
		GATTInterfaces:   slices.Clone(DefaultGATTInterfaces),
		Groups:           slices.Clone(DefaultGroups),
		LockPath:         defaultLockPath(),
	}
}

func defaultLockPath() string {
	if runtime.GOOS == "linux" {
		return "/run/lock/ble-provisioner.pid"
	}
	return filepath.Join(os.TempDir(), "ble-provisioner.pid")
}

// LoadConfig reads the (json with comments) config at path and stacks it over
// DefaultConfig. A missing file is not an error. The returned config is always
// usable; the error lists every value that was rejected or corrected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	var errOut error

	//nolint:gosec
	jsonBytes, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			errOut = errors.Join(errOut, errw.Wrapf(err, "reading %s", path))
		}
	} else {
		fileCfg := DefaultConfig()
		if err := json.Unmarshal(jsonc.ToJSON(jsonBytes), &fileCfg); err != nil {
			errOut = errors.Join(errOut, errw.Wrapf(err, "parsing %s", path))
		} else {
			cfg = fileCfg
		}
	}

	validatedCfg, err := validateConfig(cfg)
	return validatedCfg, errors.Join(errOut, err)
}

// validateConfig enforces formats and limits, returning a "corrected" config and error(s) for each issue encountered.
func validateConfig(cfg Config) (Config, error) {
	var errOut error
	def := DefaultConfig()

	if cfg.User != "" && !nameRegex.MatchString(cfg.User) {
		errOut = errors.Join(errOut, errw.Errorf("user (%s) is not a valid account name, using the invoking user", cfg.User))
		cfg.User = ""
	}
	if cfg.User == "" {
		name, err := ResolveUser()
		if err != nil {
			errOut = errors.Join(errOut, err)
		}
		cfg.User = name
	}

	if cfg.Interpreter == "" {
		cfg.Interpreter = def.Interpreter
	}

	if cfg.PolicyPath == "" {
		cfg.PolicyPath = def.PolicyPath
	} else if !filepath.IsAbs(cfg.PolicyPath) {
		errOut = errors.Join(errOut, errw.Errorf("policy_path must be absolute (was: %s)", cfg.PolicyPath))
		cfg.PolicyPath = def.PolicyPath
	}

	if cfg.LockPath == "" {
		cfg.LockPath = def.LockPath
	} else if !filepath.IsAbs(cfg.LockPath) {
		errOut = errors.Join(errOut, errw.Errorf("lock_path must be absolute (was: %s)", cfg.LockPath))
		cfg.LockPath = def.LockPath
	}

	if !adapterRegex.MatchString(cfg.Adapter) {
		errOut = errors.Join(errOut, errw.Errorf("adapter must look like hci0 (was: %s)", cfg.Adapter))
		cfg.Adapter = def.Adapter
	}

	if cfg.BluetoothService == "" {
		cfg.BluetoothService = def.BluetoothService
	}

	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	} else if time.Duration(cfg.ReadyTimeout) > maxReadyTimeout {
		errOut = errors.Join(errOut, errw.Errorf("ready_timeout cannot be more than %s (was: %s)",
			maxReadyTimeout, time.Duration(cfg.ReadyTimeout)))
		cfg.ReadyTimeout = Timeout(maxReadyTimeout)
	}

	if time.Duration(cfg.CommandTimeout) < time.Second {
		if cfg.CommandTimeout != 0 {
			errOut = errors.Join(errOut, errw.New("command_timeout cannot be less than 1 second"))
		}
		cfg.CommandTimeout = def.CommandTimeout
	}

	if time.Duration(cfg.PackageTimeout) < time.Minute {
		if cfg.PackageTimeout != 0 {
			errOut = errors.Join(errOut, errw.New("package_timeout cannot be less than 1 minute"))
		}
		cfg.PackageTimeout = def.PackageTimeout
	}

	var err error
	cfg.LinuxPackages, err = filterValid("linux_packages", cfg.LinuxPackages, packageRegex, def.LinuxPackages)
	errOut = errors.Join(errOut, err)
	cfg.MacOSPackages, err = filterValid("macos_packages", cfg.MacOSPackages, packageRegex, def.MacOSPackages)
	errOut = errors.Join(errOut, err)
	cfg.GATTInterfaces, err = filterValid("gatt_interfaces", cfg.GATTInterfaces, busNameRegex, def.GATTInterfaces)
	errOut = errors.Join(errOut, err)
	cfg.Groups, err = filterValid("groups", cfg.Groups, nameRegex, nil)
	errOut = errors.Join(errOut, err)

	return cfg, errOut
}

// filterValid drops invalid and duplicate entries, falling back to def when nothing is left.
func filterValid(field string, values []string, re *regexp.Regexp, def []string) ([]string, error) {
	var errOut error
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !re.MatchString(v) {
			errOut = errors.Join(errOut, errw.Errorf("%s entry (%s) is invalid and will be ignored", field, v))
			continue
		}
		if slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 && def != nil {
		return slices.Clone(def), errOut
	}
	return out, errOut
}

// ResolveUser picks the account provisioning is for: the user that invoked
// sudo when there is one, otherwise the current user.
func ResolveUser() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" && sudoUser != "root" {
		return sudoUser, nil
	}
	cur, err := user.Current()
	if err != nil {
		return "", errw.Wrap(err, "looking up current user")
	}
	return cur.Username, nil
}

// Timeout allows parsing golang-style durations (1h20m30s) OR minutes-as-float from/to json.
type Timeout time.Duration

func (t Timeout) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(t).String())
}

func (t *Timeout) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*t = Timeout(value * float64(time.Minute))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*t = Timeout(tmp)
		return nil
	default:
		return errw.Errorf("invalid duration: %#v", v)
	}
}
