// Package notify delivers desktop notifications over freedesktop D-Bus,
// preferring notify-send and falling back to a raw gdbus call. Delivery is
// strictly best-effort: a host without a session bus just drops them.
package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	appName       = "vigil"
	maxTitleLen   = 180
	maxBodyLen    = 800
	execTimeout   = 1500 * time.Millisecond
	defaultExpiry = 8 * time.Second
)

// Config tunes the notifier.
type Config struct {
	// MinInterval is the per-key throttle: identical alert keys are
	// delivered at most once per interval.
	MinInterval time.Duration
	Expiry      time.Duration
	Logger      *zap.Logger
}

// DefaultConfig returns the stock notifier settings.
func DefaultConfig() *Config {
	return &Config{
		MinInterval: 60 * time.Second,
		Expiry:      defaultExpiry,
	}
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.Expiry == 0 {
		c.Expiry = d.Expiry
	}
}

// Notifier sends throttled desktop notifications. Safe for concurrent use.
type Notifier struct {
	cfg    *Config
	logger *zap.Logger

	// lookPath and run are injectable for tests.
	lookPath func(name string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a notifier.
func New(cfg *Config) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.SetDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		cfg:      cfg,
		logger:   logger.Named("notify"),
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			ctx, cancel := context.WithTimeout(ctx, execTimeout)
			defer cancel()
			return exec.CommandContext(ctx, name, args...).Run()
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports whether the key is outside its throttle window, consuming
// a token when it is.
func (n *Notifier) allow(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	lim, ok := n.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(n.cfg.MinInterval), 1)
		n.limiters[key] = lim
	}
	return lim.Allow()
}

// Notify sends one notification. It reports whether a backend ran; it never
// returns an error, monitoring must not die because the desktop is absent.
func (n *Notifier) Notify(ctx context.Context, title, body, key string) bool {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	if len(body) > maxBodyLen {
		body = body[:maxBodyLen]
	}
	if title == "" {
		title = strings.ToUpper(appName)
	}

	if key != "" && !n.allow(key) {
		return false
	}

	expiryMS := strconv.Itoa(int(n.cfg.Expiry / time.Millisecond))

	if _, err := n.lookPath("notify-send"); err == nil {
		err := n.run(ctx, "notify-send",
			"--app-name", appName,
			"--urgency", "critical",
			"--expire-time", expiryMS,
			title, body)
		if err != nil {
			n.logger.Debug("notify-send failed", zap.Error(err))
			return false
		}
		return true
	}

	if _, err := n.lookPath("gdbus"); err == nil {
		if !hasSessionBus() {
			return false
		}
		err := n.run(ctx, "gdbus", "call", "--session",
			"--dest", "org.freedesktop.Notifications",
			"--object-path", "/org/freedesktop/Notifications",
			"--method", "org.freedesktop.Notifications.Notify",
			appName, "0", "", title, body, "[]", "{}", expiryMS)
		if err != nil {
			n.logger.Debug("gdbus notify failed", zap.Error(err))
			return false
		}
		return true
	}

	return false
}

func hasSessionBus() bool {
	return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" || os.Getenv("XDG_RUNTIME_DIR") != ""
}

// BuildCritical renders the title, body and throttle key for a CRITICAL
// event.
func BuildCritical(code, entity, message string) (title, body, key string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	entity = strings.TrimSpace(entity)
	message = strings.TrimSpace(message)

	title = fmt.Sprintf("%s %s CRITICAL", strings.ToUpper(appName), code)
	switch {
	case entity != "" && message != "":
		body = entity + "\n" + message
	case entity != "":
		body = entity
	case message != "":
		body = message
	default:
		body = "(no message)"
	}
	key = code
	if entity != "" {
		key = code + "|" + entity
	}
	return title, body, key
}
