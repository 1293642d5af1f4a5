package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"dario.cat/mergo"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// C holds the merged settings loaded from one or more yaml files. Keys are
// addressed with dotted paths ("host.clock_khz"); getters return the caller's
// default when a key is missing or malformed.
type C struct {
	path      string
	files     []string
	Settings  map[string]any
	callbacks []func(*C)
	l         *logrus.Logger
	reloadMu  sync.Mutex
}

func NewC(l *logrus.Logger) *C {
	return &C{
		Settings: make(map[string]any),
		l:        l,
	}
}

// Load reads every yaml file under path (a file or a directory) in lexical
// order, later files overriding earlier ones.
func (c *C) Load(path string) error {
	c.path = path
	c.files = c.files[:0]

	if err := c.resolve(path, true); err != nil {
		return err
	}
	if len(c.files) == 0 {
		return fmt.Errorf("no config files found at %s", path)
	}
	sort.Strings(c.files)

	return c.parse()
}

// LoadString parses raw yaml, replacing any previously loaded settings.
func (c *C) LoadString(raw string) error {
	if raw == "" {
		return errors.New("empty configuration")
	}

	var m map[string]any
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return err
	}
	c.Settings = m
	return nil
}

// RegisterReloadCallback stores a function to run after each successful
// reload. Callbacks should return quickly.
func (c *C) RegisterReloadCallback(f func(*C)) {
	c.callbacks = append(c.callbacks, f)
}

// CatchHUP reloads from the original Load path whenever SIGHUP arrives, until
// ctx is done.
func (c *C) CatchHUP(ctx context.Context) {
	if c.path == "" {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				close(ch)
				return
			case <-ch:
				c.l.Info("Caught HUP, reloading config")
				c.reload()
			}
		}
	}()
}

func (c *C) reload() {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	if err := c.Load(c.path); err != nil {
		c.l.WithField("config_path", c.path).WithError(err).Error("Reload failed, keeping old settings")
		return
	}
	for _, f := range c.callbacks {
		f(c)
	}
}

func (c *C) Get(k string) any {
	return c.get(k, c.Settings)
}

func (c *C) IsSet(k string) bool {
	return c.get(k, c.Settings) != nil
}

// GetString returns the string for k, or d when unset.
func (c *C) GetString(k, d string) string {
	r := c.Get(k)
	if r == nil {
		return d
	}
	return fmt.Sprintf("%v", r)
}

// GetInt returns the int for k, or d when unset or unparsable.
func (c *C) GetInt(k string, d int) int {
	r := c.GetString(k, strconv.Itoa(d))
	v, err := strconv.Atoi(r)
	if err != nil {
		return d
	}
	return v
}

// GetInt64 returns the int64 for k, or d when unset or unparsable.
func (c *C) GetInt64(k string, d int64) int64 {
	r := c.GetString(k, strconv.FormatInt(d, 10))
	v, err := strconv.ParseInt(r, 10, 64)
	if err != nil {
		return d
	}
	return v
}

// GetBool returns the bool for k, accepting y/yes/n/no spellings, or d.
func (c *C) GetBool(k string, d bool) bool {
	r := strings.ToLower(c.GetString(k, fmt.Sprintf("%v", d)))
	v, err := strconv.ParseBool(r)
	if err != nil {
		switch r {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		return d
	}
	return v
}

// GetDuration returns the duration for k, or d when unset or unparsable.
func (c *C) GetDuration(k string, d time.Duration) time.Duration {
	v, err := time.ParseDuration(c.GetString(k, ""))
	if err != nil {
		return d
	}
	return v
}

// GetStringSlice returns the string slice for k, or d.
func (c *C) GetStringSlice(k string, d []string) []string {
	r := c.Get(k)
	if r == nil {
		return d
	}

	rv, ok := r.([]any)
	if !ok {
		return d
	}

	v := make([]string, len(rv))
	for i := range rv {
		v[i] = fmt.Sprintf("%v", rv[i])
	}
	return v
}

func (c *C) get(k string, v any) any {
	for _, p := range strings.Split(k, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v, ok = m[p]
		if !ok {
			return nil
		}
	}
	return v
}

// direct marks the path the user handed us, versus files found while walking
// a directory; only the direct path may skip the yaml extension check.
func (c *C) resolve(path string, direct bool) error {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}

	if !fi.IsDir() {
		if ext := filepath.Ext(path); !direct && ext != ".yaml" && ext != ".yml" {
			return nil
		}
		ap, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		c.files = append(c.files, ap)
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("problem while reading directory %s: %w", path, err)
	}
	for _, entry := range entries {
		if err := c.resolve(filepath.Join(path, entry.Name()), false); err != nil {
			return err
		}
	}
	return nil
}

func (c *C) parse() error {
	var m map[string]any

	for _, path := range c.files {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var nm map[string]any
		if err := yaml.Unmarshal(b, &nm); err != nil {
			return err
		}

		// Later files win; appended slices let lists span files
		if err := mergo.Merge(&nm, m, mergo.WithAppendSlice); err != nil {
			return err
		}
		m = nm
	}

	c.Settings = m
	return nil
}
