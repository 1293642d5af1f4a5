package sdhost

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/arrowfield/sdhost/config"
	"github.com/arrowfield/sdhost/hwio"
	"github.com/arrowfield/sdhost/timebase"
	"github.com/arrowfield/sdhost/util"
)

type m = map[string]any

// Main builds a Control from config. When ctrl is nil a simulated
// controller is constructed from the card.* settings, which is the
// normal mode for a hosted build.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, ctrl hwio.Controller) (*Control, error) {
	ctx, cancel := context.WithCancel(context.Background())
	// Automatically cancel the context if Main returns an error, to free any goroutines using the context
	var err error
	defer func() {
		if err != nil {
			cancel()
		}
	}()

	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err = configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	clock := timebase.NewClock(timebase.SystemSource{})

	////////////////////////////////////////////////////////////////////////////////
	// All non system modifying configuration consumption should live above this line
	////////////////////////////////////////////////////////////////////////////////

	if !configTest {
		c.CatchHUP(ctx)

		if ctrl == nil {
			if image := c.GetString("card.image", ""); image != "" {
				ctrl, err = hwio.NewSimControllerFile(l, image)
				if err != nil {
					return nil, util.NewContextualError("Failed to open card image", m{"path": image}, err)
				}
			} else {
				ctrl = hwio.NewSimController(l, c.GetInt64("card.size", 8*1024*1024))
			}
		}
	}

	var eng *Engine
	if !configTest {
		eng, err = NewEngine(l, ctrl, c)
		if err != nil {
			return nil, util.NewContextualError("Failed to initialize host controller", nil, err)
		}
	}

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.NewContextualError("Failed to start stats emitter", nil, err)
	}

	if configTest {
		return nil, nil
	}

	var workload *Exerciser
	if c.GetBool("workload.enabled", false) {
		workload = NewExerciser(l, eng, c)
	}

	l.WithField("version", buildVersion).WithField("boot", clock.Now()).Info("Host controller ready")

	return &Control{
		eng:        eng,
		l:          l,
		ctx:        ctx,
		cancel:     cancel,
		statsStart: statsStart,
		workload:   workload,
		clock:      clock,
		done:       make(chan struct{}),
	}, nil
}
