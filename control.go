package sdhost

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/arrowfield/sdhost/timebase"
)

// Control wraps a running Engine plus the services layered on top of
// it, exposing lifecycle management to the callers of Main.
type Control struct {
	eng        *Engine
	l          *logrus.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	statsStart func()
	workload   *Exerciser
	clock      *timebase.Clock
	done       chan struct{}
}

// Start brings the host online, this is a nonblocking call. To block use Control.ShutdownBlock()
func (c *Control) Start() {
	if c.statsStart != nil {
		go c.statsStart()
	}

	go func() {
		defer close(c.done)
		if c.workload != nil {
			c.workload.Run(c.ctx)
		} else {
			<-c.ctx.Done()
		}
	}()
}

// Stop signals the host to shutdown, returns after the shutdown is complete
func (c *Control) Stop() {
	c.cancel()
	<-c.done

	if err := c.eng.Close(); err != nil {
		c.l.WithError(err).Error("Close controller failed")
	}
	c.l.WithField("uptime", c.clock.Uptime()).Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals, calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	sig := rawSig.String()
	c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	c.Stop()
}

// Engine returns the engine behind this Control for direct command
// submission alongside any running workload.
func (c *Control) Engine() *Engine {
	return c.eng
}
