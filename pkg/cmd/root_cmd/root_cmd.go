package root_cmd

import (
	"context"

	"go.uber.org/atomic"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/api/logger"
)

type InitMode int

const (
	FailOnErrors InitMode = iota
	// IgnoreConfigErrors lets commands that can run from flags alone
	// start without a config file.
	IgnoreConfigErrors
)

type Params struct {
	Verbose    bool
	Silent     bool
	ConfigFile string
	IsCanceled *atomic.Bool
	CancelFunc context.CancelFunc
}

type RootCmd struct {
	Params *Params
	Logger logger.Logger
	Config *api.PipelineConfig
}

func (c *RootCmd) Init(mode InitMode) error {
	c.Logger = logger.New()
	cfg, err := api.ReadConfig(c.Params.ConfigFile)
	if err != nil {
		if mode == IgnoreConfigErrors {
			c.Config = &api.PipelineConfig{}
			return nil
		}
		return err
	}
	c.Config = cfg
	return nil
}
