package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"FixedTime/pkg/kafka"
	"FixedTime/pkg/logger"
)

// Operator commands accepted on the commands topic.
const (
	CmdKillSwitch  = "killswitch"
	CmdStartWorker = "start_worker"
	CmdStopWorker  = "stop_worker"
	CmdResetDaily  = "reset_daily"
	CmdCalibrate   = "calibrate"
)

type ControlCommand struct {
	Cmd       string `json:"cmd"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Account   string `json:"account,omitempty"`
	Product   string `json:"product,omitempty"`
	Timeframe int    `json:"timeframe,omitempty"`

	Scores   []float64 `json:"scores,omitempty"`
	Outcomes []float64 `json:"outcomes,omitempty"`
}

// ControlHandler applies operator commands consumed from Kafka.
// Malformed commands are permanent failures and go straight to the DLQ.
type ControlHandler struct {
	topic string
	ops   *OpsService
	log   *logger.Logger
}

var _ kafka.MessageHandler = (*ControlHandler)(nil)

func NewControlHandler(topic string, ops *OpsService, log *logger.Logger) *ControlHandler {
	return &ControlHandler{topic: topic, ops: ops, log: log}
}

func (h *ControlHandler) Topic() string { return h.topic }

func (h *ControlHandler) Handle(_ context.Context, data []byte) error {
	var cmd ControlCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return kafka.Permanent(fmt.Errorf("decode command: %w", err))
	}
	h.log.Info("ops command received", logger.String("cmd", cmd.Cmd), logger.String("account", cmd.Account))

	switch cmd.Cmd {
	case CmdKillSwitch:
		if cmd.Enabled == nil {
			return kafka.Permanent(fmt.Errorf("%s: enabled is required", cmd.Cmd))
		}
		h.ops.SetKillSwitch(*cmd.Enabled, cmd.Reason)
		return nil
	case CmdResetDaily:
		h.ops.ResetDaily(cmd.Account)
		return nil
	case CmdStartWorker, CmdStopWorker:
		key, err := cmd.workerKey()
		if err != nil {
			return kafka.Permanent(err)
		}
		if cmd.Cmd == CmdStartWorker {
			err = h.ops.StartWorker(key)
		} else {
			err = h.ops.StopWorker(key)
		}
		if err != nil {
			// Bad keys and unknown workers will not get better on retry.
			return kafka.Permanent(err)
		}
		return nil
	case CmdCalibrate:
		if _, err := h.ops.Calibrate(cmd.Scores, cmd.Outcomes); err != nil {
			return kafka.Permanent(err)
		}
		return nil
	default:
		return kafka.Permanent(fmt.Errorf("unknown command %q", cmd.Cmd))
	}
}

func (c ControlCommand) workerKey() (WorkerKey, error) {
	if c.Account == "" || c.Product == "" {
		return WorkerKey{}, fmt.Errorf("%s: account and product are required", c.Cmd)
	}
	tf := c.Timeframe
	if tf == 0 {
		tf = 1
	}
	return WorkerKey{Account: c.Account, Product: c.Product, Timeframe: tf}, nil
}
