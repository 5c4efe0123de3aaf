package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyberinferno/linesink/config"
	"github.com/cyberinferno/linesink/forwarder"
	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/sink"
)

// BuildSink opens every configured output and returns them behind a single
// Serialized sink. Targets opened before a failure are closed again.
//
// Parameters:
//   - ctx: Context for connecting to remote targets
//   - outputs: Validated output configuration
//   - log: Logger for target diagnostics
//
// Returns:
//   - The shared sink to hand to the controller
//   - An error if any target cannot be opened
func BuildSink(ctx context.Context, outputs []config.Output, log logger.Logger) (*sink.Serialized, error) {
	if len(outputs) == 0 {
		return nil, errors.New("no outputs configured")
	}

	targets := make(sink.Fanout, 0, len(outputs))
	for i, o := range outputs {
		target, err := openOutput(ctx, o, log)
		if err != nil {
			_ = targets.Close()
			return nil, fmt.Errorf("outputs[%d] (%s): %w", i, o.Type, err)
		}

		log.Info("output opened", logger.Field{Key: "sink", Value: target.Name()})
		targets = append(targets, target)
	}

	if len(targets) == 1 {
		return sink.NewSerialized(targets[0]), nil
	}

	return sink.NewSerialized(targets), nil
}

func openOutput(ctx context.Context, o config.Output, log logger.Logger) (sink.Sink, error) {
	format, err := sink.ParseFormat(o.Format)
	if err != nil {
		return nil, err
	}

	switch o.Type {
	case config.OutputStdout:
		return sink.NewStdoutSink(format, o.AutoFlushEnabled()), nil

	case config.OutputFile:
		fs, err := sink.NewFileSink(o.Path, format, o.AutoFlushEnabled())
		if err != nil {
			return nil, err
		}
		return fs, nil

	case config.OutputRedis:
		rs, err := sink.DialRedisSink(ctx, o.Addr, sink.RedisOptions{
			Key:           o.Key,
			Batch:         o.Batch,
			FlushInterval: o.FlushInterval,
			Format:        format,
		})
		if err != nil {
			return nil, err
		}
		return rs, nil

	case config.OutputAMQP:
		as, err := sink.DialAMQPSink(o.URL, sink.AMQPOptions{
			Exchange:   o.Exchange,
			RoutingKey: o.Key,
			Format:     format,
		})
		if err != nil {
			return nil, err
		}
		return as, nil

	case config.OutputForward:
		client := forwarder.New(forwarder.DefaultConfig(o.Addr), log)
		client.OnStateChange(func(ev forwarder.StateEvent) {
			fields := []logger.Field{{Key: "forward_addr", Value: ev.Address}, {Key: "state", Value: ev.State.String()}}
			if ev.Error != nil {
				fields = append(fields, logger.Err(ev.Error))
			}
			log.Debug("forward state changed", fields...)
		})
		if err := client.Connect(); err != nil {
			// The client keeps redialing; records written meanwhile fail
			// and are counted as sink errors.
			log.Warn("forward target unreachable, retrying in background", logger.Field{Key: "forward_addr", Value: o.Addr}, logger.Err(err))
		}
		return sink.NewForwardSink(client, o.Addr, format), nil

	default:
		return nil, fmt.Errorf("unknown output type %q", o.Type)
	}
}
