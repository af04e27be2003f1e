// Package flowerpower is an MQTT subscription routing and pipeline
// dispatch core. It connects to an MQTT 5 broker, matches inbound
// messages against wildcard topic filters, and routes each match into a
// named pipeline, executed synchronously, enqueued to a background job
// queue, or chosen per message from its QoS level.
//
// The top-level entry point is the plugin package:
//
//	engine := pipeline.NewFuncEngine()
//	engine.Register("temperature", processTemperature)
//
//	p, _ := plugin.New(cfg, engine)
//	p.Connect(ctx)
//	p.Subscribe(ctx, "sensors/+/temperature", "temperature",
//	    subscription.QoSAtLeastOnce, subscription.ModeAsync)
//	p.StartListener(ctx, false)
//
// The core packages compose bottom-up:
//
//   - topic: MQTT topic filter compilation and matching (+, # wildcards)
//   - subscription: the registry mapping filters to pipelines
//   - dispatch: the router and the sync/async execution adapter
//   - pipeline: the execution engine interface and a function-backed
//     implementation
//   - jobqueue: background job queues (in-memory and NATS JetStream)
//   - stats: the statistics aggregator
//   - mqttclient: the MQTT 5 broker transport
//   - plugin: the lifecycle facade tying everything together
//
// The cmd/flowerpower-mqtt binary runs the whole stack as a daemon from
// a YAML configuration file, with prometheus metrics and health
// reporting on an HTTP port.
package flowerpower
