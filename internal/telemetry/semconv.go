package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for bridge telemetry.
const (
	AttrEnvironment = attribute.Key("environment")
	AttrCommand     = attribute.Key("command")
	AttrStatus      = attribute.Key("status")
	AttrResult      = attribute.Key("result")
	AttrTransport   = attribute.Key("transport")
	AttrSymbol      = attribute.Key("symbol")
	AttrRetcode     = attribute.Key("retcode")
	AttrKind        = attribute.Key("indicator.kind")
)

// CommandAttributes returns attributes for command dispatch metrics.
func CommandAttributes(command, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrCommand.String(command),
		AttrStatus.String(status),
	}
}

// ConnectionAttributes returns attributes for connection attempt metrics.
func ConnectionAttributes(transport, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrTransport.String(transport),
		AttrResult.String(result),
	}
}
