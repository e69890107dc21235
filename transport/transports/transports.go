// Package transports imports every built-in transport so they register with
// the default registry. The binary imports it; libraries pick what they need.
package transports

import (
	// Side-effect registration.
	_ "github.com/drblury/soknadflow/transport/aws"
	_ "github.com/drblury/soknadflow/transport/channel"
	_ "github.com/drblury/soknadflow/transport/kafka"
	_ "github.com/drblury/soknadflow/transport/nats"
	_ "github.com/drblury/soknadflow/transport/rabbitmq"
)
