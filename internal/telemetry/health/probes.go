package health

import (
	"context"
	"fmt"
)

// SerialPortProbe reports on the health of the serial link to the
// microcontroller. ping is a cheap liveness check supplied by the caller;
// it must not block for long.
func SerialPortProbe(name string, ping func(ctx context.Context) error) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		if err := ping(ctx); err != nil {
			return Unhealthy(name, fmt.Sprintf("serial link down: %v", err))
		}
		return Healthy(name)
	})
}

// PrintServerProbe reports whether a print-server bank member is reachable.
func PrintServerProbe(name string, status func(ctx context.Context) error) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		if err := status(ctx); err != nil {
			return Degraded(name, fmt.Sprintf("print-server unreachable: %v", err))
		}
		return Healthy(name)
	})
}

// ArmProbe reports whether the robot arm connection is live and not in an
// error/E-stop state.
func ArmProbe(name string, connected func() (bool, bool)) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		isConnected, inFault := connected()
		if inFault {
			return Unhealthy(name, "arm in emergency-stop or fault state")
		}
		if !isConnected {
			return Degraded(name, "arm not connected")
		}
		return Healthy(name)
	})
}
