package sos

import "errors"

// ErrMonitoringOff is returned by Simulate when voice monitoring is not
// enabled for the device.
var ErrMonitoringOff = errors.New("voice monitoring is not active")
