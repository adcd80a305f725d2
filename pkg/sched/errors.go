package sched

import "errors"

var errNoProcessingElements = errors.New("sched: host reports no processing elements")
