package hostsim

import "errors"

var errUnknownCPU = errors.New("hostsim: unknown CPU identifier")
