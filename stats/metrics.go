package stats

// SampleSystemLoad reads the current adjusted load average and swap usage
// percentage, for feeding WorkerThrottler.CalculateDynMax from outside this
// package (the scheduler's dynamic-cap hook). Errors from either probe are
// treated as "no signal" (zero), matching CalculateDynMax's own
// auto-disable-when-zero behavior.
func SampleSystemLoad() (load float64, swapPct int) {
	if l, err := getAdjustedLoad(); err == nil {
		load = l
	}
	if s, err := getSwapUsage(); err == nil {
		swapPct = s
	}
	return load, swapPct
}
