package main

import (
	"log"

	"github.com/litigio/comunicasync/internal/config"
)

// logConfigWarnings flags configuration combinations that degrade
// durability or visibility. None of these block startup.
func logConfigWarnings(cfg *config.Config) {
	if cfg.SweeperThreshold <= 0 {
		log.Println("WARNING [P0]: SWEEPER_THRESHOLD is not set. Runs abandoned by a " +
			"crashed instance will stay RUNNING forever and their schedules will " +
			"never fire again. Set SWEEPER_THRESHOLD above your longest expected run.")
	}

	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0. A degraded upstream " +
			"will be hammered at the full rate limit instead of being backed off.")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false. Run outcomes, rate-limit " +
			"deferrals and webhook delivery failures will not be observable.")
	}

	if cfg.RedisAddr == "" {
		log.Println("INFO: REDIS_ADDR not set. Per-schedule run analytics are disabled.")
	}
}
